package authz

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/events"
)

// recordingCache tracks invalidations so tests can assert cache coherency.
type recordingCache struct {
	roleInvalidations      []int64
	principalInvalidations []int64
}

func (c *recordingCache) Get(context.Context, int64) (*CachedGrant, bool) { return nil, false }
func (c *recordingCache) Put(context.Context, int64, *CachedGrant)        {}

func (c *recordingCache) Invalidate(_ context.Context, roleID int64) error {
	c.roleInvalidations = append(c.roleInvalidations, roleID)
	return nil
}

func (c *recordingCache) InvalidatePrincipal(_ context.Context, principalID int64) error {
	c.principalInvalidations = append(c.principalInvalidations, principalID)
	return nil
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *recordingCache, *[]events.SecurityEvent) {
	t.Helper()
	store, mock := newTestStore(t)

	cache := &recordingCache{}
	var published []events.SecurityEvent
	bus := events.NewBus(nil)
	for _, kind := range []audit.Event{
		audit.EventRoleAssigned, audit.EventRoleRemoved,
		audit.EventPermissionGranted, audit.EventPermissionRevoked,
		audit.EventStatusChanged,
	} {
		require.NoError(t, bus.Subscribe(kind, func(_ context.Context, ev events.SecurityEvent) error {
			published = append(published, ev)
			return nil
		}))
	}
	bus.Seal()

	registry := testRegistry()
	return NewService(store, registry, cache, bus, nil, nil), mock, cache, &published
}

func TestService_CreateRole_NameRequired(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.CreateRole(context.Background(), &Role{})
	require.ErrorIs(t, err, ErrInvariant)
}

func TestService_CreateRole_DuplicateName(t *testing.T) {
	svc, mock, _, _ := newTestService(t)

	mock.ExpectQuery("SELECT id, name, display_name").
		WithArgs("viewer").
		WillReturnRows(roleRow(4, "viewer", 10))

	err := svc.CreateRole(context.Background(), &Role{Name: "viewer"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestService_UpdateRole_SuperAdminRename(t *testing.T) {
	svc, mock, _, _ := newTestService(t)

	mock.ExpectQuery("SELECT id, name, display_name").
		WithArgs(int64(1)).
		WillReturnRows(roleRow(1, RoleSuperAdmin, 100))

	err := svc.UpdateRole(context.Background(), &Role{ID: 1, Name: "renamed"})
	require.ErrorIs(t, err, ErrInvariant)
}

func TestService_DeleteRole_SuperAdminProtected(t *testing.T) {
	svc, mock, _, _ := newTestService(t)

	mock.ExpectQuery("SELECT id, name, display_name").
		WithArgs(int64(1)).
		WillReturnRows(roleRow(1, RoleSuperAdmin, 100))

	err := svc.DeleteRole(context.Background(), 1)
	require.ErrorIs(t, err, ErrInvariant)
	assert.Contains(t, err.Error(), "cannot be deleted")
}

func TestService_DeleteRole_StillAssigned(t *testing.T) {
	svc, mock, _, _ := newTestService(t)

	mock.ExpectQuery("SELECT id, name, display_name").
		WithArgs(int64(4)).
		WillReturnRows(roleRow(4, "viewer", 10))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM principal_roles WHERE role_id = $1`)).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	err := svc.DeleteRole(context.Background(), 4)
	require.ErrorIs(t, err, ErrInvariant)
	assert.Contains(t, err.Error(), "assigned to 2 principals")
}

func TestService_DeleteRole_InvalidatesCache(t *testing.T) {
	svc, mock, cache, _ := newTestService(t)

	mock.ExpectQuery("SELECT id, name, display_name").
		WithArgs(int64(4)).
		WillReturnRows(roleRow(4, "viewer", 10))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM principal_roles WHERE role_id = $1`)).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM roles WHERE id = $1`)).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.DeleteRole(context.Background(), 4))
	assert.Equal(t, []int64{4}, cache.roleInvalidations)
}

func TestService_GrantPermission_Unregistered(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.GrantPermission(context.Background(), 3, Perm("users", "frobnicate"))
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "not registered")
}

func TestService_GrantPermission_PublishesEvent(t *testing.T) {
	svc, mock, cache, published := newTestService(t)

	mock.ExpectQuery("SELECT id, name, display_name").
		WithArgs(int64(3)).
		WillReturnRows(roleRow(3, "manager", 50))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM permissions WHERE name = $1`)).
		WithArgs("users.view").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM roles WHERE id = $1`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("INSERT INTO role_permissions").
		WithArgs(int64(3), int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.GrantPermission(context.Background(), 3, Perm("users", "view")))

	assert.Equal(t, []int64{3}, cache.roleInvalidations)
	require.Len(t, *published, 1)
	ev, ok := (*published)[0].(events.PermissionGranted)
	require.True(t, ok)
	assert.Equal(t, int64(3), ev.RoleID)
	assert.Equal(t, "manager", ev.RoleName)
	assert.Equal(t, "users.view", ev.Permission)
}

func TestService_GrantPermission_HandlerFailureSurfaces(t *testing.T) {
	store, mock := newTestStore(t)
	bus := events.NewBus(nil)
	require.NoError(t, bus.Subscribe(audit.EventPermissionGranted, func(context.Context, events.SecurityEvent) error {
		return assert.AnError
	}))
	bus.Seal()
	svc := NewService(store, testRegistry(), nil, bus, nil, nil)

	mock.ExpectQuery("SELECT id, name, display_name").
		WithArgs(int64(3)).
		WillReturnRows(roleRow(3, "manager", 50))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM permissions WHERE name = $1`)).
		WithArgs("users.view").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM roles WHERE id = $1`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("INSERT INTO role_permissions").
		WithArgs(int64(3), int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.GrantPermission(context.Background(), 3, Perm("users", "view"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not fully recorded")
}

func TestService_AssignRole(t *testing.T) {
	svc, mock, cache, published := newTestService(t)

	mock.ExpectQuery("SELECT id, name, display_name").
		WithArgs(int64(4)).
		WillReturnRows(roleRow(4, "viewer", 10))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM principals WHERE id = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM roles WHERE id = $1`)).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	granter := int64(9)
	mock.ExpectExec("INSERT INTO principal_roles").
		WithArgs(int64(1), int64(4), granter, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.AssignRole(context.Background(), 1, 4, &granter))

	assert.Equal(t, []int64{1}, cache.principalInvalidations)
	require.Len(t, *published, 1)
	ev, ok := (*published)[0].(events.RoleAssigned)
	require.True(t, ok)
	assert.Equal(t, int64(1), ev.PrincipalID)
	assert.Equal(t, "viewer", ev.RoleName)
}

func TestService_SetPrincipalActive(t *testing.T) {
	svc, mock, cache, published := newTestService(t)

	mock.ExpectExec("UPDATE principals SET active").
		WithArgs(false, sqlmock.AnyArg(), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.SetPrincipalActive(context.Background(), 1, false))

	assert.Equal(t, []int64{1}, cache.principalInvalidations)
	require.Len(t, *published, 1)
	ev, ok := (*published)[0].(events.StatusChanged)
	require.True(t, ok)
	assert.False(t, ev.Active)
}
