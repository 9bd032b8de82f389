package authz

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, "postgres"), mock
}

func roleColumns() []string {
	return []string{"id", "name", "display_name", "description", "guard", "level", "active", "created_at", "updated_at"}
}

func roleRow(id int64, name string, level int) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(roleColumns()).
		AddRow(id, name, name, "", GuardWeb, level, true, now, now)
}

func TestStore_GetRole(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT id, name, display_name, description, guard, level, active, created_at, updated_at").
		WithArgs(int64(7)).
		WillReturnRows(roleRow(7, RoleViewer, 10))

	role, err := store.GetRole(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), role.ID)
	assert.Equal(t, RoleViewer, role.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetRole_NotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT id, name, display_name").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(roleColumns()))

	_, err := store.GetRole(context.Background(), 99)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreateRole(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO roles").
		WithArgs("auditor", "Auditor", "", GuardWeb, 20, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	role := &Role{Name: "auditor", DisplayName: "Auditor", Level: 20, Active: true}
	require.NoError(t, store.CreateRole(context.Background(), role))
	assert.Equal(t, int64(3), role.ID)
	assert.Equal(t, GuardWeb, role.Guard, "empty guard defaults to web")
	assert.False(t, role.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteRole_NotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM roles WHERE id = $1`)).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteRole(context.Background(), 5)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AssignPermission(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM permissions WHERE name = $1`)).
		WithArgs("users.view").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM roles WHERE id = $1`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("INSERT INTO role_permissions").
		WithArgs(int64(3), int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.AssignPermission(context.Background(), 3, Perm("users", "view")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AssignPermission_UnknownPermission(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM permissions WHERE name = $1`)).
		WithArgs("users.frobnicate").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := store.AssignPermission(context.Background(), 3, Perm("users", "frobnicate"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AssignRole_UnknownPrincipal(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM principals WHERE id = $1`)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	err := store.AssignRole(context.Background(), 42, 3, nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PermissionsOf(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT DISTINCT p.name").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).
			AddRow("files.view").
			AddRow("users.view"))

	perms, err := store.PermissionsOf(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []Permission{"files.view", "users.view"}, perms)
}

func TestStore_AssignedCount(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM principal_roles WHERE role_id = $1`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	count, err := store.AssignedCount(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestStore_GetPrincipal(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, username, email, active, department_id").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "username", "email", "active", "department_id", "created_at", "updated_at"},
		).AddRow(int64(1), "alice", "alice@example.com", true, int64(3), now, now))

	p, err := store.GetPrincipal(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)
	require.NotNil(t, p.DepartmentID)
	assert.Equal(t, int64(3), *p.DepartmentID)
}

func TestSchemaStatements_DriverDialects(t *testing.T) {
	pg := schemaStatements("postgres")
	require.NotEmpty(t, pg)
	assert.Contains(t, pg[0], "BIGSERIAL")

	sqlite := schemaStatements("sqlite3")
	assert.Contains(t, sqlite[0], "AUTOINCREMENT")
}
