package events

import (
	"context"
	"fmt"
	"strconv"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/identity"
)

// classification fixes the severity and tag set for one event kind.
type classification struct {
	severity audit.Severity
	tags     []string
}

var classifications = map[audit.Event]classification{
	audit.EventLogin:              {audit.SeverityInfo, []string{"authentication", "security"}},
	audit.EventLogout:             {audit.SeverityInfo, []string{"authentication"}},
	audit.EventLoginFailed:        {audit.SeverityWarning, []string{"authentication", "failed_login", "security"}},
	audit.EventPasswordChanged:    {audit.SeverityWarning, []string{"authentication", "credentials", "security"}},
	audit.EventRoleAssigned:       {audit.SeverityCritical, []string{"authorization", "rbac", "security"}},
	audit.EventRoleRemoved:        {audit.SeverityCritical, []string{"authorization", "rbac", "security"}},
	audit.EventPermissionGranted:  {audit.SeverityCritical, []string{"authorization", "rbac", "security"}},
	audit.EventPermissionRevoked:  {audit.SeverityCritical, []string{"authorization", "rbac", "security"}},
	audit.EventStatusChanged:      {audit.SeverityWarning, []string{"account", "security"}},
	audit.EventSuspiciousActivity: {audit.SeverityCritical, []string{"security", "anomaly"}},
	audit.EventDataExported:       {audit.SeverityWarning, []string{"export", "compliance"}},
	audit.EventBulkOperation:      {audit.SeverityWarning, []string{"bulk", "compliance"}},
}

// RegisterAuditHandlers installs the built-in handler for every security
// event kind: translate the event into an audit entry with its fixed
// severity and tags, then seal the bus.
func RegisterAuditHandlers(bus *Bus, recorder audit.Recorder) error {
	for kind := range classifications {
		kind := kind
		err := bus.Subscribe(kind, func(ctx context.Context, ev SecurityEvent) error {
			_, err := recorder.Record(ctx, buildInput(ctx, ev))
			return err
		})
		if err != nil {
			return err
		}
	}
	bus.Seal()
	return nil
}

// buildInput translates a security event into an audit input. The actor and
// request metadata come from context; the subject comes from the event.
func buildInput(ctx context.Context, ev SecurityEvent) audit.Input {
	class := classifications[ev.Kind()]
	in := audit.Input{
		Event:    ev.Kind(),
		Severity: class.severity,
		Tags:     class.tags,
		Metadata: audit.ContextMetadata(identity.RequestContextFrom(ctx)),
	}
	if actorID, ok := identity.PrincipalFromContext(ctx); ok {
		in.ActorID = &actorID
	}

	switch e := ev.(type) {
	case Login:
		in.SubjectType = "principal"
		in.SubjectID = formatID(e.PrincipalID)
		in.Description = fmt.Sprintf("principal %s logged in", e.Email)
	case Logout:
		in.SubjectType = "principal"
		in.SubjectID = formatID(e.PrincipalID)
		in.Description = "principal logged out"
	case LoginFailed:
		in.Description = fmt.Sprintf("failed login for %s: %s", e.Email, e.Reason)
		in.Metadata = withMeta(in.Metadata, "email", e.Email)
	case PasswordChanged:
		in.SubjectType = "principal"
		in.SubjectID = formatID(e.PrincipalID)
		in.Description = "password changed"
	case RoleAssigned:
		in.SubjectType = "principal"
		in.SubjectID = formatID(e.PrincipalID)
		in.Description = fmt.Sprintf("role %s assigned", e.RoleName)
		in.NewValues = map[string]any{"role": e.RoleName}
	case RoleRemoved:
		in.SubjectType = "principal"
		in.SubjectID = formatID(e.PrincipalID)
		in.Description = fmt.Sprintf("role %s removed", e.RoleName)
		in.OldValues = map[string]any{"role": e.RoleName}
	case PermissionGranted:
		in.SubjectType = "role"
		in.SubjectID = formatID(e.RoleID)
		in.Description = fmt.Sprintf("permission %s granted to role %s", e.Permission, e.RoleName)
		in.NewValues = map[string]any{"permission": e.Permission}
	case PermissionRevoked:
		in.SubjectType = "role"
		in.SubjectID = formatID(e.RoleID)
		in.Description = fmt.Sprintf("permission %s revoked from role %s", e.Permission, e.RoleName)
		in.OldValues = map[string]any{"permission": e.Permission}
	case StatusChanged:
		in.SubjectType = "principal"
		in.SubjectID = formatID(e.PrincipalID)
		if e.Active {
			in.Description = "principal activated"
		} else {
			in.Description = "principal deactivated"
		}
		in.NewValues = map[string]any{"active": e.Active}
	case SuspiciousActivity:
		in.Description = e.Description
		if e.PrincipalID != nil {
			in.SubjectType = "principal"
			in.SubjectID = formatID(*e.PrincipalID)
		}
	case DataExported:
		in.Description = fmt.Sprintf("%s exported as %s", e.Resource, e.Format)
		in.Metadata = withMeta(in.Metadata, "resource", e.Resource)
		in.Metadata = withMeta(in.Metadata, "format", e.Format)
		in.Metadata = withMeta(in.Metadata, "rows", e.Rows)
	case BulkOperation:
		in.Description = fmt.Sprintf("bulk %s on %s", e.Action, e.Resource)
		in.Metadata = withMeta(in.Metadata, "resource", e.Resource)
		in.Metadata = withMeta(in.Metadata, "affected", e.Affected)
	}
	return in
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func withMeta(meta map[string]any, key string, value any) map[string]any {
	if meta == nil {
		meta = make(map[string]any)
	}
	meta[key] = value
	return meta
}
