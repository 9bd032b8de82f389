package audit

import (
	"fmt"
	"time"
)

// Event classifies an audit entry.
type Event string

const (
	// Entity lifecycle events
	EventCreated Event = "created"
	EventUpdated Event = "updated"
	EventDeleted Event = "deleted"

	// Authentication events
	EventLogin           Event = "login"
	EventLogout          Event = "logout"
	EventLoginFailed     Event = "login_failed"
	EventPasswordChanged Event = "password_changed"

	// Authorization events
	EventRoleAssigned      Event = "role_assigned"
	EventRoleRemoved       Event = "role_removed"
	EventPermissionGranted Event = "permission_granted"
	EventPermissionRevoked Event = "permission_revoked"

	// Account and compliance events
	EventStatusChanged      Event = "status_changed"
	EventSuspiciousActivity Event = "suspicious_activity"
	EventDataExported       Event = "data_exported"
	EventBulkOperation      Event = "bulk_operation"
)

// entityEvents are the events that always reference a concrete subject.
var entityEvents = map[Event]struct{}{
	EventCreated: {},
	EventUpdated: {},
	EventDeleted: {},
}

// Severity is a coarse priority classification driving the recorder's
// failure-handling policy.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Entry is an immutable record of a state-changing or security-relevant
// event. Once persisted it is never mutated; deletion happens only through
// the privileged, itself-audited purge operation.
type Entry struct {
	ID          int64          `json:"id"`
	Event       Event          `json:"event"`
	SubjectType string         `json:"subject_type,omitempty"`
	SubjectID   string         `json:"subject_id,omitempty"`
	ActorID     *int64         `json:"actor_id,omitempty"`
	Description string         `json:"description,omitempty"`
	OldValues   map[string]any `json:"old_values,omitempty"`
	NewValues   map[string]any `json:"new_values,omitempty"`
	Severity    Severity       `json:"severity"`
	Tags        []string       `json:"tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Input is the caller-supplied portion of an entry; the recorder assigns the
// ID and timestamp.
type Input struct {
	Event       Event
	SubjectType string
	SubjectID   string
	ActorID     *int64
	Description string
	OldValues   map[string]any
	NewValues   map[string]any
	Severity    Severity
	Tags        []string
	Metadata    map[string]any
}

// Validate checks the minimal requirements: an event, and a subject type for
// entity-scoped events. Everything else is optional by design.
func (in *Input) Validate() error {
	if in.Event == "" {
		return fmt.Errorf("audit: event is required")
	}
	if _, ok := entityEvents[in.Event]; ok && in.SubjectType == "" {
		return fmt.Errorf("audit: subject_type is required for %s events", in.Event)
	}
	return nil
}

// SearchFilter narrows audit log queries.
type SearchFilter struct {
	Event       Event
	SubjectType string
	Severity    Severity
	ActorID     *int64
	DateFrom    *time.Time
	DateTo      *time.Time
	Search      string // free text across description and metadata
	Limit       int
	Offset      int
}

// ExportFormat selects the serialization for exported audit logs.
type ExportFormat string

const (
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// MaxExportRows caps every export regardless of the client-supplied limit.
const MaxExportRows = 10000

// Stats aggregates audit activity over a trailing window.
type Stats struct {
	WindowStart time.Time          `json:"window_start"`
	WindowEnd   time.Time          `json:"window_end"`
	Total       int64              `json:"total"`
	ByEvent     map[Event]int64    `json:"by_event"`
	BySeverity  map[Severity]int64 `json:"by_severity"`
	TopActors   []ActorCount       `json:"top_actors,omitempty"`
}

// ActorCount pairs an actor with their entry count in the window.
type ActorCount struct {
	ActorID int64 `json:"actor_id"`
	Count   int64 `json:"count"`
}

// TrendPoint is one day's entry count in a trend series.
type TrendPoint struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int64  `json:"count"`
}

// RetentionPolicy defines how long audit entries are kept.
type RetentionPolicy struct {
	RetentionDays int
	Schedule      string // cron expression for the cleanup job
}

// DefaultRetentionPolicy keeps entries for 90 days, purging nightly.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays: 90,
		Schedule:      "0 3 * * *",
	}
}
