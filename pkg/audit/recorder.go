package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
)

// ErrRecordFailed indicates an audit entry could not be persisted and the
// failure policy required surfacing it to the caller.
var ErrRecordFailed = errors.New("audit: record failed")

// Recorder appends immutable audit entries.
type Recorder interface {
	// Record persists an entry. Whether a persistence failure propagates or
	// is logged and swallowed depends on the recorder's failure policy and
	// the entry's severity. A swallowed failure returns (nil, nil).
	Record(ctx context.Context, in Input) (*Entry, error)
}

// FailurePolicy decides, per severity, whether a failed write must be
// surfaced to the caller (true) or logged locally and swallowed so the
// triggering business operation still succeeds (false).
type FailurePolicy func(Severity) bool

// DefaultFailurePolicy surfaces failures only for critical entries;
// role/permission changes and suspicious activity must not be lost silently.
func DefaultFailurePolicy(s Severity) bool {
	return s == SeverityCritical
}

// MustSucceedPolicy surfaces every failure regardless of severity.
func MustSucceedPolicy(Severity) bool { return true }

// DBRecorder persists audit entries to a SQL database. Each entry is a
// single INSERT, so an entry is either fully persisted or not at all.
type DBRecorder struct {
	db      *sql.DB
	driver  string
	policy  FailurePolicy
	logger  *observability.Logger
	observe func(Event, Severity, bool)
}

// RecorderOption configures a DBRecorder.
type RecorderOption func(*DBRecorder)

// WithFailurePolicy overrides the default severity-based failure policy.
func WithFailurePolicy(policy FailurePolicy) RecorderOption {
	return func(r *DBRecorder) { r.policy = policy }
}

// WithLogger sets the structured logger used for swallowed failures.
func WithLogger(logger *observability.Logger) RecorderOption {
	return func(r *DBRecorder) { r.logger = logger }
}

// WithWriteObserver registers a callback invoked after every write attempt,
// used to feed metrics.
func WithWriteObserver(fn func(event Event, severity Severity, ok bool)) RecorderOption {
	return func(r *DBRecorder) { r.observe = fn }
}

// NewDBRecorder creates a database-backed recorder and ensures the
// audit_logs table exists.
func NewDBRecorder(db *sql.DB, driver string, opts ...RecorderOption) (*DBRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	r := &DBRecorder{
		db:     db,
		driver: driver,
		policy: DefaultFailurePolicy,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return r, nil
}

func (r *DBRecorder) ensureTable() error {
	idCol := "BIGSERIAL PRIMARY KEY"
	tsCol := "TIMESTAMP WITH TIME ZONE"
	jsonCol := "JSONB"
	if r.driver == "sqlite3" {
		idCol = "INTEGER PRIMARY KEY AUTOINCREMENT"
		tsCol = "DATETIME"
		jsonCol = "TEXT"
	}
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS audit_logs (
		id %s,
		event VARCHAR(50) NOT NULL,
		subject_type VARCHAR(100),
		subject_id VARCHAR(255),
		actor_id BIGINT,
		description TEXT,
		old_values %s,
		new_values %s,
		severity VARCHAR(20) NOT NULL,
		tags %s,
		metadata %s,
		created_at %s NOT NULL
	)`, idCol, jsonCol, jsonCol, jsonCol, jsonCol, tsCol)
	if _, err := r.db.Exec(query); err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_event ON audit_logs(event)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_subject ON audit_logs(subject_type, subject_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_severity ON audit_logs(severity)`,
	}
	for _, idx := range indexes {
		if _, err := r.db.Exec(idx); err != nil {
			return err
		}
	}
	return nil
}

// Record validates and persists an entry. For severities the policy marks
// fire-and-forget, a persistence failure is logged and swallowed; otherwise
// it is returned wrapped in ErrRecordFailed.
func (r *DBRecorder) Record(ctx context.Context, in Input) (*Entry, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Severity == "" {
		in.Severity = SeverityInfo
	}

	entry := &Entry{
		Event:       in.Event,
		SubjectType: in.SubjectType,
		SubjectID:   in.SubjectID,
		ActorID:     in.ActorID,
		Description: in.Description,
		OldValues:   in.OldValues,
		NewValues:   in.NewValues,
		Severity:    in.Severity,
		Tags:        in.Tags,
		Metadata:    in.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	err := r.insert(ctx, entry)
	if r.observe != nil {
		r.observe(entry.Event, entry.Severity, err == nil)
	}
	if err == nil {
		return entry, nil
	}

	if r.policy(entry.Severity) {
		return nil, fmt.Errorf("%w: %v", ErrRecordFailed, err)
	}
	if r.logger != nil {
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"event":    string(entry.Event),
			"severity": string(entry.Severity),
		}).Error("audit write failed, entry dropped")
	}
	return nil, nil
}

func (r *DBRecorder) insert(ctx context.Context, entry *Entry) error {
	oldJSON, err := marshalNullable(entry.OldValues)
	if err != nil {
		return fmt.Errorf("failed to marshal old_values: %w", err)
	}
	newJSON, err := marshalNullable(entry.NewValues)
	if err != nil {
		return fmt.Errorf("failed to marshal new_values: %w", err)
	}
	metaJSON, err := marshalNullable(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	var tagsJSON []byte
	if len(entry.Tags) > 0 {
		tagsJSON, err = json.Marshal(entry.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			event, subject_type, subject_id, actor_id, description,
			old_values, new_values, severity, tags, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		) RETURNING id
	`
	err = r.db.QueryRowContext(ctx, query,
		entry.Event, nullString(entry.SubjectType), nullString(entry.SubjectID),
		entry.ActorID, nullString(entry.Description),
		nullBytes(oldJSON), nullBytes(newJSON), entry.Severity,
		nullBytes(tagsJSON), nullBytes(metaJSON), entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

func marshalNullable(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullBytes keeps NULL distinguishable from empty JSON in the driver.
func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}
