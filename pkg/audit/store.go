package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Store provides the query side of the audit trail. The write side lives on
// Recorder; the two are separated so read replicas can back a Store.
type Store interface {
	// Search returns entries matching the filter, newest first.
	Search(ctx context.Context, filter SearchFilter) ([]*Entry, error)

	// Get retrieves a single entry by ID; ErrNotFound when absent.
	Get(ctx context.Context, id int64) (*Entry, error)

	// Stats aggregates entry counts over [start, end).
	Stats(ctx context.Context, start, end time.Time) (*Stats, error)

	// Trend returns a per-day entry count series over the trailing days.
	Trend(ctx context.Context, days int) ([]TrendPoint, error)

	// Export serializes matching entries. The filter's limit is capped at
	// MaxExportRows server-side.
	Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error)

	// Purge deletes entries older than the cutoff and returns the count.
	// This is the single sanctioned way to remove audit data and callers
	// must record the purge itself.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// ErrNotFound indicates the requested audit entry does not exist.
var ErrNotFound = errors.New("audit: entry not found")

// DBStore implements Store over the audit_logs table.
type DBStore struct {
	db *sql.DB
}

// NewDBStore creates a database-backed audit store.
func NewDBStore(db *sql.DB) *DBStore {
	return &DBStore{db: db}
}

const entryColumns = `id, event, subject_type, subject_id, actor_id, description,
	old_values, new_values, severity, tags, metadata, created_at`

// Search returns entries matching the filter, newest first.
func (s *DBStore) Search(ctx context.Context, filter SearchFilter) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_logs WHERE 1=1`
	var args []any
	idx := 1

	if filter.Event != "" {
		query += fmt.Sprintf(" AND event = $%d", idx)
		args = append(args, string(filter.Event))
		idx++
	}
	if filter.SubjectType != "" {
		query += fmt.Sprintf(" AND subject_type = $%d", idx)
		args = append(args, filter.SubjectType)
		idx++
	}
	if filter.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", idx)
		args = append(args, string(filter.Severity))
		idx++
	}
	if filter.ActorID != nil {
		query += fmt.Sprintf(" AND actor_id = $%d", idx)
		args = append(args, *filter.ActorID)
		idx++
	}
	if filter.DateFrom != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, *filter.DateFrom)
		idx++
	}
	if filter.DateTo != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", idx)
		args = append(args, *filter.DateTo)
		idx++
	}
	if filter.Search != "" {
		needle := "%" + strings.ToLower(filter.Search) + "%"
		query += fmt.Sprintf(
			" AND (LOWER(COALESCE(description, '')) LIKE $%d OR LOWER(CAST(COALESCE(metadata, '{}') AS TEXT)) LIKE $%d)",
			idx, idx+1,
		)
		args = append(args, needle, needle)
		idx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, filter.Limit)
		idx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Get retrieves a single entry by ID.
func (s *DBStore) Get(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM audit_logs WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return entry, err
}

// Stats aggregates entry counts over [start, end). The four aggregates are
// independent, so they run concurrently.
func (s *DBStore) Stats(ctx context.Context, start, end time.Time) (*Stats, error) {
	stats := &Stats{
		WindowStart: start,
		WindowEnd:   end,
		ByEvent:     make(map[Event]int64),
		BySeverity:  make(map[Severity]int64),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.db.QueryRowContext(gctx,
			`SELECT COUNT(*) FROM audit_logs WHERE created_at >= $1 AND created_at < $2`,
			start, end,
		).Scan(&stats.Total)
		if err != nil {
			return fmt.Errorf("failed to count audit logs: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		rows, err := s.db.QueryContext(gctx, `
			SELECT event, COUNT(*)
			FROM audit_logs
			WHERE created_at >= $1 AND created_at < $2
			GROUP BY event
		`, start, end)
		if err != nil {
			return fmt.Errorf("failed to aggregate by event: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				event Event
				count int64
			)
			if err := rows.Scan(&event, &count); err != nil {
				return err
			}
			stats.ByEvent[event] = count
		}
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := s.db.QueryContext(gctx, `
			SELECT severity, COUNT(*)
			FROM audit_logs
			WHERE created_at >= $1 AND created_at < $2
			GROUP BY severity
		`, start, end)
		if err != nil {
			return fmt.Errorf("failed to aggregate by severity: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				severity Severity
				count    int64
			)
			if err := rows.Scan(&severity, &count); err != nil {
				return err
			}
			stats.BySeverity[severity] = count
		}
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := s.db.QueryContext(gctx, `
			SELECT actor_id, COUNT(*) AS entries
			FROM audit_logs
			WHERE created_at >= $1 AND created_at < $2 AND actor_id IS NOT NULL
			GROUP BY actor_id
			ORDER BY entries DESC
			LIMIT 5
		`, start, end)
		if err != nil {
			return fmt.Errorf("failed to aggregate by actor: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var ac ActorCount
			if err := rows.Scan(&ac.ActorID, &ac.Count); err != nil {
				return err
			}
			stats.TopActors = append(stats.TopActors, ac)
		}
		return rows.Err()
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

// Trend returns a per-day entry count series over the trailing days,
// including zero-count days. Bucketing happens in Go so the query stays
// portable across drivers.
func (s *DBStore) Trend(ctx context.Context, days int) ([]TrendPoint, error) {
	if days <= 0 {
		days = 30
	}
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -days+1).Truncate(24 * time.Hour)

	rows, err := s.db.QueryContext(ctx,
		`SELECT created_at FROM audit_logs WHERE created_at >= $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to load trend data: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		counts[ts.UTC().Format("2006-01-02")]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	points := make([]TrendPoint, 0, days)
	for day := cutoff; !day.After(now); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		points = append(points, TrendPoint{Date: key, Count: counts[key]})
	}
	return points, nil
}

// Export serializes matching entries, capping the row count at
// MaxExportRows.
func (s *DBStore) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	if filter.Limit <= 0 || filter.Limit > MaxExportRows {
		filter.Limit = MaxExportRows
	}
	entries, err := s.Search(ctx, filter)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportFormatJSON:
		return exportJSON(entries)
	case ExportFormatNDJSON:
		return exportNDJSON(entries)
	default:
		return exportCSV(entries)
	}
}

// Purge deletes entries older than the cutoff.
func (s *DBStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_logs WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit logs: %w", err)
	}
	return res.RowsAffected()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		entry       Entry
		subjectType sql.NullString
		subjectID   sql.NullString
		actorID     sql.NullInt64
		description sql.NullString
		oldJSON     []byte
		newJSON     []byte
		tagsJSON    []byte
		metaJSON    []byte
	)
	err := row.Scan(
		&entry.ID, &entry.Event, &subjectType, &subjectID, &actorID, &description,
		&oldJSON, &newJSON, &entry.Severity, &tagsJSON, &metaJSON, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	entry.SubjectType = subjectType.String
	entry.SubjectID = subjectID.String
	entry.Description = description.String
	if actorID.Valid {
		id := actorID.Int64
		entry.ActorID = &id
	}
	if len(oldJSON) > 0 {
		if err := json.Unmarshal(oldJSON, &entry.OldValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal old_values: %w", err)
		}
	}
	if len(newJSON) > 0 {
		if err := json.Unmarshal(newJSON, &entry.NewValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal new_values: %w", err)
		}
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &entry.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &entry, nil
}
