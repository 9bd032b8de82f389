package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/identity"
)

// Handlers provides the HTTP surface of the audit trail: listing, detail,
// export, dashboard aggregates, and the privileged purge.
type Handlers struct {
	store    Store
	recorder Recorder
}

// NewHandlers creates audit HTTP handlers. The recorder is used to audit the
// purge and export operations themselves.
func NewHandlers(store Store, recorder Recorder) *Handlers {
	return &Handlers{store: store, recorder: recorder}
}

// RegisterRoutes registers audit routes on the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.listEvents).Methods(http.MethodGet)
	router.HandleFunc("/audit/events", h.purgeEvents).Methods(http.MethodDelete)
	router.HandleFunc("/audit/events/{id}", h.getEvent).Methods(http.MethodGet)
	router.HandleFunc("/audit/export", h.exportEvents).Methods(http.MethodGet)
	router.HandleFunc("/audit/stats", h.getStats).Methods(http.MethodGet)
	router.HandleFunc("/audit/trend", h.getTrend).Methods(http.MethodGet)
}

// listEvents handles GET /audit/events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseFilter(r)
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}

	entries, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": entries,
		"count":  len(entries),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// getEvent handles GET /audit/events/{id}
func (h *Handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.WriteValidationError(w, "invalid event ID")
		return
	}

	entry, err := h.store.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFoundError(w, "event not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, entry)
}

// exportEvents handles GET /audit/export
func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseFilter(r)

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatCSV
	}

	data, err := h.store.Export(r.Context(), filter, format)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	// The export is itself a security-relevant event. Under the default
	// policy warning-level failures are swallowed by the recorder, but a
	// stricter policy may surface them; refuse the download then.
	if err := h.recordOperation(r.Context(), Input{
		Event:       EventDataExported,
		Severity:    SeverityWarning,
		Description: "audit log export",
		Tags:        []string{"export", "compliance"},
		Metadata:    exportMetadata(r.Context(), string(format), filter.Limit),
	}); err != nil {
		httputil.WriteInternalError(w, fmt.Errorf("export could not be recorded: %w", err))
		return
	}

	switch format {
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.ndjson")
	case ExportFormatJSON:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.json")
	default:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.csv")
	}
	w.Write(data)
}

// getStats handles GET /audit/stats. The window defaults to the trailing 24
// hours.
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)

	if hoursStr := r.URL.Query().Get("hours"); hoursStr != "" {
		if hours, err := strconv.Atoi(hoursStr); err == nil && hours > 0 {
			start = end.Add(-time.Duration(hours) * time.Hour)
		}
	}

	stats, err := h.store.Stats(r.Context(), start, end)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// getTrend handles GET /audit/trend. The window defaults to 30 days.
func (h *Handlers) getTrend(w http.ResponseWriter, r *http.Request) {
	days := 30
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		if parsed, err := strconv.Atoi(daysStr); err == nil && parsed > 0 {
			days = parsed
		}
	}

	points, err := h.store.Trend(r.Context(), days)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"days":  days,
		"trend": points,
	})
}

// purgeEvents handles DELETE /audit/events. Purging is the one sanctioned
// mutation of the audit trail and is recorded as a bulk operation.
func (h *Handlers) purgeEvents(w http.ResponseWriter, r *http.Request) {
	beforeStr := r.URL.Query().Get("before")
	if beforeStr == "" {
		httputil.WriteValidationError(w, "before query parameter is required")
		return
	}
	before, err := time.Parse(time.RFC3339, beforeStr)
	if err != nil {
		httputil.WriteValidationError(w, "before must be an RFC3339 timestamp")
		return
	}

	purged, err := h.store.Purge(r.Context(), before)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if err := h.recordOperation(r.Context(), Input{
		Event:       EventBulkOperation,
		Severity:    SeverityCritical,
		Description: "audit log purge",
		Tags:        []string{"bulk", "compliance", "security"},
		Metadata:    purgeMetadata(r.Context(), before, purged),
	}); err != nil {
		// The rows are already gone. Fail the request so the caller knows
		// the purge itself left no trail record, and include the count.
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":  "purge completed but could not be recorded: " + err.Error(),
			"purged": purged,
			"before": before,
		})
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"purged": purged,
		"before": before,
	})
}

// recordOperation audits an operation on the trail itself. The error is the
// recorder's surfaced failure; whether one comes back depends on the
// severity and the failure policy.
func (h *Handlers) recordOperation(ctx context.Context, in Input) error {
	if h.recorder == nil {
		return nil
	}
	if actorID, ok := identity.PrincipalFromContext(ctx); ok {
		in.ActorID = &actorID
	}
	_, err := h.recorder.Record(ctx, in)
	return err
}

func parseFilter(r *http.Request) SearchFilter {
	q := r.URL.Query()
	filter := SearchFilter{
		Event:       Event(q.Get("event")),
		SubjectType: q.Get("subject_type"),
		Severity:    Severity(q.Get("severity")),
		Search:      q.Get("search"),
	}
	// "module" is the legacy name for the subject type filter.
	if filter.SubjectType == "" {
		filter.SubjectType = q.Get("module")
	}
	if actorStr := q.Get("actor_id"); actorStr != "" {
		if actorID, err := strconv.ParseInt(actorStr, 10, 64); err == nil {
			filter.ActorID = &actorID
		}
	}
	if fromStr := q.Get("date_from"); fromStr != "" {
		if from, err := time.Parse(time.RFC3339, fromStr); err == nil {
			filter.DateFrom = &from
		}
	}
	if toStr := q.Get("date_to"); toStr != "" {
		if to, err := time.Parse(time.RFC3339, toStr); err == nil {
			filter.DateTo = &to
		}
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset > 0 {
			filter.Offset = offset
		}
	}
	return filter
}

func exportMetadata(ctx context.Context, format string, limit int) map[string]any {
	meta := ContextMetadata(identity.RequestContextFrom(ctx))
	if meta == nil {
		meta = make(map[string]any, 2)
	}
	meta["format"] = format
	if limit > 0 {
		meta["requested_limit"] = limit
	}
	return meta
}

func purgeMetadata(ctx context.Context, before time.Time, purged int64) map[string]any {
	meta := ContextMetadata(identity.RequestContextFrom(ctx))
	if meta == nil {
		meta = make(map[string]any, 2)
	}
	meta["before"] = before.Format(time.RFC3339)
	meta["purged_count"] = purged
	return meta
}
