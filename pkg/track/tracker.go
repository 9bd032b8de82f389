// Package track implements generic auditable-entity tracking. Entity types
// register a logged-field allow-list; create/update/delete transitions then
// produce one audit entry each, with update diffs restricted to the allowed
// fields.
package track

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/identity"
)

// ErrUnknownKind indicates an entity kind was never registered with the
// tracker. Registration is explicit so audit entries can only reference
// known entity kinds.
var ErrUnknownKind = errors.New("track: unknown entity kind")

// Tracker forwards entity lifecycle transitions to the audit recorder. It is
// stateless between invocations; all per-kind state is the registered
// allow-list.
type Tracker struct {
	recorder audit.Recorder

	mu    sync.RWMutex
	kinds map[string]map[string]struct{}
}

// NewTracker creates a tracker writing to the given recorder.
func NewTracker(recorder audit.Recorder) *Tracker {
	return &Tracker{
		recorder: recorder,
		kinds:    make(map[string]map[string]struct{}),
	}
}

// RegisterKind registers an entity kind with its logged-field allow-list.
// Fields not listed never appear in audit diffs, so password hashes and
// bookkeeping columns stay out of the trail. Registering the same kind again
// replaces its allow-list.
func (t *Tracker) RegisterKind(kind string, loggedFields ...string) {
	fields := make(map[string]struct{}, len(loggedFields))
	for _, f := range loggedFields {
		fields[f] = struct{}{}
	}
	t.mu.Lock()
	t.kinds[kind] = fields
	t.mu.Unlock()
}

// RecordCreate records an after-create transition: new_values holds the full
// logged state, old_values is absent.
func (t *Tracker) RecordCreate(ctx context.Context, kind, id string, state map[string]any) error {
	allowed, err := t.allowedFields(kind)
	if err != nil {
		return err
	}
	return t.record(ctx, audit.EventCreated, kind, id, nil, restrict(state, allowed))
}

// RecordUpdate records an after-update transition. The diff is the
// set-difference between before and after, restricted to logged fields; a
// no-op update produces no entry at all.
func (t *Tracker) RecordUpdate(ctx context.Context, kind, id string, before, after map[string]any) error {
	allowed, err := t.allowedFields(kind)
	if err != nil {
		return err
	}
	oldValues, newValues := diff(before, after, allowed)
	if len(oldValues) == 0 && len(newValues) == 0 {
		return nil
	}
	return t.record(ctx, audit.EventUpdated, kind, id, oldValues, newValues)
}

// RecordDelete records an after-delete transition: old_values holds the last
// known logged state, new_values is absent.
func (t *Tracker) RecordDelete(ctx context.Context, kind, id string, state map[string]any) error {
	allowed, err := t.allowedFields(kind)
	if err != nil {
		return err
	}
	return t.record(ctx, audit.EventDeleted, kind, id, restrict(state, allowed), nil)
}

func (t *Tracker) allowedFields(kind string) (map[string]struct{}, error) {
	t.mu.RLock()
	fields, ok := t.kinds[kind]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return fields, nil
}

func (t *Tracker) record(ctx context.Context, event audit.Event, kind, id string, oldValues, newValues map[string]any) error {
	in := audit.Input{
		Event:       event,
		SubjectType: kind,
		SubjectID:   id,
		OldValues:   oldValues,
		NewValues:   newValues,
		Severity:    audit.SeverityInfo,
		Tags:        []string{"entity", kind},
		Metadata:    audit.ContextMetadata(identity.RequestContextFrom(ctx)),
	}
	if actorID, ok := identity.PrincipalFromContext(ctx); ok {
		in.ActorID = &actorID
	}
	_, err := t.recorder.Record(ctx, in)
	return err
}
