package audit

import "context"

// MultiRecorder fans an entry out to several recorders. Dispatch is
// synchronous and in order: the entry is part of the triggering operation,
// not a background job. The first recorder is primary: its entry and error
// are what the caller sees; failures of secondary sinks never abort the
// operation.
type MultiRecorder struct {
	recorders []Recorder
}

// NewMultiRecorder creates a recorder writing to every given destination.
// The first recorder is the primary one.
func NewMultiRecorder(recorders ...Recorder) *MultiRecorder {
	return &MultiRecorder{recorders: recorders}
}

// Record writes the entry to all recorders.
func (m *MultiRecorder) Record(ctx context.Context, in Input) (*Entry, error) {
	if len(m.recorders) == 0 {
		return nil, nil
	}

	entry, err := m.recorders[0].Record(ctx, in)
	for _, r := range m.recorders[1:] {
		// Secondary sinks are best effort regardless of severity.
		_, _ = r.Record(ctx, in)
	}
	return entry, err
}
