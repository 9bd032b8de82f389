package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/warden/pkg/observability"
)

// RetentionScheduler periodically purges entries older than the retention
// window. Every purge run is itself recorded as a bulk operation so the
// trail accounts for its own truncation.
type RetentionScheduler struct {
	store    Store
	recorder Recorder
	policy   RetentionPolicy
	logger   *observability.Logger
	cron     *cron.Cron
}

// NewRetentionScheduler creates a retention scheduler; Start must be called
// to begin running.
func NewRetentionScheduler(store Store, recorder Recorder, policy RetentionPolicy, logger *observability.Logger) *RetentionScheduler {
	if policy.RetentionDays <= 0 {
		policy = DefaultRetentionPolicy()
	}
	if policy.Schedule == "" {
		policy.Schedule = DefaultRetentionPolicy().Schedule
	}
	return &RetentionScheduler{
		store:    store,
		recorder: recorder,
		policy:   policy,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start schedules the cleanup job.
func (s *RetentionScheduler) Start() error {
	_, err := s.cron.AddFunc(s.policy.Schedule, s.runOnce)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop stops the scheduler, waiting for a running job to finish.
func (s *RetentionScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *RetentionScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -s.policy.RetentionDays)
	purged, err := s.store.Purge(ctx, cutoff)
	if err != nil {
		if s.logger != nil {
			s.logger.WithError(err).Error("audit retention purge failed")
		}
		return
	}
	if purged == 0 {
		return
	}

	if s.logger != nil {
		s.logger.WithFields(map[string]interface{}{
			"purged": purged,
			"cutoff": cutoff.Format(time.RFC3339),
		}).Info("audit retention purge completed")
	}

	// System-initiated: no actor in context.
	_, _ = s.recorder.Record(ctx, Input{
		Event:       EventBulkOperation,
		Severity:    SeverityWarning,
		Description: "scheduled audit retention purge",
		Tags:        []string{"bulk", "retention"},
		Metadata: map[string]any{
			"purged_count":   purged,
			"cutoff":         cutoff.Format(time.RFC3339),
			"retention_days": s.policy.RetentionDays,
		},
	})
}
