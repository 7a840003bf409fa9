// Package purge sweeps expired security events on a fixed interval. Deletion
// is driven purely by each row's retention deadline, so overlapping runs are
// harmless.
package purge

import (
	"context"
	"log/slog"
	"time"

	"custodia/internal/audit"
	"custodia/internal/platform/metrics"
)

// Scheduler is the background retention sweeper.
type Scheduler struct {
	store    audit.Store
	auditor  *audit.Service
	logger   *slog.Logger
	metrics  *metrics.Metrics
	interval time.Duration
	done     chan struct{}
	stopped  chan struct{}
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a sweeper. A non-positive interval defaults to daily.
func NewScheduler(store audit.Store, auditor *audit.Service, logger *slog.Logger, interval time.Duration, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	s := &Scheduler{
		store:    store,
		auditor:  auditor,
		logger:   logger,
		interval: interval,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweep loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil {
					s.logger.ErrorContext(ctx, "retention sweep failed", "error", err)
				}
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}()
}

// Stop terminates the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.done)
	<-s.stopped
}

// RunOnce deletes every event past its retention deadline. When at least one
// row went, a single summary audit event carries the count.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	deleted, err := s.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if deleted == 0 {
		return 0, nil
	}

	if s.metrics != nil {
		s.metrics.PurgedEvents.Add(float64(deleted))
	}
	s.logger.InfoContext(ctx, "expired security events purged", "deleted", deleted)
	s.auditor.Log(ctx, &audit.SecurityEvent{
		Source:      "purge",
		Type:        audit.EventLogsCleanup,
		Category:    "compliance",
		Severity:    audit.SeverityInfo,
		Description: "Expired security events deleted by retention sweep",
		Outcome:     audit.OutcomeSuccess,
		Metadata:    map[string]any{"deleted_rows": deleted},
	})
	return deleted, nil
}
