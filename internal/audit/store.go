package audit

import (
	"context"
	"time"
)

// Store persists security events and their alert/metric side effects.
// Implementations are pure I/O; retention computation, encryption, and
// alerting decisions all live in the Service.
type Store interface {
	Append(ctx context.Context, event *SecurityEvent) error
	Query(ctx context.Context, filter Filter) ([]*SecurityEvent, int, error)
	// DeleteExpired removes events whose RetentionUntil is strictly before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	CountByActor(ctx context.Context, actor, tenant string) (int, error)
	CreateAlert(ctx context.Context, alert *SecurityAlert) error
	// UpsertMetric increments the metric's value by delta, creating the row
	// on first sight.
	UpsertMetric(ctx context.Context, metric *SecurityMetric, delta float64) error
	Stats(ctx context.Context, tenant string, since time.Time) (*Stats, error)
}
