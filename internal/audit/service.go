package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"custodia/internal/fieldcrypt"
	"custodia/internal/platform/metrics"
	"custodia/internal/retention"
)

var tracer = otel.Tracer("custodia/audit")

// AlertNotifier fans a new alert out to external channels (SIEM, chat, ...).
type AlertNotifier interface {
	Publish(ctx context.Context, alert *SecurityAlert) error
}

// Service is the audit log writer and reader. Logging is fail-open: a
// persistence failure is routed to a degraded fallback sink and never
// reaches the caller, so an audit outage cannot block the audited operation.
type Service struct {
	store    Store
	codec    *fieldcrypt.Codec
	policy   retention.Policy
	logger   *slog.Logger
	notifier AlertNotifier
	metrics  *metrics.Metrics
	wg       sync.WaitGroup
}

// Option configures the Service.
type Option func(*Service)

// WithNotifier sets the alert fan-out channel.
func WithNotifier(n AlertNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates the audit service.
func NewService(store Store, codec *fieldcrypt.Codec, policy retention.Policy, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		codec:  codec,
		policy: policy,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Log records a security event. It never returns an error: validation gaps
// are defaulted, and a failed primary write goes to the fallback sink. Alert
// creation for high/critical events happens strictly after the event row is
// durable; the metric upsert and alert fan-out run in the background.
func (s *Service) Log(ctx context.Context, event *SecurityEvent) {
	ctx, span := tracer.Start(ctx, "audit.Log")
	defer span.End()

	stored := s.normalize(event)

	meta, encrypted, err := s.codec.EncryptMetadata(stored.Metadata)
	if err != nil {
		// Sensitive fields must never be persisted in the clear. Strip the
		// metadata rather than dropping the whole event.
		s.logger.ErrorContext(ctx, "metadata encryption failed, dropping metadata",
			"event_type", stored.Type, "error", err)
		meta, encrypted = nil, false
	}
	stored.Metadata = meta
	stored.Encrypted = encrypted

	if err := s.store.Append(ctx, stored); err != nil {
		s.fallback(ctx, stored, err)
		return
	}

	if s.metrics != nil {
		s.metrics.SecurityEventsLogged.WithLabelValues(string(stored.Severity)).Inc()
	}

	if stored.Severity.Alerting() {
		s.raiseAlert(ctx, stored)
	}
	s.upsertMetricAsync(stored)
}

func (s *Service) normalize(event *SecurityEvent) *SecurityEvent {
	stored := *event
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.Source == "" {
		stored.Source = "system"
	}
	if stored.Category == "" {
		stored.Category = "general"
	}
	if !stored.Severity.IsValid() {
		stored.Severity = SeverityInfo
	}
	if stored.Outcome == "" {
		stored.Outcome = OutcomeUnknown
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}
	if stored.Tenant == "" {
		stored.Tenant = "system"
	}
	stored.RetentionUntil = s.policy.Until(stored.Type, stored.Timestamp)
	return &stored
}

func (s *Service) raiseAlert(ctx context.Context, event *SecurityEvent) {
	alert := &SecurityAlert{
		ID:          uuid.New(),
		EventID:     event.ID,
		Type:        event.Type,
		Severity:    event.Severity,
		Title:       "Security Alert: " + event.Type,
		Description: event.Description,
		Status:      AlertActive,
		Tenant:      event.Tenant,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		s.logger.ErrorContext(ctx, "failed to create security alert",
			"event_id", event.ID, "severity", event.Severity, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.SecurityAlertsRaised.WithLabelValues(string(alert.Severity)).Inc()
	}
	if s.notifier != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.notifier.Publish(ctx, alert); err != nil {
				s.logger.Error("failed to publish security alert",
					"alert_id", alert.ID, "error", err)
			}
		}()
	}
}

func (s *Service) upsertMetricAsync(event *SecurityEvent) {
	metric := &SecurityMetric{
		MetricID: fmt.Sprintf("security_events_%s_%s", event.Type, event.Severity),
		Name:     fmt.Sprintf("Security Events: %s (%s)", event.Type, event.Severity),
		Type:     "counter",
		Category: "security",
		Dimensions: map[string]any{
			"eventType": event.Type,
			"severity":  string(event.Severity),
			"category":  event.Category,
		},
		Timestamp: time.Now().UTC(),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.UpsertMetric(ctx, metric, 1); err != nil {
			s.logger.Error("failed to upsert security metric",
				"metric_id", metric.MetricID, "error", err)
		}
	}()
}

// fallback is the degraded sink for events that could not be persisted. The
// full event is written to the structured log and counted so operational
// tooling can alarm on audit degradation, while the triggering operation
// proceeds untouched.
func (s *Service) fallback(ctx context.Context, event *SecurityEvent, cause error) {
	if s.metrics != nil {
		s.metrics.AuditFallbackWrites.Inc()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		payload = []byte(fmt.Sprintf("%+v", event))
	}
	s.logger.ErrorContext(ctx, "SECURITY EVENT FALLBACK",
		"event", string(payload),
		"error", cause,
	)
}

// Flush waits for in-flight background side effects. Called on shutdown.
func (s *Service) Flush() {
	s.wg.Wait()
}

// Query returns one page of events matching the filter. Metadata of events
// marked encrypted is decrypted best-effort; a field that fails to open
// keeps its ciphertext.
func (s *Service) Query(ctx context.Context, filter Filter) (*QueryResult, error) {
	ctx, span := tracer.Start(ctx, "audit.Query")
	defer span.End()

	if filter.Limit == 0 {
		filter.Limit = 50
	}

	events, total, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}

	decrypted := make([]*SecurityEvent, len(events))
	for i, event := range events {
		decrypted[i] = s.decrypt(event)
	}

	hasMore := false
	if filter.Limit > 0 {
		hasMore = filter.Offset+len(events) < total
	}
	return &QueryResult{Events: decrypted, Total: total, HasMore: hasMore}, nil
}

func (s *Service) decrypt(event *SecurityEvent) *SecurityEvent {
	if !event.Encrypted || len(event.Metadata) == 0 {
		return event
	}
	out := *event
	out.Metadata = s.codec.DecryptMetadata(event.Metadata)
	return &out
}

// Export serializes a tenant's events (optionally narrowed to one actor)
// with decryption always applied. Format "csv" yields a tabular dump with a
// fixed column order; anything else yields indented JSON.
func (s *Service) Export(ctx context.Context, tenant, userID, format string) (string, error) {
	ctx, span := tracer.Start(ctx, "audit.Export")
	defer span.End()

	result, err := s.Query(ctx, Filter{Tenant: tenant, Actor: userID, Limit: -1})
	if err != nil {
		return "", err
	}

	if format == "csv" {
		return exportCSV(result.Events)
	}
	payload, err := json.MarshalIndent(result.Events, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal events: %w", err)
	}
	return string(payload), nil
}

var csvHeader = []string{
	"id", "timestamp", "source", "type", "category", "severity",
	"description", "actor", "target", "outcome", "ip_address", "tenant", "metadata",
}

func exportCSV(events []*SecurityEvent) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range events {
		meta := ""
		if len(e.Metadata) > 0 {
			raw, err := json.Marshal(e.Metadata)
			if err != nil {
				return "", fmt.Errorf("marshal metadata: %w", err)
			}
			meta = string(raw)
		}
		row := []string{
			e.ID.String(),
			e.Timestamp.Format(time.RFC3339),
			e.Source,
			e.Type,
			e.Category,
			string(e.Severity),
			e.Description,
			e.Actor,
			e.Target,
			string(e.Outcome),
			e.IPAddress,
			e.Tenant,
			meta,
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return sb.String(), nil
}

// Stats aggregates events for the dashboard over the trailing window.
func (s *Service) Stats(ctx context.Context, tenant string, days int) (*Stats, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	stats, err := s.store.Stats(ctx, tenant, since)
	if err != nil {
		return nil, fmt.Errorf("aggregate security stats: %w", err)
	}
	return stats, nil
}
