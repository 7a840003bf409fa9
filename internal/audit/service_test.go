package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/fieldcrypt"
	"custodia/internal/retention"
)

type capturingNotifier struct {
	alerts []*SecurityAlert
}

func (n *capturingNotifier) Publish(_ context.Context, alert *SecurityAlert) error {
	n.alerts = append(n.alerts, alert)
	return nil
}

type AuditServiceSuite struct {
	suite.Suite
	store    *MemoryStore
	notifier *capturingNotifier
	svc      *Service
	ctx      context.Context
}

func (s *AuditServiceSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.notifier = &capturingNotifier{}
	codec, err := fieldcrypt.New("test-master-key")
	s.Require().NoError(err)
	s.svc = NewService(s.store, codec, retention.Default(),
		slog.New(slog.DiscardHandler), WithNotifier(s.notifier))
	s.ctx = context.Background()
}

func TestAuditServiceSuite(t *testing.T) {
	suite.Run(t, new(AuditServiceSuite))
}

func (s *AuditServiceSuite) TestLogAppliesDefaults() {
	s.svc.Log(s.ctx, &SecurityEvent{
		Type:        "data_access",
		Description: "profile read",
	})
	s.svc.Flush()

	result, err := s.svc.Query(s.ctx, Filter{})
	s.Require().NoError(err)
	s.Require().Len(result.Events, 1)

	event := result.Events[0]
	s.Equal("system", event.Source)
	s.Equal("general", event.Category)
	s.Equal(SeverityInfo, event.Severity)
	s.Equal(OutcomeUnknown, event.Outcome)
	s.Equal("system", event.Tenant)
	s.False(event.Timestamp.IsZero())
	s.Equal(event.Timestamp.AddDate(0, 0, 2555), event.RetentionUntil)
}

func (s *AuditServiceSuite) TestCriticalEventRaisesExactlyOneAlert() {
	s.svc.Log(s.ctx, &SecurityEvent{
		Type:        "security_incident",
		Severity:    SeverityCritical,
		Description: "token replay detected",
		Tenant:      "acme",
	})
	s.svc.Flush()

	alerts := s.store.Alerts()
	s.Require().Len(alerts, 1)
	s.Equal(SeverityCritical, alerts[0].Severity)
	s.Equal(AlertActive, alerts[0].Status)
	s.Equal("acme", alerts[0].Tenant)
	s.Equal("Security Alert: security_incident", alerts[0].Title)

	s.Require().Len(s.notifier.alerts, 1)
	s.Equal(alerts[0].ID, s.notifier.alerts[0].ID)
}

func (s *AuditServiceSuite) TestInfoEventRaisesNoAlert() {
	s.svc.Log(s.ctx, &SecurityEvent{
		Type:     "authentication_success",
		Severity: SeverityInfo,
	})
	s.svc.Flush()

	s.Empty(s.store.Alerts())
	s.Empty(s.notifier.alerts)
}

func (s *AuditServiceSuite) TestMetricUpsertAccumulates() {
	for range 3 {
		s.svc.Log(s.ctx, &SecurityEvent{
			Type:     "authentication_failed",
			Severity: SeverityMedium,
		})
	}
	s.svc.Flush()

	metric, ok := s.store.Metric("security_events_authentication_failed_medium")
	s.Require().True(ok)
	s.Equal(3.0, metric.Value)
	s.Equal("counter", metric.Type)
}

func (s *AuditServiceSuite) TestAppendFailureIsFailOpen() {
	s.store.FailAppend = errors.New("db down")

	s.svc.Log(s.ctx, &SecurityEvent{
		Type:     "security_incident",
		Severity: SeverityCritical,
	})
	s.svc.Flush()

	// The event is gone but nothing alerted and nothing panicked.
	s.Empty(s.store.Alerts())
	s.Empty(s.notifier.alerts)
}

func (s *AuditServiceSuite) TestSensitiveMetadataIsSealedAtRest() {
	s.svc.Log(s.ctx, &SecurityEvent{
		Type: "data_access",
		Metadata: map[string]any{
			"email":  "alice@example.com",
			"detail": "profile read",
		},
	})
	s.svc.Flush()

	// Raw storage holds ciphertext for the sensitive field.
	raw, _, err := s.store.Query(s.ctx, Filter{})
	s.Require().NoError(err)
	s.Require().Len(raw, 1)
	s.True(raw[0].Encrypted)
	s.NotEqual("alice@example.com", raw[0].Metadata["email"])
	s.Equal("profile read", raw[0].Metadata["detail"])

	// Reads through the service transparently decrypt.
	result, err := s.svc.Query(s.ctx, Filter{})
	s.Require().NoError(err)
	s.Equal("alice@example.com", result.Events[0].Metadata["email"])
}

func (s *AuditServiceSuite) TestQueryPagination() {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		s.svc.Log(s.ctx, &SecurityEvent{
			Type:      "data_access",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
	}
	s.svc.Flush()

	page, err := s.svc.Query(s.ctx, Filter{Limit: 2})
	s.Require().NoError(err)
	s.Len(page.Events, 2)
	s.Equal(5, page.Total)
	s.True(page.HasMore)
	// Newest first.
	s.True(page.Events[0].Timestamp.After(page.Events[1].Timestamp))

	last, err := s.svc.Query(s.ctx, Filter{Limit: 2, Offset: 4})
	s.Require().NoError(err)
	s.Len(last.Events, 1)
	s.False(last.HasMore)
}

func (s *AuditServiceSuite) TestExportFormats() {
	s.svc.Log(s.ctx, &SecurityEvent{
		Type:        "data_export",
		Actor:       "user-1",
		Tenant:      "acme",
		Description: "export requested",
		Metadata:    map[string]any{"email": "alice@example.com"},
	})
	s.svc.Log(s.ctx, &SecurityEvent{
		Type:   "data_access",
		Actor:  "user-2",
		Tenant: "acme",
	})
	s.svc.Flush()

	jsonOut, err := s.svc.Export(s.ctx, "acme", "user-1", "json")
	s.Require().NoError(err)
	s.Contains(jsonOut, "export requested")
	s.Contains(jsonOut, "alice@example.com")
	s.NotContains(jsonOut, "user-2")

	csvOut, err := s.svc.Export(s.ctx, "acme", "", "csv")
	s.Require().NoError(err)
	lines := strings.Split(strings.TrimSpace(csvOut), "\n")
	s.Require().Len(lines, 3)
	s.True(strings.HasPrefix(lines[0], "id,timestamp,source,type"))
}

func (s *AuditServiceSuite) TestStatsAggregation() {
	s.svc.Log(s.ctx, &SecurityEvent{Type: "data_access", Severity: SeverityInfo, Tenant: "acme"})
	s.svc.Log(s.ctx, &SecurityEvent{Type: "data_access", Severity: SeverityInfo, Tenant: "acme"})
	s.svc.Log(s.ctx, &SecurityEvent{Type: "security_incident", Severity: SeverityHigh, Tenant: "acme"})
	s.svc.Log(s.ctx, &SecurityEvent{Type: "data_access", Severity: SeverityInfo, Tenant: "other"})
	s.svc.Flush()

	stats, err := s.svc.Stats(s.ctx, "acme", 30)
	s.Require().NoError(err)
	s.Equal(3, stats.TotalEvents)
	s.Equal(2, stats.SeverityBreakdown[SeverityInfo])
	s.Equal(1, stats.SeverityBreakdown[SeverityHigh])
	s.Equal(2, stats.TypeBreakdown["data_access"])
	s.NotEmpty(stats.TimeSeries)
}
