package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and single-process setups.
type MemoryStore struct {
	mu      sync.RWMutex
	events  []*SecurityEvent
	alerts  map[uuid.UUID]*SecurityAlert
	metrics map[string]*SecurityMetric

	// FailAppend forces Append to return this error, for exercising the
	// fallback path.
	FailAppend error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:  make(map[uuid.UUID]*SecurityAlert),
		metrics: make(map[string]*SecurityMetric),
	}
}

func (s *MemoryStore) Append(_ context.Context, event *SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppend != nil {
		return s.FailAppend
	}
	copied := *event
	s.events = append(s.events, &copied)
	return nil
}

func (s *MemoryStore) Query(_ context.Context, filter Filter) ([]*SecurityEvent, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*SecurityEvent
	for _, event := range s.events {
		if matches(event, filter) {
			copied := *event
			matched = append(matched, &copied)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= total {
			return nil, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func matches(event *SecurityEvent, filter Filter) bool {
	if filter.Type != "" && event.Type != filter.Type {
		return false
	}
	if filter.Category != "" && event.Category != filter.Category {
		return false
	}
	if filter.Severity != "" && event.Severity != filter.Severity {
		return false
	}
	if filter.Actor != "" && event.Actor != filter.Actor {
		return false
	}
	if filter.Tenant != "" && event.Tenant != filter.Tenant {
		return false
	}
	if !filter.DateFrom.IsZero() && event.Timestamp.Before(filter.DateFrom) {
		return false
	}
	if !filter.DateTo.IsZero() && event.Timestamp.After(filter.DateTo) {
		return false
	}
	return true
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []*SecurityEvent
	var deleted int64
	for _, event := range s.events {
		if event.RetentionUntil.Before(now) {
			deleted++
			continue
		}
		kept = append(kept, event)
	}
	s.events = kept
	return deleted, nil
}

func (s *MemoryStore) CountByActor(_ context.Context, actor, tenant string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, event := range s.events {
		if event.Actor == actor && (tenant == "" || event.Tenant == tenant) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CreateAlert(_ context.Context, alert *SecurityAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *alert
	s.alerts[alert.ID] = &copied
	return nil
}

func (s *MemoryStore) UpsertMetric(_ context.Context, metric *SecurityMetric, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.metrics[metric.MetricID]; ok {
		existing.Value += delta
		existing.Timestamp = metric.Timestamp
		return nil
	}
	copied := *metric
	copied.Value = delta
	s.metrics[metric.MetricID] = &copied
	return nil
}

func (s *MemoryStore) Stats(_ context.Context, tenant string, since time.Time) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		SeverityBreakdown: make(map[Severity]int),
		TypeBreakdown:     make(map[string]int),
		CategoryBreakdown: make(map[string]int),
	}
	series := make(map[string]int)
	for _, event := range s.events {
		if tenant != "" && event.Tenant != tenant {
			continue
		}
		if event.Timestamp.Before(since) {
			continue
		}
		stats.TotalEvents++
		stats.SeverityBreakdown[event.Severity]++
		stats.TypeBreakdown[event.Type]++
		stats.CategoryBreakdown[event.Category]++
		key := event.Timestamp.Format("2006-01-02") + "|" + string(event.Severity)
		series[key]++
	}

	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		date, severity, _ := strings.Cut(k, "|")
		stats.TimeSeries = append(stats.TimeSeries, TimeSeriesPoint{
			Date:     date,
			Severity: Severity(severity),
			Count:    series[k],
		})
	}
	return stats, nil
}

// Alerts returns all stored alerts, for assertions in tests.
func (s *MemoryStore) Alerts() []*SecurityAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SecurityAlert, 0, len(s.alerts))
	for _, a := range s.alerts {
		copied := *a
		out = append(out, &copied)
	}
	return out
}

// Metric returns the stored metric with the given id, if any.
func (s *MemoryStore) Metric(id string) (*SecurityMetric, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[id]
	if !ok {
		return nil, false
	}
	copied := *m
	return &copied, true
}
