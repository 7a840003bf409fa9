// Package postgres implements the audit store on PostgreSQL. Events live in
// security_events as append-only rows with JSONB metadata; alerts and metrics
// live in their own tables.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"custodia/internal/audit"
)

// Store is the PostgreSQL audit store.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store on the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Append(ctx context.Context, event *audit.SecurityEvent) error {
	metadata, err := marshalMeta(event.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO security_events (
			id, source, event_type, category, severity, description,
			actor, target, outcome, ip_address, user_agent, occurred_at,
			metadata, tenant, retention_until, encrypted
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		event.ID, event.Source, event.Type, event.Category, event.Severity,
		event.Description, event.Actor, event.Target, event.Outcome,
		event.IPAddress, event.UserAgent, event.Timestamp, metadata,
		event.Tenant, event.RetentionUntil, event.Encrypted,
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]*audit.SecurityEvent, int, error) {
	where, args := buildWhere(filter)

	var total int
	countQuery := "SELECT COUNT(*) FROM security_events" + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count security events: %w", err)
	}

	query := `
		SELECT id, source, event_type, category, severity, description,
		       actor, target, outcome, ip_address, user_agent, occurred_at,
		       metadata, tenant, retention_until, encrypted
		FROM security_events` + where + " ORDER BY occurred_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var events []*audit.SecurityEvent
	for rows.Next() {
		var event audit.SecurityEvent
		var metadata []byte
		if err := rows.Scan(
			&event.ID, &event.Source, &event.Type, &event.Category,
			&event.Severity, &event.Description, &event.Actor, &event.Target,
			&event.Outcome, &event.IPAddress, &event.UserAgent, &event.Timestamp,
			&metadata, &event.Tenant, &event.RetentionUntil, &event.Encrypted,
		); err != nil {
			return nil, 0, fmt.Errorf("scan security event: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, 0, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate security events: %w", err)
	}
	return events, total, nil
}

func buildWhere(filter audit.Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Type != "" {
		add("event_type = $%d", filter.Type)
	}
	if filter.Category != "" {
		add("category = $%d", filter.Category)
	}
	if filter.Severity != "" {
		add("severity = $%d", string(filter.Severity))
	}
	if filter.Actor != "" {
		add("actor = $%d", filter.Actor)
	}
	if filter.Tenant != "" {
		add("tenant = $%d", filter.Tenant)
	}
	if !filter.DateFrom.IsZero() {
		add("occurred_at >= $%d", filter.DateFrom)
	}
	if !filter.DateTo.IsZero() {
		add("occurred_at <= $%d", filter.DateTo)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM security_events WHERE retention_until < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CountByActor(ctx context.Context, actor, tenant string) (int, error) {
	query := `SELECT COUNT(*) FROM security_events WHERE actor = $1`
	args := []any{actor}
	if tenant != "" {
		query += ` AND tenant = $2`
		args = append(args, tenant)
	}
	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events by actor: %w", err)
	}
	return count, nil
}

func (s *Store) CreateAlert(ctx context.Context, alert *audit.SecurityAlert) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO security_alerts (
			id, event_id, alert_type, severity, title, description,
			status, tenant, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		alert.ID, alert.EventID, alert.Type, alert.Severity, alert.Title,
		alert.Description, alert.Status, alert.Tenant, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert security alert: %w", err)
	}
	return nil
}

func (s *Store) UpsertMetric(ctx context.Context, metric *audit.SecurityMetric, delta float64) error {
	dimensions, err := marshalMeta(metric.Dimensions)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO security_metrics (
			metric_id, name, metric_type, category, value, dimensions, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (metric_id) DO UPDATE SET
			value = security_metrics.value + EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`,
		metric.MetricID, metric.Name, metric.Type, metric.Category,
		delta, dimensions, metric.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert security metric: %w", err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context, tenant string, since time.Time) (*audit.Stats, error) {
	where := " WHERE occurred_at >= $1"
	args := []any{since}
	if tenant != "" {
		where += " AND tenant = $2"
		args = append(args, tenant)
	}

	stats := &audit.Stats{
		SeverityBreakdown: make(map[audit.Severity]int),
		TypeBreakdown:     make(map[string]int),
		CategoryBreakdown: make(map[string]int),
	}

	rows, err := s.pool.Query(ctx, `
		SELECT severity, event_type, category, COUNT(*)
		FROM security_events`+where+`
		GROUP BY severity, event_type, category`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate security events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var severity audit.Severity
		var eventType, category string
		var count int
		if err := rows.Scan(&severity, &eventType, &category, &count); err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		stats.TotalEvents += count
		stats.SeverityBreakdown[severity] += count
		stats.TypeBreakdown[eventType] += count
		stats.CategoryBreakdown[category] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregate rows: %w", err)
	}

	seriesRows, err := s.pool.Query(ctx, `
		SELECT to_char(occurred_at, 'YYYY-MM-DD') AS day, severity, COUNT(*)
		FROM security_events`+where+`
		GROUP BY day, severity
		ORDER BY day, severity`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate event time series: %w", err)
	}
	defer seriesRows.Close()
	for seriesRows.Next() {
		var point audit.TimeSeriesPoint
		if err := seriesRows.Scan(&point.Date, &point.Severity, &point.Count); err != nil {
			return nil, fmt.Errorf("scan time series row: %w", err)
		}
		stats.TimeSeries = append(stats.TimeSeries, point)
	}
	if err := seriesRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate time series rows: %w", err)
	}
	return stats, nil
}

func marshalMeta(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return raw, nil
}
