package export

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"custodia/internal/audit"
	"custodia/internal/consent"
)

// ConsentHistorySource exports the subject's full consent ledger, including
// withdrawn and superseded grants.
type ConsentHistorySource struct {
	consents *consent.Service
}

// NewConsentHistorySource adapts the consent service into a DomainSource.
func NewConsentHistorySource(consents *consent.Service) *ConsentHistorySource {
	return &ConsentHistorySource{consents: consents}
}

func (s *ConsentHistorySource) Name() string { return "consent_history" }

func (s *ConsentHistorySource) Collect(ctx context.Context, subjectID, tenant string) (any, error) {
	records, err := s.consents.History(ctx, subjectID, tenant)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		entry := map[string]any{
			"id":           record.ID.String(),
			"consent_type": record.ConsentType,
			"purpose":      record.Purpose,
			"legal_basis":  string(record.LegalBasis),
			"status":       string(record.Status),
			"version":      record.Version,
			"given_at":     record.GivenAt,
		}
		if record.WithdrawnAt != nil {
			entry["withdrawn_at"] = *record.WithdrawnAt
			entry["withdraw_reason"] = record.WithdrawReason
		}
		out = append(out, entry)
	}
	return out, nil
}

// SecurityEventsSource exports the subject's audit trail with sensitive
// metadata decrypted; the anonymizer masks it again before release.
type SecurityEventsSource struct {
	auditor *audit.Service
}

// NewSecurityEventsSource adapts the audit service into a DomainSource.
func NewSecurityEventsSource(auditor *audit.Service) *SecurityEventsSource {
	return &SecurityEventsSource{auditor: auditor}
}

func (s *SecurityEventsSource) Name() string { return "security_events" }

func (s *SecurityEventsSource) Collect(ctx context.Context, subjectID, tenant string) (any, error) {
	result, err := s.auditor.Query(ctx, audit.Filter{Actor: subjectID, Tenant: tenant, Limit: -1})
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(result.Events))
	for _, event := range result.Events {
		out = append(out, map[string]any{
			"id":          event.ID.String(),
			"type":        event.Type,
			"category":    event.Category,
			"severity":    string(event.Severity),
			"description": event.Description,
			"outcome":     string(event.Outcome),
			"timestamp":   event.Timestamp,
			"metadata":    event.Metadata,
		})
	}
	return out, nil
}

// SQLSource exports one platform-owned data domain through a parameterized
// query. The query receives ($1 = subject id, $2 = tenant) and every selected
// column becomes a document field.
type SQLSource struct {
	name  string
	pool  *pgxpool.Pool
	query string
}

// NewSQLSource builds a DomainSource from a query. Used for the platform
// domains (profile, work items, uploads, ...) that live outside this module.
func NewSQLSource(name string, pool *pgxpool.Pool, query string) *SQLSource {
	return &SQLSource{name: name, pool: pool, query: query}
}

func (s *SQLSource) Name() string { return s.name }

func (s *SQLSource) Collect(ctx context.Context, subjectID, tenant string) (any, error) {
	rows, err := s.pool.Query(ctx, s.query, subjectID, tenant)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.name, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read %s row: %w", s.name, err)
		}
		entry := make(map[string]any, len(fields))
		for i, field := range fields {
			entry[field.Name] = values[i]
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", s.name, err)
	}
	return out, nil
}
