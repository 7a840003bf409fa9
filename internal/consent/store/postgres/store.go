// Package postgres implements the consent ledger on PostgreSQL. Writes run
// through a *sql.Tx handed in by the transaction runner so supersede+insert
// commit or roll back together.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"custodia/internal/consent"
)

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the PostgreSQL consent ledger.
type Store struct {
	q Queryer
}

// New creates a Store over a database handle.
func New(q Queryer) *Store {
	return &Store{q: q}
}

// NewTx creates a Store bound to an open transaction.
func NewTx(tx *sql.Tx) *Store {
	return &Store{q: tx}
}

func (s *Store) Insert(ctx context.Context, record *consent.ConsentRecord) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO consent_records (
			id, user_id, tenant, consent_type, purpose, legal_basis, status,
			consent_text, version, given_at, withdrawn_at, withdraw_reason,
			expires_at, ip_address, user_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		record.ID, record.UserID, record.Tenant, record.ConsentType,
		record.Purpose, record.LegalBasis, record.Status, record.ConsentText,
		record.Version, record.GivenAt, record.WithdrawnAt, record.WithdrawReason,
		record.ExpiresAt, record.IPAddress, record.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("insert consent record: %w", err)
	}
	return nil
}

func (s *Store) SupersedeActive(ctx context.Context, userID, tenant, consentType string, withdrawnAt time.Time, reason string) (int64, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE consent_records
		SET status = $1, withdrawn_at = $2, withdraw_reason = $3
		WHERE user_id = $4 AND tenant = $5 AND consent_type = $6 AND status = $7`,
		consent.StatusWithdrawn, withdrawnAt, reason,
		userID, tenant, consentType, consent.StatusGiven,
	)
	if err != nil {
		return 0, fmt.Errorf("supersede active consents: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count superseded consents: %w", err)
	}
	return affected, nil
}

const selectColumns = `
	SELECT id, user_id, tenant, consent_type, purpose, legal_basis, status,
	       consent_text, version, given_at, withdrawn_at, withdraw_reason,
	       expires_at, ip_address, user_agent
	FROM consent_records`

func (s *Store) ListGiven(ctx context.Context, userID, tenant, consentType string, now time.Time) ([]*consent.ConsentRecord, error) {
	query := selectColumns + `
		WHERE user_id = $1 AND tenant = $2 AND status = $3
		  AND (expires_at IS NULL OR expires_at > $4)`
	args := []any{userID, tenant, consent.StatusGiven, now}
	if consentType != "" {
		args = append(args, consentType)
		query += fmt.Sprintf(" AND consent_type = $%d", len(args))
	}
	query += " ORDER BY given_at DESC"
	return s.list(ctx, query, args...)
}

func (s *Store) ListByUser(ctx context.Context, userID, tenant string) ([]*consent.ConsentRecord, error) {
	query := selectColumns + `
		WHERE user_id = $1 AND tenant = $2
		ORDER BY given_at DESC`
	return s.list(ctx, query, userID, tenant)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*consent.ConsentRecord, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query consent records: %w", err)
	}
	defer rows.Close()

	var records []*consent.ConsentRecord
	for rows.Next() {
		var record consent.ConsentRecord
		if err := rows.Scan(
			&record.ID, &record.UserID, &record.Tenant, &record.ConsentType,
			&record.Purpose, &record.LegalBasis, &record.Status,
			&record.ConsentText, &record.Version, &record.GivenAt,
			&record.WithdrawnAt, &record.WithdrawReason, &record.ExpiresAt,
			&record.IPAddress, &record.UserAgent,
		); err != nil {
			return nil, fmt.Errorf("scan consent record: %w", err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consent records: %w", err)
	}
	return records, nil
}

func (s *Store) CountByStatus(ctx context.Context, tenant string) (map[consent.Status]int, error) {
	query := `SELECT status, COUNT(*) FROM consent_records`
	var args []any
	if tenant != "" {
		query += ` WHERE tenant = $1`
		args = append(args, tenant)
	}
	query += ` GROUP BY status`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count consents by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[consent.Status]int)
	for rows.Next() {
		var status consent.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan consent count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consent counts: %w", err)
	}
	return counts, nil
}
