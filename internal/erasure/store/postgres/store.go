// Package postgres implements the erasure engine's persistence: the subject
// tombstone, legal holds, and a generic per-table domain purger.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"custodia/internal/erasure"
	domainerrors "custodia/pkg/domain-errors"
)

// SubjectStore tombstones rows in the users table.
type SubjectStore struct {
	pool *pgxpool.Pool
}

// NewSubjectStore creates a SubjectStore on the given pool.
func NewSubjectStore(pool *pgxpool.Pool) *SubjectStore {
	return &SubjectStore{pool: pool}
}

func (s *SubjectStore) Tombstone(ctx context.Context, userID, tenant string, deletedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET email = $1, display_name = $2, password_hash = NULL,
		    active = FALSE, deleted_at = $3
		WHERE id = $4 AND tenant = $5 AND deleted_at IS NULL`,
		erasure.TombstoneEmail(userID), erasure.TombstoneName, deletedAt,
		userID, tenant,
	)
	if err != nil {
		return fmt.Errorf("tombstone user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.New(domainerrors.CodeNotFound, "user not found or already deleted")
	}
	return nil
}

// HoldStore persists legal holds in the legal_holds table.
type HoldStore struct {
	pool *pgxpool.Pool
}

// NewHoldStore creates a HoldStore on the given pool.
func NewHoldStore(pool *pgxpool.Pool) *HoldStore {
	return &HoldStore{pool: pool}
}

func (s *HoldStore) Create(ctx context.Context, hold *erasure.Hold) error {
	if hold.ID == uuid.Nil {
		hold.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO legal_holds (id, user_id, tenant, reason, created_by, created_at, expires_at, released)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)`,
		hold.ID, hold.UserID, hold.Tenant, hold.Reason, hold.CreatedBy,
		hold.CreatedAt, hold.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert legal hold: %w", err)
	}
	return nil
}

func (s *HoldStore) Release(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE legal_holds SET released = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("release legal hold: %w", err)
	}
	return nil
}

func (s *HoldStore) ActiveHolds(ctx context.Context, userID, tenant string, now time.Time) ([]*erasure.Hold, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, tenant, reason, created_by, created_at, expires_at, released
		FROM legal_holds
		WHERE user_id = $1 AND tenant = $2 AND released = FALSE
		  AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY created_at`,
		userID, tenant, now,
	)
	if err != nil {
		return nil, fmt.Errorf("query legal holds: %w", err)
	}
	defer rows.Close()

	var holds []*erasure.Hold
	for rows.Next() {
		var hold erasure.Hold
		if err := rows.Scan(
			&hold.ID, &hold.UserID, &hold.Tenant, &hold.Reason,
			&hold.CreatedBy, &hold.CreatedAt, &hold.ExpiresAt, &hold.Released,
		); err != nil {
			return nil, fmt.Errorf("scan legal hold: %w", err)
		}
		holds = append(holds, &hold)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate legal holds: %w", err)
	}
	return holds, nil
}

// TablePurger hard-deletes a subject's rows from one table. The table and
// column names come from trusted wiring code, never from request input.
type TablePurger struct {
	name       string
	pool       *pgxpool.Pool
	table      string
	userColumn string
}

// NewTablePurger creates a purger for one dependent domain.
func NewTablePurger(name string, pool *pgxpool.Pool, table, userColumn string) *TablePurger {
	return &TablePurger{name: name, pool: pool, table: table, userColumn: userColumn}
}

func (p *TablePurger) Name() string { return p.name }

func (p *TablePurger) Count(ctx context.Context, userID, tenant string) (int64, error) {
	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = $1 AND tenant = $2`, p.table, p.userColumn)
	if err := p.pool.QueryRow(ctx, query, userID, tenant).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s rows: %w", p.name, err)
	}
	return count, nil
}

func (p *TablePurger) Purge(ctx context.Context, userID, tenant string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND tenant = $2`, p.table, p.userColumn)
	tag, err := p.pool.Exec(ctx, query, userID, tenant)
	if err != nil {
		return 0, fmt.Errorf("purge %s rows: %w", p.name, err)
	}
	return tag.RowsAffected(), nil
}
