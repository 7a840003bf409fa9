package main

import (
	"context"
	"database/sql"
	"time"

	"custodia/internal/consent"
	consentpg "custodia/internal/consent/store/postgres"
	domainerrors "custodia/pkg/domain-errors"
)

const defaultTxTimeout = 5 * time.Second

// consentPostgresTx runs consent mutations in a database transaction so the
// supersede+insert pair commits atomically and concurrent writers for the
// same user serialize on the row updates.
type consentPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newConsentPostgresTx(db *sql.DB) *consentPostgresTx {
	return &consentPostgresTx{db: db}
}

func (t *consentPostgresTx) RunInTx(ctx context.Context, userID string, fn func(store consent.Store) error) error {
	if err := ctx.Err(); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Advisory lock serializes concurrent writers for the same user, so the
	// supersede+insert pair never interleaves and at most one grant per
	// consent type survives. Released automatically at commit or rollback.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return err
	}

	if err := fn(consentpg.NewTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}
