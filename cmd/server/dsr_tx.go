package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"custodia/internal/dsr"
	dsrpg "custodia/internal/dsr/store/postgres"
	domainerrors "custodia/pkg/domain-errors"
)

// dsrPostgresTx runs request mutations in a database transaction. The store's
// transactional Get locks the row, so status transitions for one request id
// serialize across processes.
type dsrPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newDSRPostgresTx(db *sql.DB) *dsrPostgresTx {
	return &dsrPostgresTx{db: db}
}

func (t *dsrPostgresTx) RunInTx(ctx context.Context, _ uuid.UUID, fn func(store dsr.Store) error) error {
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

	if err := fn(dsrpg.NewTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}
