package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTx executes a function within a ReadCommitted transaction. Callers
// that validate-then-insert against shared rows must lock them
// (SELECT ... FOR UPDATE) inside fn; ReadCommitted takes a fresh snapshot
// per statement, so an aggregate issued after the lock is granted sees rows
// committed while the lock was being waited on. A higher isolation level
// would pin the snapshot before the wait and reintroduce the stale read.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
