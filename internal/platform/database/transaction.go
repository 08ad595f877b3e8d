package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jinford/hansard-rag/internal/module/vectorstore/adapter/pg/sqlc"
	"github.com/jinford/hansard-rag/pkg/lock"
)

// Adapter bundles the data-access adapters that operate inside a single transaction.
// It follows the pattern described in https://threedots.tech/post/database-transactions-in-go/
type Adapter struct {
	Queries *sqlc.Queries
	Locks   *lock.Manager
}

func newAdapter(tx pgx.Tx) *Adapter {
	return &Adapter{
		Queries: sqlc.New(tx),
		Locks:   lock.NewManager(tx),
	}
}

// Transact opens a transaction, builds adapters, and passes them to fn.
// The whole transaction is retried on transient errors; fn must therefore be safe to re-run.
func Transact[T any](ctx context.Context, m *Manager, fn func(*Adapter) (T, error)) (T, error) {
	var result T
	_, err := m.Retry(ctx, func(ctx context.Context) error {
		r, err := transactOnce(ctx, m, fn)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func transactOnce[T any](ctx context.Context, m *Manager, fn func(*Adapter) (T, error)) (T, error) {
	var zero T
	pool, err := m.Pool()
	if err != nil {
		return zero, err
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return zero, Classify("begin transaction", err)
	}

	result, err := fn(newAdapter(tx))
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return zero, fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
		}
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, Classify("commit", err)
	}

	return result, nil
}
