// Package db provides PostgreSQL-backed repository implementations for the
// Sapar billing ledger. All repositories accept a DBTX interface that is
// satisfied by both *pgxpool.Pool (for normal queries) and pgx.Tx (for
// transactional execution), enabling clean transaction support.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sapar/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store owns the connection pool and implements types.Store. It hands out
// pool-bound repositories for reads and runs mutations inside a single
// database transaction via RunInTx. The pool's lifecycle is owned by the
// process entry point; components receive the Store by injection.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// repos bundles repositories bound to a single DBTX.
type repos struct {
	q DBTX
}

func (r repos) Idempotency() types.IdempotencyRepository    { return NewIdempotencyRepo(r.q) }
func (r repos) Transactions() types.TransactionRepository   { return NewTransactionRepo(r.q) }
func (r repos) Credits() types.CreditRepository             { return NewCreditRepo(r.q) }
func (r repos) Subscriptions() types.SubscriptionRepository { return NewSubscriptionRepo(r.q) }

// Pool-bound repository accessors (autocommit reads and standalone writes).

func (s *Store) Idempotency() types.IdempotencyRepository    { return NewIdempotencyRepo(s.pool) }
func (s *Store) Transactions() types.TransactionRepository   { return NewTransactionRepo(s.pool) }
func (s *Store) Credits() types.CreditRepository             { return NewCreditRepo(s.pool) }
func (s *Store) Subscriptions() types.SubscriptionRepository { return NewSubscriptionRepo(s.pool) }

// RunInTx executes fn inside a single database transaction. The repositories
// handed to fn are bound to that transaction; either every write fn performs
// commits, or none does. A panic inside fn rolls back and re-panics.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, r types.Repos) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx, repos{q: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.ErrorContext(ctx, "transaction rollback failed",
				"error", rbErr,
			)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return nil
}

// Close releases the connection pool. Called once during shutdown.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
