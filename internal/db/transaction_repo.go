package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"sapar/internal/types"
)

// TransactionRepo provides data access for the billing_transactions table.
//
// Key invariants:
//   - provider_payment_id is unique when present; it is the settlement dedup
//     key for redelivered provider events.
//   - MarkSettled only moves rows out of Pending. Terminal rows are never
//     touched again; the ledger treats that case as a no-op upstream.
type TransactionRepo struct {
	db DBTX
}

// NewTransactionRepo creates a new TransactionRepo backed by the given
// database connection (pool or transaction).
func NewTransactionRepo(db DBTX) *TransactionRepo {
	return &TransactionRepo{db: db}
}

const txColumns = `id, user_id, club_id, product_code, provider,
	provider_payment_id, amount_minor_units, currency_code, status,
	period_start, period_end, created_at, updated_at`

// scanTransaction scans a single transaction row. The columns must match the
// order defined in txColumns.
func scanTransaction(row pgx.Row) (*types.Transaction, error) {
	var t types.Transaction
	var clubID, providerPaymentID *string

	err := row.Scan(
		&t.ID,
		&t.UserID,
		&clubID,
		&t.ProductCode,
		&t.Provider,
		&providerPaymentID,
		&t.AmountMinorUnits,
		&t.CurrencyCode,
		&t.Status,
		&t.PeriodStart,
		&t.PeriodEnd,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if clubID != nil {
		t.ClubID = *clubID
	}
	if providerPaymentID != nil {
		t.ProviderPaymentID = *providerPaymentID
	}
	return &t, nil
}

// Insert creates a new transaction record. The caller must set the ID
// (prefixed UUID, e.g. "txn_...") and required fields before calling.
func (r *TransactionRepo) Insert(ctx context.Context, t *types.Transaction) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO billing_transactions (id, user_id, club_id, product_code, provider,
		 provider_payment_id, amount_minor_units, currency_code, status,
		 period_start, period_end, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())`,
		t.ID,
		t.UserID,
		nilIfEmpty(t.ClubID),
		t.ProductCode,
		t.Provider,
		nilIfEmpty(t.ProviderPaymentID),
		t.AmountMinorUnits,
		t.CurrencyCode,
		t.Status,
		t.PeriodStart,
		t.PeriodEnd,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create transaction", err)
	}
	return nil
}

// GetByID retrieves a transaction by its ID.
func (r *TransactionRepo) GetByID(ctx context.Context, id string) (*types.Transaction, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+txColumns+` FROM billing_transactions WHERE id = $1`,
		id,
	)
	return r.scanOne(row)
}

// GetForUpdateByID locks the transaction row for the duration of the
// enclosing database transaction.
func (r *TransactionRepo) GetForUpdateByID(ctx context.Context, id string) (*types.Transaction, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+txColumns+` FROM billing_transactions WHERE id = $1 FOR UPDATE`,
		id,
	)
	return r.scanOne(row)
}

// GetForUpdateByProviderPaymentID locks the transaction row matching the
// provider's payment identifier. This is the webhook-side lookup.
func (r *TransactionRepo) GetForUpdateByProviderPaymentID(ctx context.Context, providerPaymentID string) (*types.Transaction, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+txColumns+` FROM billing_transactions WHERE provider_payment_id = $1 FOR UPDATE`,
		providerPaymentID,
	)
	return r.scanOne(row)
}

func (r *TransactionRepo) scanOne(row pgx.Row) (*types.Transaction, error) {
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve transaction", err)
	}
	return t, nil
}

// MarkSettled moves a Pending transaction to the given terminal status. The
// status guard in the WHERE clause makes the transition race-free: if another
// settlement got there first, zero rows are affected and the caller sees a
// concurrent-modification conflict (it should have held FOR UPDATE).
func (r *TransactionRepo) MarkSettled(ctx context.Context, id string, status types.TransactionStatus, providerPaymentID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE billing_transactions
		 SET status = $1,
		     provider_payment_id = COALESCE($2, provider_payment_id),
		     updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		status,
		nilIfEmpty(providerPaymentID),
		id,
		types.TxPending,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to settle transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictConcurrent, "transaction is no longer pending", nil)
	}
	return nil
}

// ListByClub returns the club's transactions, newest first.
func (r *TransactionRepo) ListByClub(ctx context.Context, clubID string) ([]types.Transaction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+txColumns+`
		 FROM billing_transactions
		 WHERE club_id = $1
		 ORDER BY created_at DESC, id DESC`,
		clubID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query transactions", err)
	}
	defer rows.Close()

	var results []types.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan transaction row", err)
		}
		results = append(results, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating transaction rows", err)
	}
	return results, nil
}

// nilIfEmpty converts an empty string to a nil pointer for nullable columns.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
