package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"sapar/internal/types"
)

// CreditRepo provides data access for the billing_credits table.
//
// ConsumeOldest is the single hot path requiring serializability: the claim
// is a single atomic statement (FOR UPDATE SKIP LOCKED inside the UPDATE's
// subquery), so two concurrent consumption attempts never both succeed
// against the same credit and never double-consume when only one credit is
// available. No application-level lock is needed.
type CreditRepo struct {
	db DBTX
}

// NewCreditRepo creates a new CreditRepo backed by the given database
// connection (pool or transaction).
func NewCreditRepo(db DBTX) *CreditRepo {
	return &CreditRepo{db: db}
}

const creditColumns = `id, user_id, credit_code, status, source_transaction_id,
	consumed_event_id, consumed_at, expires_at, created_at, updated_at`

// scanCredit scans a single credit row. The columns must match the order
// defined in creditColumns.
func scanCredit(row pgx.Row) (*types.Credit, error) {
	var c types.Credit
	var consumedEventID *string

	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.CreditCode,
		&c.Status,
		&c.SourceTransactionID,
		&consumedEventID,
		&c.ConsumedAt,
		&c.ExpiresAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if consumedEventID != nil {
		c.ConsumedEventID = *consumedEventID
	}
	return &c, nil
}

// Insert creates a new credit record. The caller must set the ID (prefixed
// UUID, e.g. "crd_...") and required fields before calling; credits always
// start Available.
func (r *CreditRepo) Insert(ctx context.Context, c *types.Credit) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO billing_credits (id, user_id, credit_code, status,
		 source_transaction_id, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		c.ID,
		c.UserID,
		c.CreditCode,
		c.Status,
		c.SourceTransactionID,
		c.ExpiresAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create credit", err)
	}
	return nil
}

// ConsumeOldest atomically claims the oldest available, unexpired credit of
// the given code for the user. FIFO order is (created_at, id): the secondary
// key makes the order deterministic under equal-timestamp inserts.
// Returns (nil, nil) when no credit is available.
func (r *CreditRepo) ConsumeOldest(ctx context.Context, userID string, code types.CreditCode, eventID string) (*types.Credit, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE billing_credits
		 SET status = $1, consumed_event_id = $2, consumed_at = NOW(), updated_at = NOW()
		 WHERE id = (
		     SELECT id FROM billing_credits
		     WHERE user_id = $3
		       AND credit_code = $4
		       AND status = $5
		       AND (expires_at IS NULL OR expires_at > NOW())
		     ORDER BY created_at ASC, id ASC
		     FOR UPDATE SKIP LOCKED
		     LIMIT 1
		 )
		 RETURNING `+creditColumns,
		types.CreditConsumed, eventID, userID, code, types.CreditAvailable,
	)

	c, err := scanCredit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No available credit: "not entitled", not an error.
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to consume credit", err)
	}
	return c, nil
}

// CountAvailable returns the number of available, unexpired credits of the
// given code for the user.
func (r *CreditRepo) CountAvailable(ctx context.Context, userID string, code types.CreditCode) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM billing_credits
		 WHERE user_id = $1
		   AND credit_code = $2
		   AND status = $3
		   AND (expires_at IS NULL OR expires_at > NOW())`,
		userID, code, types.CreditAvailable,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count available credits", err)
	}
	return count, nil
}

// ListConsumedForEvent returns the credits the user has already consumed
// against the given event, across codes.
func (r *CreditRepo) ListConsumedForEvent(ctx context.Context, userID, eventID string) ([]types.Credit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+creditColumns+`
		 FROM billing_credits
		 WHERE user_id = $1 AND consumed_event_id = $2 AND status = $3
		 ORDER BY consumed_at ASC, id ASC`,
		userID, eventID, types.CreditConsumed,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query consumed credits", err)
	}
	defer rows.Close()
	return collectCredits(rows)
}

// ListByUser returns all of the user's credits, oldest first.
func (r *CreditRepo) ListByUser(ctx context.Context, userID string) ([]types.Credit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+creditColumns+`
		 FROM billing_credits
		 WHERE user_id = $1
		 ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query credits", err)
	}
	defer rows.Close()
	return collectCredits(rows)
}

func collectCredits(rows pgx.Rows) ([]types.Credit, error) {
	var results []types.Credit
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan credit row", err)
		}
		results = append(results, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating credit rows", err)
	}
	return results, nil
}
