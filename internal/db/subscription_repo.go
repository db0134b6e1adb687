package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"sapar/internal/types"
)

// SubscriptionRepo provides data access for the club_subscriptions table.
// One row per club; Activate upserts so a new settlement always supersedes
// any prior row. No history is retained -- entitlement questions only ever
// need what applies right now.
type SubscriptionRepo struct {
	db DBTX
}

// NewSubscriptionRepo creates a new SubscriptionRepo backed by the given
// database connection (pool or transaction).
func NewSubscriptionRepo(db DBTX) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

const subColumns = `club_id, plan_id, status, current_period_start,
	current_period_end, grace_until, created_at, updated_at`

// scanSubscription scans a single subscription row. The columns must match
// the order defined in subColumns.
func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var s types.Subscription
	err := row.Scan(
		&s.ClubID,
		&s.PlanID,
		&s.Status,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.GraceUntil,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetActive returns the club's current subscription row, or (nil, nil) when
// the club has never subscribed. Callers treat the absence as the free tier.
func (r *SubscriptionRepo) GetActive(ctx context.Context, clubID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subColumns+` FROM club_subscriptions WHERE club_id = $1`,
		clubID,
	)
	s, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve subscription", err)
	}
	return s, nil
}

// Activate upserts the club's subscription. Called only from settlement of a
// club-plan transaction, inside the settlement's database transaction.
func (r *SubscriptionRepo) Activate(ctx context.Context, clubID string, planID types.PlanCode, periodStart, periodEnd time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO club_subscriptions (club_id, plan_id, status,
		 current_period_start, current_period_end, grace_until, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULL, NOW(), NOW())
		 ON CONFLICT (club_id) DO UPDATE
		 SET plan_id = EXCLUDED.plan_id,
		     status = EXCLUDED.status,
		     current_period_start = EXCLUDED.current_period_start,
		     current_period_end = EXCLUDED.current_period_end,
		     grace_until = NULL,
		     updated_at = NOW()`,
		clubID, planID, types.SubActive, periodStart, periodEnd,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to activate subscription", err)
	}
	return nil
}

// DowngradeToFree sets the free tier and clears the period fields. Explicit
// downgrade is the only mutation besides settlement.
func (r *SubscriptionRepo) DowngradeToFree(ctx context.Context, clubID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE club_subscriptions
		 SET plan_id = $1,
		     status = $2,
		     current_period_start = NULL,
		     current_period_end = NULL,
		     grace_until = NULL,
		     updated_at = NOW()
		 WHERE club_id = $3`,
		types.PlanFree, types.SubActive, clubID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to downgrade subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "club has no subscription", nil)
	}
	return nil
}
