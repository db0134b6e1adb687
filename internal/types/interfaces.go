package types

import (
	"context"
	"time"
)

// IdempotencyRepository is the durable map from (actor, route, key) to an
// in-flight or completed outcome.
type IdempotencyRepository interface {
	// Begin atomically records the first attempt for the triple.
	// fresh=true means the caller owns the key and must execute its unit of
	// work. fresh=false returns the existing record: Completed records carry
	// the stored response for replay; InProgress records signal a concurrent
	// duplicate the caller must reject with ErrCodeConflictRequestInProgress.
	// Failed records are retaken atomically and reported as fresh.
	Begin(ctx context.Context, actorID, routeName, key string) (rec *IdempotencyRecord, fresh bool, err error)

	// Complete marks the record Completed with the captured response.
	// Must be executed in the same storage transaction as the domain mutation.
	Complete(ctx context.Context, id string, responseStatus int, responseBody []byte) error

	// Fail marks the record Failed so the key becomes retryable.
	Fail(ctx context.Context, id string) error
}

// TransactionRepository provides data access for billing_transactions.
type TransactionRepository interface {
	Insert(ctx context.Context, tx *Transaction) error

	GetByID(ctx context.Context, id string) (*Transaction, error)

	// GetForUpdateByID locks the row for the duration of the enclosing
	// transaction. Settlement must hold this lock across the status check and
	// the downstream effects.
	GetForUpdateByID(ctx context.Context, id string) (*Transaction, error)

	// GetForUpdateByProviderPaymentID is the webhook-side lookup; the
	// provider payment ID is unique when present.
	GetForUpdateByProviderPaymentID(ctx context.Context, providerPaymentID string) (*Transaction, error)

	// MarkSettled moves a Pending transaction to the given terminal status,
	// stamping the provider payment ID if it was not known at intent time.
	// Returns ErrCodeConflictConcurrent if the row is no longer Pending.
	MarkSettled(ctx context.Context, id string, status TransactionStatus, providerPaymentID string) error

	// ListByClub returns the club's transactions, newest first.
	ListByClub(ctx context.Context, clubID string) ([]Transaction, error)
}

// CreditRepository provides data access for billing_credits.
type CreditRepository interface {
	Insert(ctx context.Context, c *Credit) error

	// ConsumeOldest atomically claims the oldest available, unexpired credit
	// of the given code for the user and marks it consumed for the event.
	// Returns (nil, nil) when no credit is available -- the caller treats
	// that as "not entitled", not as an error. Two concurrent calls never
	// claim the same row.
	ConsumeOldest(ctx context.Context, userID string, code CreditCode, eventID string) (*Credit, error)

	// CountAvailable returns the number of available, unexpired credits of
	// the given code for the user.
	CountAvailable(ctx context.Context, userID string, code CreditCode) (int, error)

	// ListConsumedForEvent returns the credits already consumed against the
	// given event, across codes.
	ListConsumedForEvent(ctx context.Context, userID, eventID string) ([]Credit, error)

	// ListByUser returns all of the user's credits, oldest first.
	ListByUser(ctx context.Context, userID string) ([]Credit, error)
}

// SubscriptionRepository provides data access for club_subscriptions.
type SubscriptionRepository interface {
	// GetActive returns the club's current subscription row, or (nil, nil)
	// when the club has never subscribed.
	GetActive(ctx context.Context, clubID string) (*Subscription, error)

	// Activate upserts the club's subscription, always superseding any prior
	// row. Called only from settlement of a club-plan transaction.
	Activate(ctx context.Context, clubID string, planID PlanCode, periodStart, periodEnd time.Time) error

	// DowngradeToFree sets the free tier and clears the period fields.
	DowngradeToFree(ctx context.Context, clubID string) error
}

// Repos provides access to all repository instances. Inside RunInTx the
// repositories are bound to the enclosing transaction.
type Repos interface {
	Idempotency() IdempotencyRepository
	Transactions() TransactionRepository
	Credits() CreditRepository
	Subscriptions() SubscriptionRepository
}

// Store is the injected storage handle. It provides pool-bound repositories
// for reads and transactional execution for mutations; every mutating ledger
// operation runs inside a single RunInTx call so partial application is
// impossible.
type Store interface {
	Repos

	RunInTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}
