package billing

import (
	"context"
	"io"
	"log/slog"
	"time"

	"sapar/internal/types"
)

// discardLogger returns a logger whose output goes nowhere.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Fake repositories (function-field style) ---

type fakeIdemRepo struct {
	beginFn    func(ctx context.Context, actorID, routeName, key string) (*types.IdempotencyRecord, bool, error)
	completeFn func(ctx context.Context, id string, responseStatus int, responseBody []byte) error
	failFn     func(ctx context.Context, id string) error

	completedIDs []string
	failedIDs    []string
}

func (f *fakeIdemRepo) Begin(ctx context.Context, actorID, routeName, key string) (*types.IdempotencyRecord, bool, error) {
	if f.beginFn != nil {
		return f.beginFn(ctx, actorID, routeName, key)
	}
	return &types.IdempotencyRecord{ID: "idem_1", ActorID: actorID, RouteName: routeName, Key: key,
		Status: types.IdemInProgress}, true, nil
}

func (f *fakeIdemRepo) Complete(ctx context.Context, id string, responseStatus int, responseBody []byte) error {
	f.completedIDs = append(f.completedIDs, id)
	if f.completeFn != nil {
		return f.completeFn(ctx, id, responseStatus, responseBody)
	}
	return nil
}

func (f *fakeIdemRepo) Fail(ctx context.Context, id string) error {
	f.failedIDs = append(f.failedIDs, id)
	if f.failFn != nil {
		return f.failFn(ctx, id)
	}
	return nil
}

type settleCall struct {
	id                string
	status            types.TransactionStatus
	providerPaymentID string
}

type fakeTxRepo struct {
	getByIDFn          func(ctx context.Context, id string) (*types.Transaction, error)
	getForUpdateByIDFn func(ctx context.Context, id string) (*types.Transaction, error)
	getForUpdateByPPID func(ctx context.Context, providerPaymentID string) (*types.Transaction, error)
	markSettledFn      func(ctx context.Context, id string, status types.TransactionStatus, providerPaymentID string) error
	listByClubFn       func(ctx context.Context, clubID string) ([]types.Transaction, error)

	inserted []*types.Transaction
	settled  []settleCall
}

func (f *fakeTxRepo) Insert(ctx context.Context, t *types.Transaction) error {
	f.inserted = append(f.inserted, t)
	return nil
}

func (f *fakeTxRepo) GetByID(ctx context.Context, id string) (*types.Transaction, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil)
}

func (f *fakeTxRepo) GetForUpdateByID(ctx context.Context, id string) (*types.Transaction, error) {
	if f.getForUpdateByIDFn != nil {
		return f.getForUpdateByIDFn(ctx, id)
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil)
}

func (f *fakeTxRepo) GetForUpdateByProviderPaymentID(ctx context.Context, providerPaymentID string) (*types.Transaction, error) {
	if f.getForUpdateByPPID != nil {
		return f.getForUpdateByPPID(ctx, providerPaymentID)
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil)
}

func (f *fakeTxRepo) MarkSettled(ctx context.Context, id string, status types.TransactionStatus, providerPaymentID string) error {
	f.settled = append(f.settled, settleCall{id: id, status: status, providerPaymentID: providerPaymentID})
	if f.markSettledFn != nil {
		return f.markSettledFn(ctx, id, status, providerPaymentID)
	}
	return nil
}

func (f *fakeTxRepo) ListByClub(ctx context.Context, clubID string) ([]types.Transaction, error) {
	if f.listByClubFn != nil {
		return f.listByClubFn(ctx, clubID)
	}
	return nil, nil
}

type fakeCreditRepo struct {
	consumeOldestFn func(ctx context.Context, userID string, code types.CreditCode, eventID string) (*types.Credit, error)
	countFn         func(ctx context.Context, userID string, code types.CreditCode) (int, error)
	consumedForFn   func(ctx context.Context, userID, eventID string) ([]types.Credit, error)
	listByUserFn    func(ctx context.Context, userID string) ([]types.Credit, error)

	inserted []*types.Credit
}

func (f *fakeCreditRepo) Insert(ctx context.Context, c *types.Credit) error {
	f.inserted = append(f.inserted, c)
	return nil
}

func (f *fakeCreditRepo) ConsumeOldest(ctx context.Context, userID string, code types.CreditCode, eventID string) (*types.Credit, error) {
	if f.consumeOldestFn != nil {
		return f.consumeOldestFn(ctx, userID, code, eventID)
	}
	return nil, nil
}

func (f *fakeCreditRepo) CountAvailable(ctx context.Context, userID string, code types.CreditCode) (int, error) {
	if f.countFn != nil {
		return f.countFn(ctx, userID, code)
	}
	return 0, nil
}

func (f *fakeCreditRepo) ListConsumedForEvent(ctx context.Context, userID, eventID string) ([]types.Credit, error) {
	if f.consumedForFn != nil {
		return f.consumedForFn(ctx, userID, eventID)
	}
	return nil, nil
}

func (f *fakeCreditRepo) ListByUser(ctx context.Context, userID string) ([]types.Credit, error) {
	if f.listByUserFn != nil {
		return f.listByUserFn(ctx, userID)
	}
	return nil, nil
}

type activateCall struct {
	clubID      string
	planID      types.PlanCode
	periodStart time.Time
	periodEnd   time.Time
}

type fakeSubRepo struct {
	getActiveFn func(ctx context.Context, clubID string) (*types.Subscription, error)
	activateFn  func(ctx context.Context, clubID string, planID types.PlanCode, periodStart, periodEnd time.Time) error

	activated []activateCall
}

func (f *fakeSubRepo) GetActive(ctx context.Context, clubID string) (*types.Subscription, error) {
	if f.getActiveFn != nil {
		return f.getActiveFn(ctx, clubID)
	}
	return nil, nil
}

func (f *fakeSubRepo) Activate(ctx context.Context, clubID string, planID types.PlanCode, periodStart, periodEnd time.Time) error {
	f.activated = append(f.activated, activateCall{clubID: clubID, planID: planID, periodStart: periodStart, periodEnd: periodEnd})
	if f.activateFn != nil {
		return f.activateFn(ctx, clubID, planID, periodStart, periodEnd)
	}
	return nil
}

func (f *fakeSubRepo) DowngradeToFree(ctx context.Context, clubID string) error {
	return nil
}

// fakeStore satisfies types.Store. RunInTx executes the callback directly
// against the same fake repositories.
type fakeStore struct {
	idem    *fakeIdemRepo
	txs     *fakeTxRepo
	credits *fakeCreditRepo
	subs    *fakeSubRepo
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		idem:    &fakeIdemRepo{},
		txs:     &fakeTxRepo{},
		credits: &fakeCreditRepo{},
		subs:    &fakeSubRepo{},
	}
}

func (s *fakeStore) Idempotency() types.IdempotencyRepository    { return s.idem }
func (s *fakeStore) Transactions() types.TransactionRepository   { return s.txs }
func (s *fakeStore) Credits() types.CreditRepository             { return s.credits }
func (s *fakeStore) Subscriptions() types.SubscriptionRepository { return s.subs }

func (s *fakeStore) RunInTx(ctx context.Context, fn func(ctx context.Context, r types.Repos) error) error {
	return fn(ctx, s)
}

var _ types.Store = (*fakeStore)(nil)
