package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"sapar/internal/billing"
	"sapar/internal/core"
	"sapar/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testValidator() *core.Validator {
	return core.NewValidator(discardLogger())
}

// --- Mock runner ---

// mockRunner executes the unit of work inline unless configured to replay or
// fail. Work functions that reach into the repositories get the configured
// repos; the mocked services ignore theirs.
type mockRunner struct {
	err       error
	replayed  bool
	replayOut *types.MutationOutcome
	repos     types.Repos

	runs []string // idempotency keys seen
}

func (m *mockRunner) Run(ctx context.Context, actorID, routeName, key string, work billing.UnitOfWork) (*types.MutationOutcome, bool, error) {
	m.runs = append(m.runs, key)
	if m.err != nil {
		return nil, false, m.err
	}
	if m.replayed {
		return m.replayOut, true, nil
	}
	out, err := work(ctx, m.repos)
	if err != nil {
		return nil, false, err
	}
	return out, false, nil
}

// --- Mock services ---

type mockPurchaseLedger struct {
	createPendingFn func(ctx context.Context, r types.Repos, intent billing.PurchaseIntent) (*types.Transaction, error)
	settleFn        func(ctx context.Context, r types.Repos, ident billing.SettleIdentifier, outcome types.SettlementOutcome) (*billing.SettleResult, error)
}

func (m *mockPurchaseLedger) CreatePending(ctx context.Context, r types.Repos, intent billing.PurchaseIntent) (*types.Transaction, error) {
	if m.createPendingFn != nil {
		return m.createPendingFn(ctx, r, intent)
	}
	return &types.Transaction{
		ID: "txn_1", UserID: intent.UserID, ClubID: intent.ClubID,
		ProductCode: intent.ProductCode, Provider: intent.Provider,
		AmountMinorUnits: 1000, CurrencyCode: "KZT", Status: types.TxPending,
	}, nil
}

func (m *mockPurchaseLedger) Settle(ctx context.Context, r types.Repos, ident billing.SettleIdentifier, outcome types.SettlementOutcome) (*billing.SettleResult, error) {
	if m.settleFn != nil {
		return m.settleFn(ctx, r, ident, outcome)
	}
	return &billing.SettleResult{
		Transaction: &types.Transaction{ID: "txn_1", UserID: "user_1", Status: outcome.TransactionStatus()},
	}, nil
}

type mockCreditService struct {
	consumeFn func(ctx context.Context, r types.Repos, userID string, code types.CreditCode, eventID string) (*types.Credit, error)
	grantFn   func(ctx context.Context, r types.Repos, userID string, code types.CreditCode, reason string) (*types.Credit, error)
}

func (m *mockCreditService) ConsumeOneFor(ctx context.Context, r types.Repos, userID string, code types.CreditCode, eventID string) (*types.Credit, error) {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, r, userID, code, eventID)
	}
	return nil, nil
}

func (m *mockCreditService) GrantSystem(ctx context.Context, r types.Repos, userID string, code types.CreditCode, reason string) (*types.Credit, error) {
	if m.grantFn != nil {
		return m.grantFn(ctx, r, userID, code, reason)
	}
	return &types.Credit{ID: "crd_1", UserID: userID, CreditCode: code, Status: types.CreditAvailable}, nil
}

type mockResolver struct {
	resolveFn func(ctx context.Context, clubID, userID, eventID string) (*types.EffectiveEntitlement, error)
	checkFn   func(ctx context.Context, req billing.ActionRequest) (*types.Decision, error)
}

func (m *mockResolver) Resolve(ctx context.Context, clubID, userID, eventID string) (*types.EffectiveEntitlement, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, clubID, userID, eventID)
	}
	return &types.EffectiveEntitlement{Plan: types.PlanFree, MaxParticipants: 50, MaxMembers: 50}, nil
}

func (m *mockResolver) CheckAction(ctx context.Context, req billing.ActionRequest) (*types.Decision, error) {
	if m.checkFn != nil {
		return m.checkFn(ctx, req)
	}
	return &types.Decision{Outcome: types.DecisionAllow}, nil
}

// mockNotifier records published events synchronously.
type mockNotifier struct {
	events []types.LedgerEventMessage
}

func (m *mockNotifier) NotifyAsync(msg types.LedgerEventMessage) {
	m.events = append(m.events, msg)
}

type mockVerifier struct {
	err error
}

func (m *mockVerifier) Verify(payload []byte, header string, secret string) error {
	return m.err
}

// --- Stub store (read paths only) ---

type stubTxReadRepo struct {
	getByIDFn    func(ctx context.Context, id string) (*types.Transaction, error)
	listByClubFn func(ctx context.Context, clubID string) ([]types.Transaction, error)
}

func (s *stubTxReadRepo) Insert(ctx context.Context, t *types.Transaction) error { return nil }
func (s *stubTxReadRepo) GetByID(ctx context.Context, id string) (*types.Transaction, error) {
	if s.getByIDFn != nil {
		return s.getByIDFn(ctx, id)
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil)
}
func (s *stubTxReadRepo) GetForUpdateByID(ctx context.Context, id string) (*types.Transaction, error) {
	return nil, types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil)
}
func (s *stubTxReadRepo) GetForUpdateByProviderPaymentID(ctx context.Context, providerPaymentID string) (*types.Transaction, error) {
	return nil, types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil)
}
func (s *stubTxReadRepo) MarkSettled(ctx context.Context, id string, status types.TransactionStatus, providerPaymentID string) error {
	return nil
}
func (s *stubTxReadRepo) ListByClub(ctx context.Context, clubID string) ([]types.Transaction, error) {
	if s.listByClubFn != nil {
		return s.listByClubFn(ctx, clubID)
	}
	return nil, nil
}

type stubCreditReadRepo struct {
	listByUserFn func(ctx context.Context, userID string) ([]types.Credit, error)
}

func (s *stubCreditReadRepo) Insert(ctx context.Context, c *types.Credit) error { return nil }
func (s *stubCreditReadRepo) ConsumeOldest(ctx context.Context, userID string, code types.CreditCode, eventID string) (*types.Credit, error) {
	return nil, nil
}
func (s *stubCreditReadRepo) CountAvailable(ctx context.Context, userID string, code types.CreditCode) (int, error) {
	return 0, nil
}
func (s *stubCreditReadRepo) ListConsumedForEvent(ctx context.Context, userID, eventID string) ([]types.Credit, error) {
	return nil, nil
}
func (s *stubCreditReadRepo) ListByUser(ctx context.Context, userID string) ([]types.Credit, error) {
	if s.listByUserFn != nil {
		return s.listByUserFn(ctx, userID)
	}
	return nil, nil
}

type stubSubReadRepo struct {
	getActiveFn func(ctx context.Context, clubID string) (*types.Subscription, error)
	downgradeFn func(ctx context.Context, clubID string) error
}

func (s *stubSubReadRepo) GetActive(ctx context.Context, clubID string) (*types.Subscription, error) {
	if s.getActiveFn != nil {
		return s.getActiveFn(ctx, clubID)
	}
	return nil, nil
}
func (s *stubSubReadRepo) Activate(ctx context.Context, clubID string, planID types.PlanCode, periodStart, periodEnd time.Time) error {
	return nil
}
func (s *stubSubReadRepo) DowngradeToFree(ctx context.Context, clubID string) error {
	if s.downgradeFn != nil {
		return s.downgradeFn(ctx, clubID)
	}
	return nil
}

type stubIdemRepo struct{}

func (s *stubIdemRepo) Begin(ctx context.Context, actorID, routeName, key string) (*types.IdempotencyRecord, bool, error) {
	return &types.IdempotencyRecord{ID: "idem_1", Status: types.IdemInProgress}, true, nil
}
func (s *stubIdemRepo) Complete(ctx context.Context, id string, responseStatus int, responseBody []byte) error {
	return nil
}
func (s *stubIdemRepo) Fail(ctx context.Context, id string) error { return nil }

type stubStore struct {
	txs     *stubTxReadRepo
	credits *stubCreditReadRepo
	subs    *stubSubReadRepo
}

func newStubStore() *stubStore {
	return &stubStore{txs: &stubTxReadRepo{}, credits: &stubCreditReadRepo{}, subs: &stubSubReadRepo{}}
}

func (s *stubStore) Idempotency() types.IdempotencyRepository    { return &stubIdemRepo{} }
func (s *stubStore) Transactions() types.TransactionRepository   { return s.txs }
func (s *stubStore) Credits() types.CreditRepository             { return s.credits }
func (s *stubStore) Subscriptions() types.SubscriptionRepository { return s.subs }
func (s *stubStore) RunInTx(ctx context.Context, fn func(ctx context.Context, r types.Repos) error) error {
	return fn(ctx, s)
}

var _ types.Store = (*stubStore)(nil)

// --- Request helpers ---

func userActor() types.Actor {
	return types.Actor{ID: "user_1", Type: types.ActorTypeUser, ClubID: "club_1"}
}

// newAuthedRequest builds a request carrying the given actor, as the auth
// middleware would after verifying a bearer token.
func newAuthedRequest(method, target string, body io.Reader, actor types.Actor) *http.Request {
	req := httptest.NewRequest(method, target, body)
	return req.WithContext(types.WithActor(req.Context(), actor))
}
