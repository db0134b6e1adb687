// Package handlers contains the HTTP handler implementations for the Sapar
// billing API. Each handler file defines the narrow service interfaces it
// needs and injects implementations via its constructor, which keeps handlers
// decoupled from concrete services and easy to mock in tests.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sapar/internal/billing"
	"sapar/internal/core"
	"sapar/internal/queue"
	"sapar/internal/types"
)

// idempotencyKeyHeader carries the client-chosen key that makes a mutating
// request safe to retry.
const idempotencyKeyHeader = "Idempotency-Key"

// MutationRunner executes a unit of work with exactly-once semantics.
type MutationRunner interface {
	Run(ctx context.Context, actorID, routeName, key string, work billing.UnitOfWork) (*types.MutationOutcome, bool, error)
}

// PurchaseLedger is the slice of the transaction ledger the purchase and
// settlement endpoints need.
type PurchaseLedger interface {
	CreatePending(ctx context.Context, r types.Repos, intent billing.PurchaseIntent) (*types.Transaction, error)
	Settle(ctx context.Context, r types.Repos, ident billing.SettleIdentifier, outcome types.SettlementOutcome) (*billing.SettleResult, error)
}

// LedgerNotifier publishes post-commit ledger events. Fire and forget.
type LedgerNotifier interface {
	NotifyAsync(msg types.LedgerEventMessage)
}

// CreatePurchaseRequest is the body for POST /v1/billing/purchases.
type CreatePurchaseRequest struct {
	ProductCode       string `json:"product_code" validate:"required"`
	ClubID            string `json:"club_id,omitempty"`
	ProviderPaymentID string `json:"provider_payment_id,omitempty"`
}

// SettleRequest is the body for POST /v1/billing/settlements. Exactly one of
// TransactionID and ProviderPaymentID must be set.
type SettleRequest struct {
	TransactionID     string `json:"transaction_id,omitempty"`
	ProviderPaymentID string `json:"provider_payment_id,omitempty"`
	Outcome           string `json:"outcome" validate:"required,oneof=completed failed refunded"`
}

// SettleResponse is the body returned by settlement endpoints.
type SettleResponse struct {
	Transaction   *types.Transaction `json:"transaction"`
	WasNoOp       bool               `json:"was_no_op"`
	IssuedCredits []types.Credit     `json:"issued_credits,omitempty"`
	ActivatedPlan types.PlanCode     `json:"activated_plan,omitempty"`
}

// PurchasesHandler serves purchase intents, transaction lookups and the
// operator settlement endpoint.
type PurchasesHandler struct {
	runner    MutationRunner
	ledger    PurchaseLedger
	store     types.Store
	notifier  LedgerNotifier
	validator *core.Validator
	logger    *slog.Logger
}

// NewPurchasesHandler creates a PurchasesHandler with the given dependencies.
func NewPurchasesHandler(
	runner MutationRunner,
	ledger PurchaseLedger,
	store types.Store,
	notifier LedgerNotifier,
	v *core.Validator,
	l *slog.Logger,
) *PurchasesHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PurchasesHandler{
		runner:    runner,
		ledger:    ledger,
		store:     store,
		notifier:  notifier,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the user-facing purchase endpoints. The parent router
// group must apply bearer authentication.
func (h *PurchasesHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/purchases", h.CreatePurchase)
	r.Get("/billing/transactions/{transactionID}", h.GetTransaction)
}

// RegisterAdminRoutes mounts the operator settlement endpoint. The parent
// router group must apply admin key verification.
func (h *PurchasesHandler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/billing/settlements", h.Settle)
}

// CreatePurchase handles POST /v1/billing/purchases. The Idempotency-Key
// header is required; retries with the same key replay the original response
// without creating a second transaction.
func (h *PurchasesHandler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	key := r.Header.Get(idempotencyKeyHeader)
	if key == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"Idempotency-Key header is required", nil))
		return
	}

	var req CreatePurchaseRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	clubID := req.ClubID
	if clubID == "" {
		clubID = actor.ClubID
	}

	var created *types.Transaction
	out, replayed, err := h.runner.Run(r.Context(), actor.ID, "billing.purchases", key,
		func(ctx context.Context, repos types.Repos) (*types.MutationOutcome, error) {
			tx, err := h.ledger.CreatePending(ctx, repos, billing.PurchaseIntent{
				UserID:            actor.ID,
				ClubID:            clubID,
				ProductCode:       types.ProductCode(req.ProductCode),
				Provider:          types.ProviderStripe,
				ProviderPaymentID: req.ProviderPaymentID,
			})
			if err != nil {
				return nil, err
			}
			created = tx
			body, err := json.Marshal(core.APIResponse{Data: tx})
			if err != nil {
				return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode response", err)
			}
			return &types.MutationOutcome{Status: http.StatusCreated, Body: body}, nil
		})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if replayed {
		h.logger.InfoContext(r.Context(), "purchase request replayed", "user_id", actor.ID)
	} else if created != nil {
		h.notifier.NotifyAsync(types.LedgerEventMessage{
			Kind:          types.LedgerEventTransactionCreated,
			TransactionID: created.ID,
			UserID:        created.UserID,
			ClubID:        created.ClubID,
			ProductCode:   created.ProductCode,
			Status:        created.Status,
		})
	}

	core.JSONRaw(w, out.Status, out.Body)
}

// GetTransaction handles GET /v1/billing/transactions/{transactionID}.
// Users can only read their own transactions.
func (h *PurchasesHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	id := chi.URLParam(r, "transactionID")
	tx, err := h.store.Transactions().GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if actor.Type != types.ActorTypeAdmin && tx.UserID != actor.ID {
		// Hide the row's existence from other users.
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil))
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: tx})
}

// Settle handles POST /v1/billing/settlements, the operator path for applying
// a settlement outcome when the provider webhook was missed. Settling an
// already-terminal transaction reports was_no_op rather than failing.
func (h *PurchasesHandler) Settle(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(idempotencyKeyHeader)
	if key == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"Idempotency-Key header is required", nil))
		return
	}

	var req SettleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.TransactionID == "" && req.ProviderPaymentID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"transaction_id or provider_payment_id is required", nil))
		return
	}

	var result *billing.SettleResult
	out, replayed, err := h.runner.Run(r.Context(), types.SystemActorID, "billing.settlements", key,
		func(ctx context.Context, repos types.Repos) (*types.MutationOutcome, error) {
			res, err := h.ledger.Settle(ctx, repos, billing.SettleIdentifier{
				TransactionID:     req.TransactionID,
				ProviderPaymentID: req.ProviderPaymentID,
			}, types.SettlementOutcome(req.Outcome))
			if err != nil {
				return nil, err
			}
			result = res
			body, err := json.Marshal(core.APIResponse{Data: SettleResponse{
				Transaction:   res.Transaction,
				WasNoOp:       res.WasNoOp,
				IssuedCredits: res.IssuedCredits,
				ActivatedPlan: res.ActivatedPlan,
			}})
			if err != nil {
				return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode response", err)
			}
			return &types.MutationOutcome{Status: http.StatusOK, Body: body}, nil
		})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if !replayed && result != nil && !result.WasNoOp {
		notifySettlement(h.notifier, result)
	}

	core.JSONRaw(w, out.Status, out.Body)
}

// notifySettlement publishes the post-commit events a settlement produced.
func notifySettlement(notifier LedgerNotifier, res *billing.SettleResult) {
	tx := res.Transaction
	notifier.NotifyAsync(types.LedgerEventMessage{
		Kind:          types.LedgerEventTransactionSettled,
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		ClubID:        tx.ClubID,
		ProductCode:   tx.ProductCode,
		Status:        tx.Status,
	})
	for _, c := range res.IssuedCredits {
		notifier.NotifyAsync(types.LedgerEventMessage{
			Kind:          types.LedgerEventCreditGranted,
			TransactionID: tx.ID,
			CreditID:      c.ID,
			UserID:        c.UserID,
		})
	}
	if res.ActivatedPlan != "" {
		notifier.NotifyAsync(types.LedgerEventMessage{
			Kind:          types.LedgerEventPlanActivated,
			TransactionID: tx.ID,
			ClubID:        tx.ClubID,
			PlanCode:      res.ActivatedPlan,
		})
	}
}

/// Interface guard: the production notifier satisfies the handler contract.
var _ LedgerNotifier = (*queue.LedgerNotifier)(nil)
