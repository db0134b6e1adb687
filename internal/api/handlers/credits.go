package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sapar/internal/core"
	"sapar/internal/types"
)

// CreditService is the slice of the credit ledger the credit endpoints need.
type CreditService interface {
	ConsumeOneFor(ctx context.Context, r types.Repos, userID string, code types.CreditCode, eventID string) (*types.Credit, error)
	GrantSystem(ctx context.Context, r types.Repos, userID string, code types.CreditCode, reason string) (*types.Credit, error)
}

// ConsumeCreditRequest is the body for POST /v1/credits/consume. Consumption
// is always an explicit, separate call: entitlement checks never spend a
// credit implicitly.
type ConsumeCreditRequest struct {
	CreditCode string `json:"credit_code" validate:"required"`
	EventID    string `json:"event_id" validate:"required"`
}

// GrantCreditRequest is the body for POST /v1/credits/grants.
type GrantCreditRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	CreditCode string `json:"credit_code" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
}

// CreditsHandler serves credit consumption, listing and operator grants.
type CreditsHandler struct {
	runner       MutationRunner
	credits      CreditService
	store        types.Store
	notifier     LedgerNotifier
	validator    *core.Validator
	promoEnabled bool
	logger       *slog.Logger
}

// NewCreditsHandler creates a CreditsHandler with the given dependencies.
func NewCreditsHandler(
	runner MutationRunner,
	credits CreditService,
	store types.Store,
	notifier LedgerNotifier,
	v *core.Validator,
	promoEnabled bool,
	l *slog.Logger,
) *CreditsHandler {
	if l == nil {
		l = slog.Default()
	}
	return &CreditsHandler{
		runner:       runner,
		credits:      credits,
		store:        store,
		notifier:     notifier,
		validator:    v,
		promoEnabled: promoEnabled,
		logger:       l,
	}
}

// RegisterRoutes mounts the user-facing credit endpoints. The parent router
// group must apply bearer authentication.
func (h *CreditsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/credits/consume", h.Consume)
	r.Get("/credits", h.List)
}

// RegisterAdminRoutes mounts the operator grant endpoint. The parent router
// group must apply admin key verification.
func (h *CreditsHandler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/credits/grants", h.Grant)
}

// Consume handles POST /v1/credits/consume: explicit, confirmed spending of
// the user's oldest matching credit against an event. No available credit is
// a 402, and because the unit of work fails, the idempotency key stays
// retryable for when the user buys one.
func (h *CreditsHandler) Consume(w http.ResponseWriter, r *http.Request) {
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

	var req ConsumeCreditRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	var consumed *types.Credit
	out, replayed, err := h.runner.Run(r.Context(), actor.ID, "credits.consume", key,
		func(ctx context.Context, repos types.Repos) (*types.MutationOutcome, error) {
			credit, err := h.credits.ConsumeOneFor(ctx, repos, actor.ID, types.CreditCode(req.CreditCode), req.EventID)
			if err != nil {
				return nil, err
			}
			if credit == nil {
				return nil, types.NewAppError(types.ErrCodeCreditUnavailable,
					"no available credit of this code", nil)
			}
			consumed = credit
			body, mErr := json.Marshal(core.APIResponse{Data: credit})
			if mErr != nil {
				return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode response", mErr)
			}
			return &types.MutationOutcome{Status: http.StatusOK, Body: body}, nil
		})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if !replayed && consumed != nil {
		h.notifier.NotifyAsync(types.LedgerEventMessage{
			Kind:     types.LedgerEventCreditConsumed,
			CreditID: consumed.ID,
			UserID:   consumed.UserID,
		})
	}

	core.JSONRaw(w, out.Status, out.Body)
}

// List handles GET /v1/credits: all of the caller's credits, oldest first.
func (h *CreditsHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	credits, err := h.store.Credits().ListByUser(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if credits == nil {
		credits = []types.Credit{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: credits})
}

// Grant handles POST /v1/credits/grants: an operator issues a credit without
// a payment. Gated by the promo-grants kill switch.
func (h *CreditsHandler) Grant(w http.ResponseWriter, r *http.Request) {
	if !h.promoEnabled {
		core.Error(w, r, types.NewAppError(types.ErrCodePermissionPromoDisabled,
			"promotional grants are currently disabled", nil))
		return
	}

	key := r.Header.Get(idempotencyKeyHeader)
	if key == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"Idempotency-Key header is required", nil))
		return
	}

	var req GrantCreditRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	var granted *types.Credit
	out, replayed, err := h.runner.Run(r.Context(), types.SystemActorID, "credits.grants", key,
		func(ctx context.Context, repos types.Repos) (*types.MutationOutcome, error) {
			credit, err := h.credits.GrantSystem(ctx, repos, req.UserID, types.CreditCode(req.CreditCode), req.Reason)
			if err != nil {
				return nil, err
			}
			granted = credit
			body, mErr := json.Marshal(core.APIResponse{Data: credit})
			if mErr != nil {
				return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode response", mErr)
			}
			return &types.MutationOutcome{Status: http.StatusCreated, Body: body}, nil
		})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if !replayed && granted != nil {
		h.notifier.NotifyAsync(types.LedgerEventMessage{
			Kind:     types.LedgerEventCreditGranted,
			CreditID: granted.ID,
			UserID:   granted.UserID,
		})
	}

	core.JSONRaw(w, out.Status, out.Body)
}
