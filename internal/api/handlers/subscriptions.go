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

// SubscriptionsHandler serves the operator subscription mutations. Explicit
// downgrade is the only subscription change that does not go through
// settlement.
type SubscriptionsHandler struct {
	runner   MutationRunner
	store    types.Store
	notifier LedgerNotifier
	logger   *slog.Logger
}

// NewSubscriptionsHandler creates a SubscriptionsHandler with the given
// dependencies.
func NewSubscriptionsHandler(runner MutationRunner, store types.Store, notifier LedgerNotifier, l *slog.Logger) *SubscriptionsHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SubscriptionsHandler{runner: runner, store: store, notifier: notifier, logger: l}
}

// RegisterAdminRoutes mounts the downgrade endpoint. The parent router group
// must apply admin key verification.
func (h *SubscriptionsHandler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/clubs/{clubID}/subscription/downgrade", h.Downgrade)
}

// Downgrade handles POST /v1/clubs/{clubID}/subscription/downgrade, moving
// the club to the free tier and clearing its period. A club that never
// subscribed has nothing to downgrade and gets a 404.
func (h *SubscriptionsHandler) Downgrade(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(idempotencyKeyHeader)
	if key == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"Idempotency-Key header is required", nil))
		return
	}

	clubID := chi.URLParam(r, "clubID")

	var downgraded *types.Subscription
	out, replayed, err := h.runner.Run(r.Context(), types.SystemActorID, "subscriptions.downgrade", key,
		func(ctx context.Context, repos types.Repos) (*types.MutationOutcome, error) {
			if err := repos.Subscriptions().DowngradeToFree(ctx, clubID); err != nil {
				return nil, err
			}
			sub, err := repos.Subscriptions().GetActive(ctx, clubID)
			if err != nil {
				return nil, err
			}
			downgraded = sub
			body, mErr := json.Marshal(core.APIResponse{Data: sub})
			if mErr != nil {
				return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode response", mErr)
			}
			return &types.MutationOutcome{Status: http.StatusOK, Body: body}, nil
		})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if !replayed && downgraded != nil {
		h.notifier.NotifyAsync(types.LedgerEventMessage{
			Kind:     types.LedgerEventPlanActivated,
			ClubID:   clubID,
			PlanCode: types.PlanFree,
		})
		h.logger.InfoContext(r.Context(), "club downgraded to free", "club_id", clubID)
	}

	core.JSONRaw(w, out.Status, out.Body)
}
