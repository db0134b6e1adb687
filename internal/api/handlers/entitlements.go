package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sapar/internal/billing"
	"sapar/internal/core"
	"sapar/internal/types"
)

// EntitlementResolver answers entitlement questions from committed ledger
// state.
type EntitlementResolver interface {
	Resolve(ctx context.Context, clubID, userID, eventID string) (*types.EffectiveEntitlement, error)
	CheckAction(ctx context.Context, req billing.ActionRequest) (*types.Decision, error)
}

// CheckActionRequest is the body for POST /v1/entitlements/check.
type CheckActionRequest struct {
	Action       string `json:"action" validate:"required"`
	ClubID       string `json:"club_id" validate:"required"`
	EventID      string `json:"event_id,omitempty"`
	Participants int    `json:"participants,omitempty"`
}

// EntitlementsHandler serves entitlement resolution and action checks.
//
// Decisions are always 200 responses, whichever way they go: deny and
// require_confirmation are answers for the caller to act on, not failures.
type EntitlementsHandler struct {
	resolver  EntitlementResolver
	validator *core.Validator
	logger    *slog.Logger
}

// NewEntitlementsHandler creates an EntitlementsHandler.
func NewEntitlementsHandler(resolver EntitlementResolver, v *core.Validator, l *slog.Logger) *EntitlementsHandler {
	if l == nil {
		l = slog.Default()
	}
	return &EntitlementsHandler{resolver: resolver, validator: v, logger: l}
}

// RegisterRoutes mounts the entitlement endpoints. The parent router group
// must apply bearer authentication.
func (h *EntitlementsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/clubs/{clubID}/entitlements", h.GetEntitlements)
	r.Post("/entitlements/check", h.CheckAction)
}

// requireClubAccess verifies the actor may act for the club. Admin actors
// and actors without a club binding pass; a bound actor must match.
func requireClubAccess(actor types.Actor, clubID string) error {
	if actor.Type == types.ActorTypeAdmin {
		return nil
	}
	if actor.ClubID != "" && actor.ClubID != clubID {
		return types.NewAppError(types.ErrCodePermissionClubMismatch,
			"actor is not a member of this club", nil)
	}
	return nil
}

// GetEntitlements handles GET /v1/clubs/{clubID}/entitlements. Optional
// event_id query merges in the caller's already-consumed credit bonuses for
// that event.
func (h *EntitlementsHandler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	clubID := chi.URLParam(r, "clubID")
	if err := requireClubAccess(actor, clubID); err != nil {
		core.Error(w, r, err)
		return
	}

	eventID := r.URL.Query().Get("event_id")
	eff, err := h.resolver.Resolve(r.Context(), clubID, actor.ID, eventID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: eff})
}

// CheckAction handles POST /v1/entitlements/check. The three-way decision is
// returned in the response body with a 200 status regardless of outcome.
func (h *EntitlementsHandler) CheckAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req CheckActionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := requireClubAccess(actor, req.ClubID); err != nil {
		core.Error(w, r, err)
		return
	}

	decision, err := h.resolver.CheckAction(r.Context(), billing.ActionRequest{
		Action:       types.ActionCode(req.Action),
		ClubID:       req.ClubID,
		UserID:       actor.ID,
		EventID:      req.EventID,
		Participants: req.Participants,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: decision})
}
