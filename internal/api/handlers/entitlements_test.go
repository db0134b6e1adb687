package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapar/internal/billing"
	"sapar/internal/types"
)

func newEntitlementsRouter(h *EntitlementsHandler) *chi.Mux {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestEntitlementsHandler_GetEntitlements(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, clubID, userID, eventID string) (*types.EffectiveEntitlement, error) {
			assert.Equal(t, "club_1", clubID)
			assert.Equal(t, "user_1", userID)
			assert.Equal(t, "event_9", eventID)
			return &types.EffectiveEntitlement{Plan: types.PlanClubPlus,
				MaxParticipants: 500, MaxMembers: 500, AllowPaidEvents: true}, nil
		},
	}
	h := NewEntitlementsHandler(resolver, testValidator(), discardLogger())
	router := newEntitlementsRouter(h)

	req := newAuthedRequest(http.MethodGet, "/clubs/club_1/entitlements?event_id=event_9", nil, userActor())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"CLUB_PLUS"`)
}

func TestEntitlementsHandler_GetEntitlements_ClubMismatch(t *testing.T) {
	h := NewEntitlementsHandler(&mockResolver{}, testValidator(), discardLogger())
	router := newEntitlementsRouter(h)

	req := newAuthedRequest(http.MethodGet, "/clubs/club_other/entitlements", nil, userActor())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "permission_club_mismatch")
}

func TestEntitlementsHandler_GetEntitlements_AdminCrossesClubs(t *testing.T) {
	h := NewEntitlementsHandler(&mockResolver{}, testValidator(), discardLogger())
	router := newEntitlementsRouter(h)

	admin := types.Actor{ID: types.SystemActorID, Type: types.ActorTypeAdmin}
	req := newAuthedRequest(http.MethodGet, "/clubs/club_other/entitlements", nil, admin)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEntitlementsHandler_CheckAction_DenyIsStill200(t *testing.T) {
	resolver := &mockResolver{
		checkFn: func(ctx context.Context, req billing.ActionRequest) (*types.Decision, error) {
			return &types.Decision{
				Outcome: types.DecisionDeny,
				Reason:  "participant limit exceeded",
				Upsell: &types.UpsellOption{ProductCode: types.ProductEventUpgrade500,
					PriceMinorUnits: 1000, CurrencyCode: "KZT"},
			}, nil
		},
	}
	h := NewEntitlementsHandler(resolver, testValidator(), discardLogger())
	router := newEntitlementsRouter(h)

	req := newAuthedRequest(http.MethodPost, "/entitlements/check",
		bytes.NewBufferString(`{"action":"event.create","club_id":"club_1","participants":300}`), userActor())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Deny is an answer, not an error.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deny"`)
	assert.Contains(t, w.Body.String(), "EVENT_UPGRADE_500")
}

func TestEntitlementsHandler_CheckAction_PassesRequestThrough(t *testing.T) {
	var got billing.ActionRequest
	resolver := &mockResolver{
		checkFn: func(ctx context.Context, req billing.ActionRequest) (*types.Decision, error) {
			got = req
			return &types.Decision{Outcome: types.DecisionAllow}, nil
		},
	}
	h := NewEntitlementsHandler(resolver, testValidator(), discardLogger())
	router := newEntitlementsRouter(h)

	req := newAuthedRequest(http.MethodPost, "/entitlements/check",
		bytes.NewBufferString(`{"action":"event.create","club_id":"club_1","event_id":"event_9","participants":120}`),
		userActor())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.ActionCreateEvent, got.Action)
	assert.Equal(t, "club_1", got.ClubID)
	assert.Equal(t, "user_1", got.UserID)
	assert.Equal(t, "event_9", got.EventID)
	assert.Equal(t, 120, got.Participants)
}

func TestEntitlementsHandler_CheckAction_MissingAction(t *testing.T) {
	h := NewEntitlementsHandler(&mockResolver{}, testValidator(), discardLogger())
	router := newEntitlementsRouter(h)

	req := newAuthedRequest(http.MethodPost, "/entitlements/check",
		bytes.NewBufferString(`{"club_id":"club_1"}`), userActor())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
