package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapar/internal/types"
)

func newSubscriptionsRouter(h *SubscriptionsHandler) *chi.Mux {
	r := chi.NewRouter()
	h.RegisterAdminRoutes(r)
	return r
}

func TestSubscriptionsHandler_Downgrade_Success(t *testing.T) {
	notifier := &mockNotifier{}
	store := newStubStore()
	var downgradedClub string
	store.subs.downgradeFn = func(ctx context.Context, clubID string) error {
		downgradedClub = clubID
		return nil
	}
	store.subs.getActiveFn = func(ctx context.Context, clubID string) (*types.Subscription, error) {
		return &types.Subscription{ClubID: clubID, PlanID: types.PlanFree, Status: types.SubActive}, nil
	}
	h := NewSubscriptionsHandler(&mockRunner{repos: store}, store, notifier, discardLogger())
	router := newSubscriptionsRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/clubs/club_1/subscription/downgrade", nil)
	req.Header.Set("Idempotency-Key", "key-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "club_1", downgradedClub)
	assert.Contains(t, w.Body.String(), `"FREE"`)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, types.LedgerEventPlanActivated, notifier.events[0].Kind)
	assert.Equal(t, types.PlanFree, notifier.events[0].PlanCode)
	assert.Equal(t, "club_1", notifier.events[0].ClubID)
}

func TestSubscriptionsHandler_Downgrade_RequiresIdempotencyKey(t *testing.T) {
	store := newStubStore()
	h := NewSubscriptionsHandler(&mockRunner{repos: store}, store, &mockNotifier{}, discardLogger())
	router := newSubscriptionsRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/clubs/club_1/subscription/downgrade", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Idempotency-Key")
}

func TestSubscriptionsHandler_Downgrade_NeverSubscribedIs404(t *testing.T) {
	notifier := &mockNotifier{}
	store := newStubStore()
	store.subs.downgradeFn = func(ctx context.Context, clubID string) error {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "club has no subscription", nil)
	}
	h := NewSubscriptionsHandler(&mockRunner{repos: store}, store, notifier, discardLogger())
	router := newSubscriptionsRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/clubs/club_unknown/subscription/downgrade", nil)
	req.Header.Set("Idempotency-Key", "key-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, notifier.events)
}

func TestSubscriptionsHandler_Downgrade_ReplayDoesNotNotify(t *testing.T) {
	notifier := &mockNotifier{}
	store := newStubStore()
	runner := &mockRunner{
		repos:     store,
		replayed:  true,
		replayOut: &types.MutationOutcome{Status: http.StatusOK, Body: []byte(`{"data":{"club_id":"club_1","plan_id":"FREE"}}`)},
	}
	h := NewSubscriptionsHandler(runner, store, notifier, discardLogger())
	router := newSubscriptionsRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/clubs/club_1/subscription/downgrade", nil)
	req.Header.Set("Idempotency-Key", "key-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, notifier.events)
}
