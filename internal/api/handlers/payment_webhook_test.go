package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapar/internal/billing"
	"sapar/internal/types"
)

func newWebhookRouter(h *WebhookHandler) *chi.Mux {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func webhookPayload(eventType, paymentID string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":"evt_1","type":%q,"created":1756600000,"data":{"object":{"id":%q}}}`,
		eventType, paymentID))
}

func postWebhook(router *chi.Mux, payload []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewBuffer(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=test")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookHandler_BadSignature(t *testing.T) {
	h := NewWebhookHandler(&mockRunner{}, &mockPurchaseLedger{},
		&mockVerifier{err: errors.New("signature mismatch")}, &mockNotifier{}, "whsec_test", discardLogger())
	router := newWebhookRouter(h)

	w := postWebhook(router, webhookPayload("payment_intent.succeeded", "pi_1"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookHandler_IgnoredEventTypeAcked(t *testing.T) {
	runner := &mockRunner{}
	h := NewWebhookHandler(runner, &mockPurchaseLedger{}, &mockVerifier{}, &mockNotifier{},
		"whsec_test", discardLogger())
	router := newWebhookRouter(h)

	w := postWebhook(router, webhookPayload("customer.created", "cus_1"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())
	assert.Empty(t, runner.runs, "ignored events never reach the ledger")
}

func TestWebhookHandler_SettlesByProviderPaymentID(t *testing.T) {
	notifier := &mockNotifier{}
	var gotIdent billing.SettleIdentifier
	var gotOutcome types.SettlementOutcome
	ledger := &mockPurchaseLedger{
		settleFn: func(ctx context.Context, r types.Repos, ident billing.SettleIdentifier, outcome types.SettlementOutcome) (*billing.SettleResult, error) {
			gotIdent = ident
			gotOutcome = outcome
			return &billing.SettleResult{
				Transaction: &types.Transaction{ID: "txn_1", UserID: "user_1",
					ProviderPaymentID: ident.ProviderPaymentID, Status: types.TxCompleted},
			}, nil
		},
	}
	runner := &mockRunner{}
	h := NewWebhookHandler(runner, ledger, &mockVerifier{}, notifier, "whsec_test", discardLogger())
	router := newWebhookRouter(h)

	w := postWebhook(router, webhookPayload("payment_intent.succeeded", "pi_abc"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pi_abc", gotIdent.ProviderPaymentID)
	assert.Empty(t, gotIdent.TransactionID)
	assert.Equal(t, types.OutcomeCompleted, gotOutcome)

	// The provider event ID is the idempotency key.
	require.Len(t, runner.runs, 1)
	assert.Equal(t, "evt_1", runner.runs[0])

	require.Len(t, notifier.events, 1)
	assert.Equal(t, types.LedgerEventTransactionSettled, notifier.events[0].Kind)
}

func TestWebhookHandler_UnknownPaymentAckedAsUnmatched(t *testing.T) {
	notifier := &mockNotifier{}
	ledger := &mockPurchaseLedger{
		settleFn: func(ctx context.Context, r types.Repos, ident billing.SettleIdentifier, outcome types.SettlementOutcome) (*billing.SettleResult, error) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil)
		},
	}
	h := NewWebhookHandler(&mockRunner{}, ledger, &mockVerifier{}, notifier, "whsec_test", discardLogger())
	router := newWebhookRouter(h)

	w := postWebhook(router, webhookPayload("payment_intent.succeeded", "pi_unknown"))

	// Acknowledged so the provider stops redelivering; no event published.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true,"unmatched":true}`, w.Body.String())
	assert.Empty(t, notifier.events)
}

func TestWebhookHandler_RedeliveryReplaysAck(t *testing.T) {
	notifier := &mockNotifier{}
	runner := &mockRunner{
		replayed:  true,
		replayOut: &types.MutationOutcome{Status: http.StatusOK, Body: []byte(`{"received":true}`)},
	}
	h := NewWebhookHandler(runner, &mockPurchaseLedger{}, &mockVerifier{}, notifier, "whsec_test", discardLogger())
	router := newWebhookRouter(h)

	w := postWebhook(router, webhookPayload("payment_intent.succeeded", "pi_abc"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())
	assert.Empty(t, notifier.events, "a replayed delivery must not publish again")
}

func TestWebhookHandler_ConcurrentDeliveryConflicts(t *testing.T) {
	runner := &mockRunner{
		err: types.NewAppError(types.ErrCodeConflictRequestInProgress,
			"a request with this idempotency key is already in progress", nil),
	}
	h := NewWebhookHandler(runner, &mockPurchaseLedger{}, &mockVerifier{}, &mockNotifier{},
		"whsec_test", discardLogger())
	router := newWebhookRouter(h)

	w := postWebhook(router, webhookPayload("payment_intent.succeeded", "pi_abc"))

	// The provider retries on non-2xx and the replay will answer.
	assert.Equal(t, http.StatusConflict, w.Code)
}
