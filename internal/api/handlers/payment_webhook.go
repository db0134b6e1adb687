package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sapar/internal/billing"
	"sapar/internal/core"
	"sapar/internal/external"
	"sapar/internal/types"
)

// maxWebhookBodySize bounds provider webhook payloads (256 KB).
const maxWebhookBodySize = 256 << 10

// WebhookVerifier validates a webhook payload signature before parsing.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// WebhookHandler serves POST /v1/webhooks/payments. The route is public;
// authentication is the provider signature on the payload.
//
// The provider redelivers events until acknowledged, so the handler must be
// safe under duplicates: the provider event ID is the idempotency key, and
// settlement of an already-terminal transaction is a no-op.
type WebhookHandler struct {
	runner        MutationRunner
	ledger        PurchaseLedger
	verifier      WebhookVerifier
	notifier      LedgerNotifier
	webhookSecret string
	logger        *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler with the given dependencies.
func NewWebhookHandler(
	runner MutationRunner,
	ledger PurchaseLedger,
	verifier WebhookVerifier,
	notifier LedgerNotifier,
	webhookSecret string,
	l *slog.Logger,
) *WebhookHandler {
	if l == nil {
		l = slog.Default()
	}
	return &WebhookHandler{
		runner:        runner,
		ledger:        ledger,
		verifier:      verifier,
		notifier:      notifier,
		webhookSecret: webhookSecret,
		logger:        l,
	}
}

// RegisterRoutes mounts the webhook endpoint. No auth middleware: signature
// verification happens inside the handler.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/payments", h.HandlePaymentEvent)
}

// webhookAck is the acknowledgement body returned to the provider.
type webhookAck struct {
	Received  bool `json:"received"`
	Unmatched bool `json:"unmatched,omitempty"`
}

// HandlePaymentEvent verifies, parses and applies a provider event.
//
// Response policy: 200 acknowledges the event and stops redelivery, so it is
// returned for everything the ledger handled or deliberately ignored
// (unknown event types, events for transactions we do not know). Non-200 is
// reserved for bad signatures and transient faults where redelivery helps.
func (h *WebhookHandler) HandlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeUpstreamPayments,
			"failed to read webhook payload", err))
		return
	}

	if err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid,
			"webhook signature verification failed", err))
		return
	}

	evt, err := external.ParseSettlementEvent(payload)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if evt == nil {
		// Event type the ledger does not act on.
		core.JSON(w, r, http.StatusOK, webhookAck{Received: true})
		return
	}

	var result *billing.SettleResult
	unmatched := false
	out, replayed, err := h.runner.Run(r.Context(), types.SystemActorID, "webhooks.payments", evt.ProviderEventID,
		func(ctx context.Context, repos types.Repos) (*types.MutationOutcome, error) {
			res, err := h.ledger.Settle(ctx, repos, billing.SettleIdentifier{
				ProviderPaymentID: evt.ProviderPaymentID,
			}, evt.Outcome)
			if err != nil {
				var appErr *types.AppError
				if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundTransaction {
					// The provider knows a payment we never recorded. Log it
					// and acknowledge so the provider stops redelivering; an
					// operator can settle manually once the intent exists.
					h.logger.WarnContext(ctx, "webhook references unknown payment",
						"provider_event_id", evt.ProviderEventID,
						"provider_payment_id", evt.ProviderPaymentID)
					unmatched = true
					body, mErr := json.Marshal(webhookAck{Received: true, Unmatched: true})
					if mErr != nil {
						return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode response", mErr)
					}
					return &types.MutationOutcome{Status: http.StatusOK, Body: body}, nil
				}
				return nil, err
			}
			result = res
			body, mErr := json.Marshal(webhookAck{Received: true})
			if mErr != nil {
				return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode response", mErr)
			}
			return &types.MutationOutcome{Status: http.StatusOK, Body: body}, nil
		})
	if err != nil {
		// Includes the concurrent-delivery case: another delivery of the same
		// event holds the idempotency key and will complete the settlement.
		// The provider retries on the 409.
		core.Error(w, r, err)
		return
	}

	if !replayed && !unmatched && result != nil && !result.WasNoOp {
		notifySettlement(h.notifier, result)
	}

	core.JSONRaw(w, out.Status, out.Body)
}
