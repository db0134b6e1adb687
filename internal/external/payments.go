// Package external adapts payment-provider payloads into the normalized
// settlement events the ledger consumes. The core never sees provider-specific
// shapes.
package external

import (
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"sapar/internal/types"
)

// WebhookVerifier validates a raw webhook payload against its signature
// header before any parsing happens.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature verification: HMAC-SHA256 with timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the Stripe-Signature
// header and the endpoint signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}

// stripeEvent is the minimal slice of a Stripe event envelope the settlement
// path needs. Deliberately not the full stripe-go Event type: unmarshalling
// the whole object graph buys nothing here.
type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

// settlementEventTypes maps the Stripe event types we act on to settlement
// outcomes. Every other event type is acknowledged and ignored.
var settlementEventTypes = map[string]types.SettlementOutcome{
	"payment_intent.succeeded":      types.OutcomeCompleted,
	"payment_intent.payment_failed": types.OutcomeFailed,
	"charge.refunded":               types.OutcomeRefunded,
}

// ParseSettlementEvent decodes a verified Stripe webhook payload into a
// normalized settlement event. Returns (nil, nil) for event types the ledger
// does not act on; the caller should acknowledge those with a 200 so Stripe
// stops redelivering them.
func ParseSettlementEvent(payload []byte) (*types.SettlementEvent, error) {
	var evt stripeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPayments,
			"failed to decode provider event payload", err)
	}

	outcome, ok := settlementEventTypes[evt.Type]
	if !ok {
		return nil, nil
	}

	if evt.Data.Object.ID == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamPayments,
			fmt.Sprintf("provider event %s has no payment object id", evt.ID), nil)
	}

	return &types.SettlementEvent{
		ProviderEventID:   evt.ID,
		ProviderPaymentID: evt.Data.Object.ID,
		Outcome:           outcome,
		OccurredAt:        time.Unix(evt.Created, 0).UTC(),
	}, nil
}
