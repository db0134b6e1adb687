package types

import (
	"encoding/json"
	"time"
)

// Transaction records a purchase intent and its settlement status.
// A transaction is created Pending when the user starts a purchase and moves
// to exactly one terminal status when the payment provider settles it.
//
// ProviderPaymentID is the settlement dedup key: it is unique when present,
// so a redelivered provider event always resolves to the same row.
type Transaction struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	ClubID            string            `json:"club_id,omitempty"`
	ProductCode       ProductCode       `json:"product_code"`
	Provider          PaymentProvider   `json:"provider"`
	ProviderPaymentID string            `json:"provider_payment_id,omitempty"`
	AmountMinorUnits  int64             `json:"amount_minor_units"`
	CurrencyCode      string            `json:"currency_code"`
	Status            TransactionStatus `json:"status"`
	PeriodStart       *time.Time        `json:"period_start,omitempty"`
	PeriodEnd         *time.Time        `json:"period_end,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Credit is a single-use entitlement grant, independent of subscription plan,
// consumed against exactly one target event.
//
// Invariants:
//   - ConsumedEventID and ConsumedAt are set together, exactly once, only from
//     the Available status.
//   - SourceTransactionID always references a Completed transaction. System
//     grants preserve this with a synthetic zero-amount completed transaction.
type Credit struct {
	ID                  string       `json:"id"`
	UserID              string       `json:"user_id"`
	CreditCode          CreditCode   `json:"credit_code"`
	Status              CreditStatus `json:"status"`
	SourceTransactionID string       `json:"source_transaction_id"`
	ConsumedEventID     string       `json:"consumed_event_id,omitempty"`
	ConsumedAt          *time.Time   `json:"consumed_at,omitempty"`
	ExpiresAt           *time.Time   `json:"expires_at,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Subscription is the current plan state for a club. One row per club
// (upsert semantics); no history is retained because entitlement questions
// only ever need what applies right now.
type Subscription struct {
	ClubID             string             `json:"club_id"`
	PlanID             PlanCode           `json:"plan_id"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	GraceUntil         *time.Time         `json:"grace_until,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// CurrentAt reports whether the subscription confers its plan at the given
// instant, accounting for the grace window. A nil period end never expires;
// downgrade writes free-tier rows without a period.
func (s *Subscription) CurrentAt(now time.Time) bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case SubActive:
		return s.CurrentPeriodEnd == nil || !now.After(*s.CurrentPeriodEnd)
	case SubGrace:
		return s.GraceUntil != nil && !now.After(*s.GraceUntil)
	default:
		return false
	}
}

// IdempotencyRecord is the durable outcome of a mutating request, keyed by
// (ActorID, RouteName, Key). Records are created InProgress at the first
// attempt, read on every retry, and never deleted. A record never transitions
// out of Completed.
type IdempotencyRecord struct {
	ID             string            `json:"id"`
	ActorID        string            `json:"actor_id"`
	RouteName      string            `json:"route_name"`
	Key            string            `json:"key"`
	Status         IdempotencyStatus `json:"status"`
	ResponseStatus int               `json:"response_status,omitempty"`
	ResponseBody   []byte            `json:"response_body,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// SettlementEvent is the normalized shape any payment-provider adapter must
// produce before the ledger settles a transaction. The core never sees
// provider-specific payloads.
type SettlementEvent struct {
	ProviderEventID   string            `json:"provider_event_id"`
	ProviderPaymentID string            `json:"provider_payment_id"`
	Outcome           SettlementOutcome `json:"outcome"`
	OccurredAt        time.Time         `json:"occurred_at"`
}

// PlanLimits are the resource limits a plan confers on a club.
// Zero means unlimited -- enforcement code must treat 0 as no limit.
type PlanLimits struct {
	MaxMembers           int  `json:"max_members"`
	MaxEventParticipants int  `json:"max_event_participants"`
	AllowPaidEvents      bool `json:"allow_paid_events"`
	AllowCsvExport       bool `json:"allow_csv_export"`
}

// Plan is a read-only catalog row describing a subscription tier.
type Plan struct {
	Code            PlanCode   `json:"code"`
	Limits          PlanLimits `json:"limits"`
	PriceMinorUnits int64      `json:"price_minor_units"`
	CurrencyCode    string     `json:"currency_code"`
	PeriodDays      int        `json:"period_days"`
}

// Product is a read-only catalog row describing a purchasable item.
// One-off products issue credits on settlement; club-plan products activate
// a subscription period.
type Product struct {
	Code             ProductCode `json:"code"`
	Kind             ProductKind `json:"kind"`
	PriceMinorUnits  int64       `json:"price_minor_units"`
	CurrencyCode     string      `json:"currency_code"`
	CreditCode       CreditCode  `json:"credit_code,omitempty"`
	BonusPlaces      int         `json:"bonus_places,omitempty"`
	GrantCount       int         `json:"grant_count,omitempty"`
	PlanCode         PlanCode    `json:"plan_code,omitempty"`
	PeriodDays       int         `json:"period_days,omitempty"`
	CreditExpiryDays int         `json:"credit_expiry_days,omitempty"`
}

// EffectiveEntitlement is the derived, never-persisted answer to "what may
// this user/club do right now". It is computed per request so it is always
// consistent with the latest committed ledger state.
// Zero limits mean unlimited, matching PlanLimits.
type EffectiveEntitlement struct {
	Plan            PlanCode `json:"plan"`
	MaxParticipants int      `json:"max_participants"`
	MaxMembers      int      `json:"max_members"`
	AllowPaidEvents bool     `json:"allow_paid_events"`
	AllowCsvExport  bool     `json:"allow_csv_export"`
}

// UpsellOption names the cheapest catalog item that would satisfy a denied
// request. Rendering it is a presentation concern.
type UpsellOption struct {
	ProductCode     ProductCode `json:"product_code,omitempty"`
	PlanCode        PlanCode    `json:"plan_code,omitempty"`
	PriceMinorUnits int64       `json:"price_minor_units"`
	CurrencyCode    string      `json:"currency_code"`
}

// Decision is the three-way result of an entitlement check. Deny and
// RequireConfirmation are expected, frequent outcomes -- they are values,
// not errors, and must be preserved as such all the way to the client.
type Decision struct {
	Outcome DecisionOutcome `json:"outcome"`
	Reason  string          `json:"reason,omitempty"`
	// CreditCode is set on RequireConfirmation: the code the caller must
	// explicitly confirm consuming.
	CreditCode CreditCode    `json:"credit_code,omitempty"`
	Upsell     *UpsellOption `json:"upsell,omitempty"`
}

// MutationOutcome is the captured response of an orchestrated unit of work,
// stored on the idempotency record and replayed verbatim on retries.
type MutationOutcome struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}
