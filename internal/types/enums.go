package types

// TransactionStatus represents the settlement lifecycle state of a billing
// transaction. A transaction starts Pending and moves to exactly one terminal
// status; terminal statuses are final.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
	TxRefunded  TransactionStatus = "refunded"
)

// IsTerminal reports whether the status is final. Settlement of a transaction
// already in a terminal status is a no-op, never an error.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TxCompleted, TxFailed, TxRefunded:
		return true
	default:
		return false
	}
}

// SettlementOutcome is the normalized outcome reported by a payment-provider
// adapter. It maps one-to-one onto the terminal transaction statuses.
type SettlementOutcome string

const (
	OutcomeCompleted SettlementOutcome = "completed"
	OutcomeFailed    SettlementOutcome = "failed"
	OutcomeRefunded  SettlementOutcome = "refunded"
)

// TransactionStatus returns the terminal status a settlement outcome resolves to.
func (o SettlementOutcome) TransactionStatus() TransactionStatus {
	switch o {
	case OutcomeFailed:
		return TxFailed
	case OutcomeRefunded:
		return TxRefunded
	default:
		return TxCompleted
	}
}

// IsValid reports whether the outcome is one of the three known variants.
func (o SettlementOutcome) IsValid() bool {
	switch o {
	case OutcomeCompleted, OutcomeFailed, OutcomeRefunded:
		return true
	default:
		return false
	}
}

// CreditStatus represents the lifecycle state of a one-off credit.
// Available -> Consumed is the only transition; it happens exactly once.
type CreditStatus string

const (
	CreditAvailable CreditStatus = "available"
	CreditConsumed  CreditStatus = "consumed"
)

// SubscriptionStatus represents the state of a club subscription.
type SubscriptionStatus string

const (
	SubActive  SubscriptionStatus = "active"
	SubGrace   SubscriptionStatus = "grace"
	SubExpired SubscriptionStatus = "expired"
)

// IdempotencyStatus represents the state of an idempotency record.
// These values MUST match the CHECK constraint on idempotency_keys.
type IdempotencyStatus string

const (
	IdemInProgress IdempotencyStatus = "in_progress"
	IdemCompleted  IdempotencyStatus = "completed"
	IdemFailed     IdempotencyStatus = "failed"
)

// PlanCode identifies a subscription plan tier for a club.
type PlanCode string

const (
	PlanFree     PlanCode = "FREE"
	PlanClubPlus PlanCode = "CLUB_PLUS"
	PlanClubPro  PlanCode = "CLUB_PRO"
)

// ProductCode identifies a purchasable catalog product.
type ProductCode string

const (
	ProductEventUpgrade500      ProductCode = "EVENT_UPGRADE_500"
	ProductEventUpgrade1000     ProductCode = "EVENT_UPGRADE_1000"
	ProductEventUpgrade500Pack3 ProductCode = "EVENT_UPGRADE_500_PACK3"
	ProductClubPlus30D          ProductCode = "CLUB_PLUS_30D"
	ProductClubPro30D           ProductCode = "CLUB_PRO_30D"
	// ProductSystemGrant backs the synthetic zero-amount transactions created
	// for system/admin credit grants so that every credit has a completed
	// source transaction.
	ProductSystemGrant ProductCode = "SYSTEM_GRANT"
)

// ProductKind distinguishes how a completed purchase takes effect.
type ProductKind string

const (
	// KindOneOff products issue single-use credits on settlement.
	KindOneOff ProductKind = "one_off"
	// KindClubPlan products activate a club subscription period on settlement.
	KindClubPlan ProductKind = "club_plan"
	// KindSystem products exist only as provenance for system grants.
	KindSystem ProductKind = "system"
)

// CreditCode identifies the kind of entitlement a credit grants.
type CreditCode string

const (
	CreditEventUpgrade500  CreditCode = "EVENT_UPGRADE_500"
	CreditEventUpgrade1000 CreditCode = "EVENT_UPGRADE_1000"
)

// PaymentProvider identifies the origin of a transaction.
type PaymentProvider string

const (
	ProviderStripe PaymentProvider = "stripe"
	// ProviderSystem marks synthetic transactions created for system grants.
	ProviderSystem PaymentProvider = "system"
)

// ActionCode identifies a gated action checked against entitlements.
type ActionCode string

const (
	ActionCreateEvent     ActionCode = "event.create"
	ActionAddMember       ActionCode = "member.add"
	ActionCreatePaidEvent ActionCode = "event.create_paid"
	ActionExportLedgerCSV ActionCode = "ledger.export_csv"
)

// IsValid reports whether the action code is known.
func (a ActionCode) IsValid() bool {
	switch a {
	case ActionCreateEvent, ActionAddMember, ActionCreatePaidEvent, ActionExportLedgerCSV:
		return true
	default:
		return false
	}
}

// DecisionOutcome is the three-way result of an entitlement check.
// RequireConfirmation MUST NOT be collapsed into an error by callers: it means
// the action is possible only by spending a scarce, irreversible credit, and
// the user must explicitly consent first.
type DecisionOutcome string

const (
	DecisionAllow               DecisionOutcome = "allow"
	DecisionRequireConfirmation DecisionOutcome = "require_confirmation"
	DecisionDeny                DecisionOutcome = "deny"
)
