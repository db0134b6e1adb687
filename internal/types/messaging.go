package types

import "time"

// LedgerEventKind names the kind of ledger change a notification describes.
type LedgerEventKind string

const (
	LedgerEventTransactionCreated LedgerEventKind = "transaction_created"
	LedgerEventTransactionSettled LedgerEventKind = "transaction_settled"
	LedgerEventCreditGranted      LedgerEventKind = "credit_granted"
	LedgerEventCreditConsumed     LedgerEventKind = "credit_consumed"
	LedgerEventPlanActivated      LedgerEventKind = "plan_activated"
)

// LedgerEventMessage is the payload published to downstream consumers
// (receipts, analytics, notifications) after a ledger change commits.
// Publication happens after commit and is fire and forget: the ledger is the
// source of truth and consumers must tolerate missed or duplicated messages.
type LedgerEventMessage struct {
	EventID       string            `json:"event_id"`
	Kind          LedgerEventKind   `json:"kind"`
	TransactionID string            `json:"transaction_id,omitempty"`
	CreditID      string            `json:"credit_id,omitempty"`
	UserID        string            `json:"user_id,omitempty"`
	ClubID        string            `json:"club_id,omitempty"`
	ProductCode   ProductCode       `json:"product_code,omitempty"`
	Status        TransactionStatus `json:"status,omitempty"`
	PlanCode      PlanCode          `json:"plan_code,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}
