package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sapar/internal/types"
)

// Ledger owns the transaction lifecycle: purchase intents enter Pending and a
// settlement event moves each one to exactly one terminal status, applying the
// product's downstream effects (credit issuance or plan activation) in the
// same storage transaction.
type Ledger struct {
	catalog *Catalog
	credits *Credits
	logger  *slog.Logger
}

// NewLedger creates a Ledger over the given catalog and credit service.
func NewLedger(catalog *Catalog, credits *Credits, logger *slog.Logger) *Ledger {
	return &Ledger{catalog: catalog, credits: credits, logger: logger}
}

// PurchaseIntent describes a purchase a user is starting. ClubID is required
// for club-plan products and ignored otherwise. ProviderPaymentID may be empty
// when the provider assigns it after intent creation; settlement stamps it.
type PurchaseIntent struct {
	UserID            string
	ClubID            string
	ProductCode       types.ProductCode
	Provider          types.PaymentProvider
	ProviderPaymentID string
}

// SettleIdentifier names the transaction a settlement applies to, by ledger ID
// (manual settlement) or by the provider's payment ID (webhook delivery).
// Exactly one field must be set.
type SettleIdentifier struct {
	TransactionID     string
	ProviderPaymentID string
}

// SettleResult reports what a settlement call did. WasNoOp is true when the
// transaction was already terminal and nothing changed.
type SettleResult struct {
	Transaction   *types.Transaction
	WasNoOp       bool
	IssuedCredits []types.Credit
	ActivatedPlan types.PlanCode
}

// CreatePending validates the intent against the catalog and inserts a
// Pending transaction. Must run inside an orchestrated unit of work.
func (l *Ledger) CreatePending(ctx context.Context, r types.Repos, intent PurchaseIntent) (*types.Transaction, error) {
	product, ok := l.catalog.Product(intent.ProductCode)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeValidationUnknownProduct,
			fmt.Sprintf("unknown product code: %s", intent.ProductCode), nil)
	}
	if product.Kind == types.KindSystem {
		// The synthetic grant product is not purchasable.
		return nil, types.NewAppError(types.ErrCodeValidationUnknownProduct,
			fmt.Sprintf("product is not purchasable: %s", intent.ProductCode), nil)
	}
	if product.Kind == types.KindClubPlan && intent.ClubID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			"club_id is required for plan products", nil)
	}

	tx := &types.Transaction{
		ID:                "txn_" + uuid.New().String(),
		UserID:            intent.UserID,
		ProductCode:       product.Code,
		Provider:          intent.Provider,
		ProviderPaymentID: intent.ProviderPaymentID,
		AmountMinorUnits:  product.PriceMinorUnits,
		CurrencyCode:      product.CurrencyCode,
		Status:            types.TxPending,
	}
	if product.Kind == types.KindClubPlan {
		tx.ClubID = intent.ClubID
		start := time.Now().UTC()
		end := start.AddDate(0, 0, product.PeriodDays)
		tx.PeriodStart = &start
		tx.PeriodEnd = &end
	}

	if err := r.Transactions().Insert(ctx, tx); err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "created pending transaction",
		"transaction_id", tx.ID, "product", tx.ProductCode, "user_id", tx.UserID)
	return tx, nil
}

// Settle applies a settlement outcome to the identified transaction. The row
// is locked for the duration of the enclosing storage transaction, so the
// status check, the transition and the downstream effects are atomic with
// respect to concurrent deliveries of the same event.
//
// Settling an already-terminal transaction is a no-op, never an error: the
// provider redelivers events and callers must be able to acknowledge them.
func (l *Ledger) Settle(ctx context.Context, r types.Repos, ident SettleIdentifier, outcome types.SettlementOutcome) (*SettleResult, error) {
	if !outcome.IsValid() {
		return nil, types.NewAppError(types.ErrCodeValidationBadOutcome,
			fmt.Sprintf("unknown settlement outcome: %s", outcome), nil)
	}

	var tx *types.Transaction
	var err error
	switch {
	case ident.TransactionID != "":
		tx, err = r.Transactions().GetForUpdateByID(ctx, ident.TransactionID)
	case ident.ProviderPaymentID != "":
		tx, err = r.Transactions().GetForUpdateByProviderPaymentID(ctx, ident.ProviderPaymentID)
	default:
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			"settlement requires a transaction id or a provider payment id", nil)
	}
	if err != nil {
		return nil, err
	}

	if tx.Status.IsTerminal() {
		l.logger.InfoContext(ctx, "settlement ignored for terminal transaction",
			"transaction_id", tx.ID, "status", tx.Status)
		return &SettleResult{Transaction: tx, WasNoOp: true}, nil
	}

	newStatus := outcome.TransactionStatus()
	if err := r.Transactions().MarkSettled(ctx, tx.ID, newStatus, ident.ProviderPaymentID); err != nil {
		return nil, err
	}
	tx.Status = newStatus
	if tx.ProviderPaymentID == "" {
		tx.ProviderPaymentID = ident.ProviderPaymentID
	}

	result := &SettleResult{Transaction: tx}
	if newStatus != types.TxCompleted {
		l.logger.InfoContext(ctx, "transaction settled without grant",
			"transaction_id", tx.ID, "status", newStatus)
		return result, nil
	}

	product, ok := l.catalog.Product(tx.ProductCode)
	if !ok {
		// The row references a product the catalog no longer knows. Completing
		// the money movement without the grant would silently shortchange the
		// user, so fail the whole settlement transaction.
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("settled transaction references unknown product: %s", tx.ProductCode), nil)
	}

	switch product.Kind {
	case types.KindOneOff:
		for i := 0; i < product.GrantCount; i++ {
			credit, err := l.credits.Issue(ctx, r, tx.UserID, product.CreditCode, tx, product.CreditExpiryDays)
			if err != nil {
				return nil, err
			}
			result.IssuedCredits = append(result.IssuedCredits, *credit)
		}
	case types.KindClubPlan:
		if err := r.Subscriptions().Activate(ctx, tx.ClubID, product.PlanCode, *tx.PeriodStart, *tx.PeriodEnd); err != nil {
			return nil, err
		}
		result.ActivatedPlan = product.PlanCode
	}

	l.logger.InfoContext(ctx, "transaction completed",
		"transaction_id", tx.ID, "product", tx.ProductCode,
		"credits_issued", len(result.IssuedCredits), "plan", result.ActivatedPlan)
	return result, nil
}
