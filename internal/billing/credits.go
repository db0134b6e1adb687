package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sapar/internal/types"
)

// Credits manages the credit ledger: issuance from completed transactions,
// system grants, and FIFO consumption.
type Credits struct {
	catalog *Catalog
	logger  *slog.Logger
}

// NewCredits creates a Credits service over the given catalog.
func NewCredits(catalog *Catalog, logger *slog.Logger) *Credits {
	return &Credits{catalog: catalog, logger: logger}
}

// Issue creates one Available credit for the user, sourced from the given
// transaction. Every credit must trace to a Completed transaction; issuing
// from any other status is a programming error surfaced as a conflict.
func (c *Credits) Issue(ctx context.Context, r types.Repos, userID string, code types.CreditCode, source *types.Transaction, expiryDays int) (*types.Credit, error) {
	if source.Status != types.TxCompleted {
		return nil, types.NewAppError(types.ErrCodeConflictSourceNotCompleted,
			fmt.Sprintf("credit source transaction %s is %s, not completed", source.ID, source.Status), nil)
	}
	if !c.catalog.KnownCredit(code) {
		return nil, types.NewAppError(types.ErrCodeValidationUnknownCredit,
			fmt.Sprintf("unknown credit code: %s", code), nil)
	}

	credit := &types.Credit{
		ID:                  "crd_" + uuid.New().String(),
		UserID:              userID,
		CreditCode:          code,
		Status:              types.CreditAvailable,
		SourceTransactionID: source.ID,
	}
	if expiryDays > 0 {
		exp := time.Now().UTC().AddDate(0, 0, expiryDays)
		credit.ExpiresAt = &exp
	}

	if err := r.Credits().Insert(ctx, credit); err != nil {
		return nil, err
	}
	return credit, nil
}

// GrantSystem issues a credit without a payment, backed by a synthetic
// zero-amount completed transaction so the source invariant holds for grants
// too. The reason is recorded as the transaction's provider payment reference
// prefixed with the grant marker, keeping grants auditable in the same ledger.
func (c *Credits) GrantSystem(ctx context.Context, r types.Repos, userID string, code types.CreditCode, reason string) (*types.Credit, error) {
	if !c.catalog.KnownCredit(code) {
		return nil, types.NewAppError(types.ErrCodeValidationUnknownCredit,
			fmt.Sprintf("unknown credit code: %s", code), nil)
	}

	product, _ := c.catalog.Product(types.ProductSystemGrant)
	tx := &types.Transaction{
		ID:                "txn_" + uuid.New().String(),
		UserID:            userID,
		ProductCode:       product.Code,
		Provider:          types.ProviderSystem,
		ProviderPaymentID: "grant_" + uuid.New().String(),
		AmountMinorUnits:  0,
		CurrencyCode:      product.CurrencyCode,
		Status:            types.TxCompleted,
	}
	if err := r.Transactions().Insert(ctx, tx); err != nil {
		return nil, err
	}

	credit, err := c.Issue(ctx, r, userID, code, tx, 0)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "issued system grant",
		"credit_id", credit.ID, "user_id", userID, "credit_code", code, "reason", reason)
	return credit, nil
}

// ConsumeOneFor claims the user's oldest available credit of the given code
// for the event. Returns (nil, nil) when the user has no available credit.
func (c *Credits) ConsumeOneFor(ctx context.Context, r types.Repos, userID string, code types.CreditCode, eventID string) (*types.Credit, error) {
	if !c.catalog.KnownCredit(code) {
		return nil, types.NewAppError(types.ErrCodeValidationUnknownCredit,
			fmt.Sprintf("unknown credit code: %s", code), nil)
	}
	credit, err := r.Credits().ConsumeOldest(ctx, userID, code, eventID)
	if err != nil {
		return nil, err
	}
	if credit != nil {
		c.logger.InfoContext(ctx, "consumed credit",
			"credit_id", credit.ID, "user_id", userID, "credit_code", code, "event_id", eventID)
	}
	return credit, nil
}
