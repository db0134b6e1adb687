package handlers

import (
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"

	"sapar/internal/billing"
	"sapar/internal/core"
	"sapar/internal/types"
)

// ExportHandler serves GET /v1/clubs/{clubID}/ledger/export: the club's
// transaction ledger as gzip-compressed CSV. The endpoint is plan-gated; the
// entitlement check runs before any rows are read.
type ExportHandler struct {
	resolver EntitlementResolver
	store    types.Store
	logger   *slog.Logger
}

// NewExportHandler creates an ExportHandler.
func NewExportHandler(resolver EntitlementResolver, store types.Store, l *slog.Logger) *ExportHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ExportHandler{resolver: resolver, store: store, logger: l}
}

// RegisterRoutes mounts the export endpoint. The parent router group must
// apply bearer authentication.
func (h *ExportHandler) RegisterRoutes(r chi.Router) {
	r.Get("/clubs/{clubID}/ledger/export", h.ExportLedger)
}

// exportColumns is the CSV header row for ledger exports.
var exportColumns = []string{
	"transaction_id", "user_id", "product_code", "provider",
	"provider_payment_id", "amount_minor_units", "currency_code", "status",
	"period_start", "period_end", "created_at",
}

// ExportLedger streams the club ledger as gzipped CSV. Once streaming has
// begun a row-level error can only be logged; the truncated output is the
// client's signal to retry.
func (h *ExportHandler) ExportLedger(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	clubID := chi.URLParam(r, "clubID")
	if err := requireClubAccess(actor, clubID); err != nil {
		core.Error(w, r, err)
		return
	}

	decision, err := h.resolver.CheckAction(r.Context(), billing.ActionRequest{
		Action: types.ActionExportLedgerCSV,
		ClubID: clubID,
		UserID: actor.ID,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if decision.Outcome != types.DecisionAllow {
		appErr := types.NewAppError(types.ErrCodeEntitlementDenied, decision.Reason, nil)
		if decision.Upsell != nil {
			appErr = appErr.WithDetails(map[string]any{
				"upsell_plan":              decision.Upsell.PlanCode,
				"upsell_price_minor_units": decision.Upsell.PriceMinorUnits,
				"upsell_currency":          decision.Upsell.CurrencyCode,
			})
		}
		core.Error(w, r, appErr)
		return
	}

	transactions, err := h.store.Transactions().ListByClub(r.Context(), clubID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Disposition",
		`attachment; filename="ledger_`+clubID+`_`+time.Now().UTC().Format("20060102")+`.csv.gz"`)
	w.WriteHeader(http.StatusOK)

	gz := gzip.NewWriter(w)
	cw := csv.NewWriter(gz)

	if err := cw.Write(exportColumns); err != nil {
		h.logger.ErrorContext(r.Context(), "ledger export write failed", "club_id", clubID, "error", err)
		return
	}
	for i := range transactions {
		if err := cw.Write(exportRow(&transactions[i])); err != nil {
			h.logger.ErrorContext(r.Context(), "ledger export write failed",
				"club_id", clubID, "transaction_id", transactions[i].ID, "error", err)
			return
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.ErrorContext(r.Context(), "ledger export flush failed", "club_id", clubID, "error", err)
	}
	if err := gz.Close(); err != nil {
		h.logger.ErrorContext(r.Context(), "ledger export gzip close failed", "club_id", clubID, "error", err)
	}

	h.logger.InfoContext(r.Context(), "ledger exported",
		"club_id", clubID, "rows", len(transactions))
}

// exportRow renders one transaction as a CSV record.
func exportRow(t *types.Transaction) []string {
	return []string{
		t.ID,
		t.UserID,
		string(t.ProductCode),
		string(t.Provider),
		t.ProviderPaymentID,
		strconv.FormatInt(t.AmountMinorUnits, 10),
		t.CurrencyCode,
		string(t.Status),
		formatTimePtr(t.PeriodStart),
		formatTimePtr(t.PeriodEnd),
		t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
