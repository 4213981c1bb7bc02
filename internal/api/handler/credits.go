package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	mw "github.com/pixelmint/pixelmint/internal/api/middleware"
	"github.com/pixelmint/pixelmint/internal/api/response"
	"github.com/pixelmint/pixelmint/internal/store"
	"github.com/pixelmint/pixelmint/internal/tenant"
	"github.com/pixelmint/pixelmint/pkg/models"
)

// CreditService is the ledger surface the credit handlers depend on.
type CreditService interface {
	Balance(ctx context.Context, scope tenant.Scope) (int64, error)
	Entries(ctx context.Context, scope tenant.Scope, filter store.PageFilter) ([]*models.LedgerEntry, int, error)
}

// NewBalanceHandler returns an http.HandlerFunc for GET /api/v1/credits/balance.
func NewBalanceHandler(svc CreditService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := mw.GetScope(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		balance, err := svc.Balance(r.Context(), scope)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, map[string]int64{"balance": balance})
	}
}

type ledgerEntryResponse struct {
	ID          uuid.UUID           `json:"id"`
	Amount      int64               `json:"amount"`
	Reason      models.LedgerReason `json:"reason"`
	JobID       *uuid.UUID          `json:"job_id,omitempty"`
	Description string              `json:"description,omitempty"`
	CreatedAt   string              `json:"created_at"`
}

// NewLedgerHandler returns an http.HandlerFunc for GET /api/v1/credits/ledger.
func NewLedgerHandler(svc CreditService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := mw.GetScope(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		filter := store.PageFilter{
			Page:  queryInt(r, "page"),
			Limit: queryInt(r, "limit"),
		}

		entries, total, err := svc.Entries(r.Context(), scope, filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		out := make([]ledgerEntryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, ledgerEntryResponse{
				ID:          e.ID,
				Amount:      e.Amount,
				Reason:      e.Reason,
				JobID:       e.JobID,
				Description: e.Description,
				CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		norm := filter.Normalize()
		response.Collection(w, out, response.NewMeta(norm.Page, norm.Limit, total))
	}
}
