package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pixelmint/pixelmint/internal/store"
	"github.com/pixelmint/pixelmint/internal/tenant"
	"github.com/pixelmint/pixelmint/pkg/models"
)

type mockCreditService struct {
	balance int64
	entries []*models.LedgerEntry
	total   int
	err     error
}

func (m *mockCreditService) Balance(context.Context, tenant.Scope) (int64, error) {
	return m.balance, m.err
}

func (m *mockCreditService) Entries(_ context.Context, _ tenant.Scope, _ store.PageFilter) ([]*models.LedgerEntry, int, error) {
	return m.entries, m.total, m.err
}

func creditsRouter(svc CreditService) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/credits/balance", NewBalanceHandler(svc))
	r.Get("/api/v1/credits/ledger", NewLedgerHandler(svc))
	return r
}

func TestBalance(t *testing.T) {
	rec := httptest.NewRecorder()
	req := authedReq(t, http.MethodGet, "/api/v1/credits/balance", nil)
	creditsRouter(&mockCreditService{balance: 7}).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := decodeData(t, rec)
	if data["balance"] != float64(7) {
		t.Errorf("balance = %v, want 7", data["balance"])
	}
}

func TestBalance_Unauthenticated(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", nil)
	creditsRouter(&mockCreditService{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLedger_ReturnsEntries(t *testing.T) {
	jobID := uuid.New()
	svc := &mockCreditService{
		entries: []*models.LedgerEntry{
			{ID: uuid.New(), Amount: -1, Reason: models.LedgerReasonDebit, JobID: &jobID, CreatedAt: time.Now().UTC()},
			{ID: uuid.New(), Amount: 10, Reason: models.LedgerReasonBonus, Description: "signup credits", CreatedAt: time.Now().UTC()},
		},
		total: 2,
	}
	rec := httptest.NewRecorder()
	req := authedReq(t, http.MethodGet, "/api/v1/credits/ledger", nil)
	creditsRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var env struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data) != 2 || env.Meta.Total != 2 {
		t.Fatalf("got %d entries, total %d", len(env.Data), env.Meta.Total)
	}
	if env.Data[0]["reason"] != "debit" || env.Data[0]["amount"] != float64(-1) {
		t.Errorf("first entry = %v", env.Data[0])
	}
}
