package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pixelmint/pixelmint/internal/store"
	"github.com/pixelmint/pixelmint/internal/tenant"
	"github.com/pixelmint/pixelmint/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// --- mock KeyStore ---

type mockKeyStore struct {
	created []*models.APIKey
	revoked []uuid.UUID
	err     error
}

func (m *mockKeyStore) CreateAPIKey(_ context.Context, scope tenant.Scope, key *models.APIKey) error {
	if m.err != nil {
		return m.err
	}
	key.TenantID = scope.TenantID()
	m.created = append(m.created, key)
	return nil
}

func (m *mockKeyStore) ListAPIKeys(context.Context, tenant.Scope) ([]*models.APIKey, error) {
	return m.created, m.err
}

func (m *mockKeyStore) RevokeAPIKey(_ context.Context, _ tenant.Scope, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.revoked = append(m.revoked, id)
	return nil
}

// --- mock GrantService ---

type mockGrantService struct {
	granted []*models.LedgerEntry
	err     error
}

func (m *mockGrantService) Grant(_ context.Context, scope tenant.Scope, amount int64, reason models.LedgerReason, description string) (*models.LedgerEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		TenantID:    scope.TenantID(),
		Amount:      amount,
		Reason:      reason,
		Description: description,
	}
	m.granted = append(m.granted, entry)
	return entry, nil
}

func adminRouter(ks KeyStore, gs GrantService) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/admin/keys", NewCreateKeyHandler(ks))
	r.Get("/api/v1/admin/keys", NewListKeysHandler(ks))
	r.Delete("/api/v1/admin/keys/{keyID}", NewRevokeKeyHandler(ks))
	r.Post("/api/v1/admin/credits/grant", NewGrantCreditsHandler(gs))
	return r
}

func TestCreateKey_ReturnsRawKeyOnce(t *testing.T) {
	ks := &mockKeyStore{}
	rec := httptest.NewRecorder()
	req := authedReq(t, http.MethodPost, "/api/v1/admin/keys",
		map[string]any{"name": "ci key", "scopes": []string{"jobs"}})
	adminRouter(ks, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	rawKey, _ := data["key"].(string)
	if !strings.HasPrefix(rawKey, "pm_") {
		t.Fatalf("raw key %q must be pm_-prefixed", rawKey)
	}
	if data["key_prefix"] != rawKey[:8] {
		t.Errorf("key_prefix %v does not match raw key", data["key_prefix"])
	}

	// Only the hash is stored, and it verifies against the raw key.
	if len(ks.created) != 1 {
		t.Fatalf("stored %d keys, want 1", len(ks.created))
	}
	stored := ks.created[0]
	if stored.KeyHash == rawKey {
		t.Fatal("raw key stored verbatim")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.KeyHash), []byte(rawKey)); err != nil {
		t.Fatalf("stored hash does not verify raw key: %v", err)
	}
}

func TestCreateKey_RequiresName(t *testing.T) {
	rec := httptest.NewRecorder()
	req := authedReq(t, http.MethodPost, "/api/v1/admin/keys", map[string]any{})
	adminRouter(&mockKeyStore{}, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRevokeKey_NotFound(t *testing.T) {
	ks := &mockKeyStore{err: store.ErrNotFound}
	rec := httptest.NewRecorder()
	req := authedReq(t, http.MethodDelete, "/api/v1/admin/keys/"+uuid.NewString(), nil)
	adminRouter(ks, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGrantCredits_Success(t *testing.T) {
	gs := &mockGrantService{}
	rec := httptest.NewRecorder()
	req := authedReq(t, http.MethodPost, "/api/v1/admin/credits/grant",
		map[string]any{"amount": 25, "reason": "purchase", "description": "25-pack"})
	adminRouter(nil, gs).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(gs.granted) != 1 {
		t.Fatalf("granted %d entries, want 1", len(gs.granted))
	}
	if gs.granted[0].Amount != 25 || gs.granted[0].Reason != models.LedgerReasonPurchase {
		t.Errorf("grant = %+v", gs.granted[0])
	}
}

func TestGrantCredits_RejectsBadInput(t *testing.T) {
	cases := []map[string]any{
		{"amount": 0, "reason": "bonus"},
		{"amount": -5, "reason": "bonus"},
		{"amount": 5, "reason": "debit"},
		{"amount": 5, "reason": "refund"},
		{"amount": 5, "reason": "cashback"},
	}
	for _, body := range cases {
		gs := &mockGrantService{}
		rec := httptest.NewRecorder()
		req := authedReq(t, http.MethodPost, "/api/v1/admin/credits/grant", body)
		adminRouter(nil, gs).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %v: expected 400, got %d", body, rec.Code)
		}
		if len(gs.granted) != 0 {
			t.Errorf("body %v: grant must not reach the service", body)
		}
	}
}
