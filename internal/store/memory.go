package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pixelmint/pixelmint/internal/tenant"
	"github.com/pixelmint/pixelmint/pkg/models"
)

// MemoryStore is an in-memory implementation of Store and System used for
// development and tests. A single mutex guards all state; the transactional
// semantics match PostgresStore (debit, fail-with-refund and CAS transitions
// are each one atomic unit), even though the lock granularity is coarser.
type MemoryStore struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*models.Tenant
	keys    map[uuid.UUID]*models.APIKey
	jobs    map[uuid.UUID]*models.Job
	entries []*models.LedgerEntry
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[uuid.UUID]*models.Tenant),
		keys:    make(map[uuid.UUID]*models.APIKey),
		jobs:    make(map[uuid.UUID]*models.Job),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// LedgerSum returns the sum of all ledger amounts for a tenant. Test helper
// for the balance == sum(entries) invariant.
func (s *MemoryStore) LedgerSum(tenantID uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, e := range s.entries {
		if e.TenantID == tenantID {
			sum += e.Amount
		}
	}
	return sum
}

// --- Tenants ---

func (s *MemoryStore) CreateTenant(_ context.Context, t *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[t.ID]; ok {
		return ErrDuplicateKey
	}
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTenant(_ context.Context, scope tenant.Scope) (*models.Tenant, error) {
	if !scope.Valid() {
		return nil, ErrInvalidScope
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[scope.TenantID()]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, scope tenant.Scope, key *models.APIKey) error {
	if !scope.Valid() {
		return ErrInvalidScope
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key.TenantID = scope.TenantID()
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context, scope tenant.Scope) ([]*models.APIKey, error) {
	if !scope.Valid() {
		return nil, ErrInvalidScope
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.TenantID == scope.TenantID() && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, scope tenant.Scope, id uuid.UUID) error {
	if !scope.Valid() {
		return ErrInvalidScope
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.TenantID != scope.TenantID() || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

// --- Jobs ---

func (s *MemoryStore) CreateJob(_ context.Context, scope tenant.Scope, job *models.Job) error {
	if !scope.Valid() {
		return ErrInvalidScope
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job.TenantID = scope.TenantID()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, scope tenant.Scope, id uuid.UUID) (*models.Job, error) {
	if !scope.Valid() {
		return nil, ErrInvalidScope
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getJobLocked(scope.TenantID(), id)
}

func (s *MemoryStore) getJobLocked(tenantID, id uuid.UUID) (*models.Job, error) {
	j, ok := s.jobs[id]
	if !ok || j.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) ListJobs(_ context.Context, scope tenant.Scope, filter JobFilter) ([]*models.Job, int, error) {
	if !scope.Valid() {
		return nil, 0, ErrInvalidScope
	}
	filter = filter.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*models.Job
	for _, j := range s.jobs {
		if j.TenantID != scope.TenantID() {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		cp := *j
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return strings.Compare(all[i].ID.String(), all[j].ID.String()) < 0
	})

	total := len(all)
	start := (filter.Page - 1) * filter.Limit
	if start >= total {
		return nil, total, nil
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *MemoryStore) TransitionJob(_ context.Context, scope tenant.Scope, id uuid.UUID, from, to models.JobStatus) (*models.Job, error) {
	if !scope.Valid() {
		return nil, ErrInvalidScope
	}
	if !models.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrConflict, from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.TenantID != scope.TenantID() {
		return nil, ErrNotFound
	}
	if j.Status != from {
		return nil, ErrConflict
	}

	now := time.Now().UTC()
	j.Status = to
	j.UpdatedAt = now
	switch {
	case to == models.JobStatusProcessing:
		started := now
		j.StartedAt = &started
	case to == models.JobStatusPending:
		j.StartedAt = nil
	case to.IsTerminal():
		completed := now
		j.CompletedAt = &completed
	}
	cp := *j
	return &cp, nil
}

// --- Ledger ---

func (s *MemoryStore) DebitForJob(_ context.Context, scope tenant.Scope, jobID uuid.UUID, amount int64) (*models.LedgerEntry, error) {
	if !scope.Valid() {
		return nil, ErrInvalidScope
	}
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[scope.TenantID()]
	if !ok {
		return nil, ErrNotFound
	}
	for _, e := range s.entries {
		if e.Reason == models.LedgerReasonDebit && e.JobID != nil && *e.JobID == jobID {
			return nil, fmt.Errorf("%w: job %s already debited", ErrConflict, jobID)
		}
	}
	if t.CreditBalance < amount {
		return nil, ErrInsufficientCredits
	}

	t.CreditBalance -= amount
	t.UpdatedAt = time.Now().UTC()
	entry := &models.LedgerEntry{
		ID:        uuid.New(),
		TenantID:  t.ID,
		Amount:    -amount,
		Reason:    models.LedgerReasonDebit,
		JobID:     &jobID,
		CreatedAt: time.Now().UTC(),
	}
	s.entries = append(s.entries, entry)
	cp := *entry
	return &cp, nil
}

func (s *MemoryStore) Grant(_ context.Context, scope tenant.Scope, amount int64, reason models.LedgerReason, description string) (*models.LedgerEntry, error) {
	if !scope.Valid() {
		return nil, ErrInvalidScope
	}
	if amount <= 0 {
		return nil, fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	if reason != models.LedgerReasonBonus && reason != models.LedgerReasonPurchase {
		return nil, fmt.Errorf("grant reason must be bonus or purchase, got %q", reason)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[scope.TenantID()]
	if !ok {
		return nil, ErrNotFound
	}
	t.CreditBalance += amount
	t.UpdatedAt = time.Now().UTC()
	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		TenantID:    t.ID,
		Amount:      amount,
		Reason:      reason,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	s.entries = append(s.entries, entry)
	cp := *entry
	return &cp, nil
}

func (s *MemoryStore) GetBalance(_ context.Context, scope tenant.Scope) (int64, error) {
	if !scope.Valid() {
		return 0, ErrInvalidScope
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[scope.TenantID()]
	if !ok {
		return 0, ErrNotFound
	}
	return t.CreditBalance, nil
}

func (s *MemoryStore) ListLedgerEntries(_ context.Context, scope tenant.Scope, filter PageFilter) ([]*models.LedgerEntry, int, error) {
	if !scope.Valid() {
		return nil, 0, ErrInvalidScope
	}
	filter = filter.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*models.LedgerEntry
	for _, e := range s.entries {
		if e.TenantID == scope.TenantID() {
			cp := *e
			all = append(all, &cp)
		}
	}
	// entries slice is already append-ordered; newest first for the API
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}

	total := len(all)
	start := (filter.Page - 1) * filter.Limit
	if start >= total {
		return nil, total, nil
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// --- System ---

func (s *MemoryStore) CompleteJob(_ context.Context, jobID uuid.UUID, resultRef string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.Status != models.JobStatusProcessing {
		return nil, ErrConflict
	}
	now := time.Now().UTC()
	j.Status = models.JobStatusSucceeded
	j.ResultRef = &resultRef
	j.CompletedAt = &now
	j.UpdatedAt = now
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) FailJobWithRefund(_ context.Context, jobID uuid.UUID, errMsg string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.Status != models.JobStatusProcessing {
		return nil, ErrConflict
	}
	now := time.Now().UTC()
	j.Status = models.JobStatusFailed
	j.ErrorMessage = &errMsg
	j.CompletedAt = &now
	j.UpdatedAt = now

	var debited bool
	for _, e := range s.entries {
		if e.Reason == models.LedgerReasonDebit && e.JobID != nil && *e.JobID == jobID {
			debited = true
			break
		}
	}
	if debited {
		t := s.tenants[j.TenantID]
		t.CreditBalance += j.Cost
		t.UpdatedAt = now
		s.entries = append(s.entries, &models.LedgerEntry{
			ID:        uuid.New(),
			TenantID:  j.TenantID,
			Amount:    j.Cost,
			Reason:    models.LedgerReasonRefund,
			JobID:     &jobID,
			CreatedAt: now,
		})
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) ListStuckJobs(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	type stuck struct {
		id      uuid.UUID
		started time.Time
	}
	var found []stuck
	for _, j := range s.jobs {
		if j.Status == models.JobStatusProcessing && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			found = append(found, stuck{id: j.ID, started: *j.StartedAt})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].started.Before(found[j].started) })
	if len(found) > limit {
		found = found[:limit]
	}
	ids := make([]uuid.UUID, 0, len(found))
	for _, f := range found {
		ids = append(ids, f.id)
	}
	return ids, nil
}

// Compile-time checks.
var (
	_ Store  = (*MemoryStore)(nil)
	_ System = (*MemoryStore)(nil)
	_ Store  = (*PostgresStore)(nil)
	_ System = (*PostgresStore)(nil)
)
