// Package ledger wraps the store's atomic balance primitives with the
// validation and audit rules of the credit subsystem. It has no opinion about
// jobs: the exactly-once pairing of a refund with its debit is the job state
// machine's responsibility.
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pixelmint/pixelmint/internal/store"
	"github.com/pixelmint/pixelmint/internal/tenant"
	"github.com/pixelmint/pixelmint/pkg/models"
)

// Service mediates every credit balance mutation.
type Service struct {
	store store.Store
}

// New creates a ledger Service.
func New(s store.Store) *Service {
	return &Service{store: s}
}

// Debit charges amount credits for running jobID. It is a single atomic unit
// against the tenant's balance row: verify funds, decrement, append the debit
// entry. Returns store.ErrInsufficientCredits with no side effects when the
// balance does not cover the amount. Concurrent debits for the same tenant
// serialize; different tenants never block each other.
func (s *Service) Debit(ctx context.Context, scope tenant.Scope, jobID uuid.UUID, amount int64) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	entry, err := s.store.DebitForJob(ctx, scope, jobID, amount)
	if err != nil {
		return nil, fmt.Errorf("debit %d for job %s: %w", amount, jobID, err)
	}
	return entry, nil
}

// Grant credits amount to the tenant for a non-job reason (signup bonus or a
// purchase). Reason debit/refund is rejected: those flow through the job
// state machine only.
func (s *Service) Grant(ctx context.Context, scope tenant.Scope, amount int64, reason models.LedgerReason, description string) (*models.LedgerEntry, error) {
	entry, err := s.store.Grant(ctx, scope, amount, reason, description)
	if err != nil {
		return nil, fmt.Errorf("grant %d credits: %w", amount, err)
	}
	return entry, nil
}

// Balance is a point-in-time read; writers hold the row lock so
// read-committed is sufficient.
func (s *Service) Balance(ctx context.Context, scope tenant.Scope) (int64, error) {
	return s.store.GetBalance(ctx, scope)
}

// Entries returns the tenant's ledger history, newest first.
func (s *Service) Entries(ctx context.Context, scope tenant.Scope, filter store.PageFilter) ([]*models.LedgerEntry, int, error) {
	return s.store.ListLedgerEntries(ctx, scope, filter)
}
