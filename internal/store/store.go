package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pixelmint/pixelmint/internal/tenant"
	"github.com/pixelmint/pixelmint/pkg/models"
)

// Sentinel errors for cross-layer signaling.
var (
	// ErrNotFound is returned for missing rows and, deliberately, for rows
	// owned by another tenant. Callers cannot distinguish the two.
	ErrNotFound = errors.New("resource not found")
	// ErrConflict is returned when a compare-and-swap status transition
	// loses the race or the current status forbids the transition.
	ErrConflict = errors.New("status transition conflict")
	// ErrInsufficientCredits is a normal, expected outcome of a debit.
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrDuplicateKey        = errors.New("duplicate key violation")
	ErrInvalidScope        = errors.New("invalid tenant scope")
)

// Store is the tenant-facing data access interface. Every method that touches
// tenant-owned rows requires a tenant.Scope; there is no way to query by bare
// entity id.
type Store interface {
	Ping(ctx context.Context) error

	// Tenants. CreateTenant is the provisioning path and runs before a
	// scope exists; everything else is scoped.
	CreateTenant(ctx context.Context, t *models.Tenant) error
	GetTenant(ctx context.Context, scope tenant.Scope) (*models.Tenant, error)

	// API keys. Prefix lookup runs during authentication, before a scope
	// has been established.
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, scope tenant.Scope, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, scope tenant.Scope) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, scope tenant.Scope, id uuid.UUID) error

	// Jobs.
	CreateJob(ctx context.Context, scope tenant.Scope, job *models.Job) error
	GetJob(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, scope tenant.Scope, filter JobFilter) ([]*models.Job, int, error)
	// TransitionJob atomically moves a job from one status to another.
	// Returns ErrConflict if the job is no longer in the expected status
	// and ErrNotFound if it does not exist for this tenant.
	TransitionJob(ctx context.Context, scope tenant.Scope, id uuid.UUID, from, to models.JobStatus) (*models.Job, error)

	// Ledger. DebitForJob is a single atomic unit: lock the tenant row,
	// verify funds, decrement, append the debit entry. Tenants never block
	// each other; concurrent debits for one tenant serialize on its row.
	DebitForJob(ctx context.Context, scope tenant.Scope, jobID uuid.UUID, amount int64) (*models.LedgerEntry, error)
	Grant(ctx context.Context, scope tenant.Scope, amount int64, reason models.LedgerReason, description string) (*models.LedgerEntry, error)
	GetBalance(ctx context.Context, scope tenant.Scope) (int64, error)
	ListLedgerEntries(ctx context.Context, scope tenant.Scope, filter PageFilter) ([]*models.LedgerEntry, int, error)
}

// System is the callback-side access path used when the processing provider
// reports a result and by the stuck-job reaper. It is keyed by job id alone,
// so it must never be reachable from a request handler: the orchestrator is
// its only consumer.
type System interface {
	// CompleteJob moves processing -> succeeded and stores the result.
	// ErrConflict if the job already left processing.
	CompleteJob(ctx context.Context, jobID uuid.UUID, resultRef string) (*models.Job, error)
	// FailJobWithRefund moves processing -> failed, records the error, and
	// refunds the job's debit in the same transaction. The refund exists
	// exactly when the status write wins, which is what makes the
	// compensation exactly-once. ErrConflict if the job already left
	// processing.
	FailJobWithRefund(ctx context.Context, jobID uuid.UUID, errMsg string) (*models.Job, error)
	// ListStuckJobs returns ids of processing jobs whose started_at is
	// older than the cutoff.
	ListStuckJobs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// JobFilter narrows and pages a job listing.
type JobFilter struct {
	Status models.JobStatus
	Page   int
	Limit  int
}

// PageFilter pages a ledger listing.
type PageFilter struct {
	Page  int
	Limit int
}

// Normalize clamps paging values to sane bounds.
func (f JobFilter) Normalize() JobFilter {
	f.Page, f.Limit = normalizePage(f.Page, f.Limit)
	return f
}

func (f PageFilter) Normalize() PageFilter {
	f.Page, f.Limit = normalizePage(f.Page, f.Limit)
	return f
}

func normalizePage(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return page, limit
}
