// Package jobs owns the job state machine: create, run (idempotent),
// complete, fail. It composes the ledger service and the provider adapter;
// the pending -> processing compare-and-swap is the single synchronization
// point that guarantees at most one in-flight provider invocation and at most
// one debit per job.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pixelmint/pixelmint/internal/cache"
	"github.com/pixelmint/pixelmint/internal/ledger"
	"github.com/pixelmint/pixelmint/internal/provider"
	"github.com/pixelmint/pixelmint/internal/store"
	"github.com/pixelmint/pixelmint/internal/tenant"
	"github.com/pixelmint/pixelmint/pkg/models"
)

const statusCacheTTL = 30 * time.Minute

// Sentinel errors surfaced to the API layer.
var (
	ErrUnknownJobType = errors.New("unknown job type")
	// ErrTerminalJob rejects running a failed or cancelled job; re-running
	// terminal work would re-charge the tenant, so a new job must be
	// created instead.
	ErrTerminalJob = errors.New("job is in a terminal state")
	// ErrNotCancellable rejects cancelling a job that already started.
	ErrNotCancellable = errors.New("job can no longer be cancelled")
)

// Orchestrator drives jobs through their state machine.
type Orchestrator struct {
	store   store.Store
	system  store.System
	ledger  *ledger.Service
	adapter provider.Adapter
	cache   cache.Cache
	timeout time.Duration
}

// NewOrchestrator creates an Orchestrator. timeout bounds each provider call.
func NewOrchestrator(st store.Store, sys store.System, led *ledger.Service, adapter provider.Adapter, ca cache.Cache, timeout time.Duration) *Orchestrator {
	return &Orchestrator{
		store:   st,
		system:  sys,
		ledger:  led,
		adapter: adapter,
		cache:   ca,
		timeout: timeout,
	}
}

// Create validates the job type against the price table and inserts a
// pending job. No ledger interaction happens here: the tenant is charged when
// the job runs.
func (o *Orchestrator) Create(ctx context.Context, scope tenant.Scope, jobType, inputRef string, params json.RawMessage) (*models.Job, error) {
	cost, ok := Cost(jobType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		Type:      jobType,
		Status:    models.JobStatusPending,
		Cost:      cost,
		InputRef:  inputRef,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateJob(ctx, scope, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	_ = o.cache.SetJobStatus(ctx, job.ID, string(job.Status), statusCacheTTL)
	return job, nil
}

// Run starts a pending job, charging its cost first. The operation is
// idempotent: running a succeeded job is a no-op returning the stored job,
// and a concurrent duplicate request loses the pending -> processing CAS and
// simply observes the winner's state. Running a failed or cancelled job is
// rejected with ErrTerminalJob.
func (o *Orchestrator) Run(ctx context.Context, scope tenant.Scope, jobID uuid.UUID) (*models.Job, error) {
	job, err := o.store.GetJob(ctx, scope, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case models.JobStatusSucceeded, models.JobStatusProcessing:
		return job, nil
	case models.JobStatusFailed, models.JobStatusCancelled:
		return nil, fmt.Errorf("%w: %s", ErrTerminalJob, job.Status)
	}

	// Claim the job. Exactly one concurrent caller wins this transition;
	// losers observe the winner's in-flight state.
	job, err = o.store.TransitionJob(ctx, scope, jobID, models.JobStatusPending, models.JobStatusProcessing)
	if errors.Is(err, store.ErrConflict) {
		return o.store.GetJob(ctx, scope, jobID)
	}
	if err != nil {
		return nil, err
	}
	_ = o.cache.SetJobStatus(ctx, jobID, string(job.Status), statusCacheTTL)

	// Charge before dispatching. The debit commits its own transaction, so
	// the provider call below never runs while the balance row is locked.
	if _, err := o.ledger.Debit(ctx, scope, jobID, job.Cost); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			// The ledger already holds a debit for this job from an
			// earlier attempt that was reverted before dispatch. The
			// ledger is the source of truth: keep going without
			// charging again.
			slog.Warn("job already debited, dispatching without new charge",
				"job_id", jobID)
		case errors.Is(err, store.ErrInsufficientCredits):
			o.revertClaim(ctx, scope, jobID)
			return nil, err
		default:
			o.revertClaim(ctx, scope, jobID)
			return nil, fmt.Errorf("charging job %s: %w", jobID, err)
		}
	} else {
		creditsDebited.Add(float64(job.Cost))
	}

	jobsDispatched.WithLabelValues(job.Type).Inc()
	go o.dispatch(job)

	return job, nil
}

// revertClaim undoes the pending -> processing claim after a refused or
// failed debit. If the revert itself fails the job stays in processing and
// the reaper will eventually fail it; the ledger guard above prevents a
// double charge on the retry.
func (o *Orchestrator) revertClaim(ctx context.Context, scope tenant.Scope, jobID uuid.UUID) {
	if _, err := o.store.TransitionJob(ctx, scope, jobID, models.JobStatusProcessing, models.JobStatusPending); err != nil {
		slog.Error("failed to revert job claim", "job_id", jobID, "error", err)
		return
	}
	_ = o.cache.SetJobStatus(ctx, jobID, string(models.JobStatusPending), statusCacheTTL)
}

// Cancel moves a pending job to cancelled. Jobs that already started must run
// to completion (and be refunded on failure) instead.
func (o *Orchestrator) Cancel(ctx context.Context, scope tenant.Scope, jobID uuid.UUID) (*models.Job, error) {
	job, err := o.store.TransitionJob(ctx, scope, jobID, models.JobStatusPending, models.JobStatusCancelled)
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrNotCancellable
	}
	if err != nil {
		return nil, err
	}
	_ = o.cache.SetJobStatus(ctx, jobID, string(job.Status), statusCacheTTL)
	return job, nil
}

// Get fetches a job scoped to the caller's tenant.
func (o *Orchestrator) Get(ctx context.Context, scope tenant.Scope, jobID uuid.UUID) (*models.Job, error) {
	return o.store.GetJob(ctx, scope, jobID)
}

// List returns the tenant's jobs, newest first.
func (o *Orchestrator) List(ctx context.Context, scope tenant.Scope, filter store.JobFilter) ([]*models.Job, int, error) {
	return o.store.ListJobs(ctx, scope, filter)
}

// dispatch invokes the provider in the background and delivers exactly one of
// the two callbacks. It recovers from panics so a broken adapter cannot leave
// a job debited and stuck in processing.
func (o *Orchestrator) dispatch(job *models.Job) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in provider dispatch", "error", r, "job_id", job.ID)
			o.OnProviderFailure(ctx, job.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resultRef, err := o.adapter.Run(runCtx, job)
	if err != nil {
		o.OnProviderFailure(ctx, job.ID, err.Error())
		return
	}
	o.OnProviderSuccess(ctx, job.ID, resultRef)
}

// OnProviderSuccess moves processing -> succeeded and stores the result. A
// conflict means the job already reached a terminal state (e.g. the reaper
// failed it first) and is benign.
func (o *Orchestrator) OnProviderSuccess(ctx context.Context, jobID uuid.UUID, resultRef string) {
	job, err := o.system.CompleteJob(ctx, jobID, resultRef)
	if errors.Is(err, store.ErrConflict) {
		slog.Warn("late provider success ignored", "job_id", jobID)
		return
	}
	if err != nil {
		slog.Error("failed to complete job", "job_id", jobID, "error", err)
		return
	}

	jobsSucceeded.WithLabelValues(job.Type).Inc()
	_ = o.cache.SetJobStatus(ctx, jobID, string(job.Status), statusCacheTTL)
	slog.Info("job succeeded", "job_id", jobID, "result_ref", resultRef)
}

// OnProviderFailure moves processing -> failed and refunds the job's debit.
// The status write and the refund are one transaction in the store, so the
// compensation happens exactly once no matter how many failure signals race.
func (o *Orchestrator) OnProviderFailure(ctx context.Context, jobID uuid.UUID, msg string) {
	job, err := o.system.FailJobWithRefund(ctx, jobID, msg)
	if errors.Is(err, store.ErrConflict) {
		slog.Warn("late provider failure ignored", "job_id", jobID)
		return
	}
	if err != nil {
		slog.Error("failed to fail job", "job_id", jobID, "error", err)
		return
	}

	jobsFailed.WithLabelValues(job.Type).Inc()
	creditsRefunded.Add(float64(job.Cost))
	_ = o.cache.SetJobStatus(ctx, jobID, string(job.Status), statusCacheTTL)
	slog.Info("job failed and refunded", "job_id", jobID, "error", msg)
}
