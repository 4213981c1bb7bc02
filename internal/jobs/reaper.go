package jobs

import (
	"context"
	"log/slog"
	"time"
)

const reapBatchSize = 100

// Reaper fails and refunds processing jobs whose provider never called back
// within the configured window, so a job can never stay debited and stuck
// forever. The window is a policy parameter, not a correctness bound.
type Reaper struct {
	orch       *Orchestrator
	stuckAfter time.Duration
	interval   time.Duration
}

// NewReaper creates a Reaper. stuckAfter is how long a processing job may go
// without completing; interval is the scan cadence.
func NewReaper(orch *Orchestrator, stuckAfter, interval time.Duration) *Reaper {
	return &Reaper{orch: orch, stuckAfter: stuckAfter, interval: interval}
}

// Start runs the reap loop until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReapOnce(ctx)
		}
	}
}

// ReapOnce performs a single scan. Each stuck job goes through the same
// transactional fail-with-refund path as a provider failure, so a provider
// callback racing the reaper cannot double-compensate.
func (r *Reaper) ReapOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.stuckAfter)
	ids, err := r.orch.system.ListStuckJobs(ctx, cutoff, reapBatchSize)
	if err != nil {
		slog.Error("reaper scan failed", "error", err)
		return
	}

	for _, id := range ids {
		r.orch.OnProviderFailure(ctx, id, "processing timed out")
		jobsReaped.Inc()
		slog.Warn("reaped stuck job", "job_id", id, "cutoff", cutoff)
	}
}
