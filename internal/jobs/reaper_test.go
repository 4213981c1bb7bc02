package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/pixelmint/pixelmint/internal/provider/mock"
	"github.com/pixelmint/pixelmint/pkg/models"
)

func TestReapOnce_FailsAndRefundsStuckJob(t *testing.T) {
	// The adapter never answers; the dispatch goroutine sits on its context
	// until the provider timeout fires long after this test ends.
	env := newTestEnv(t, mock.NewBlockingAdapter(), 10)
	job := env.createJob(t, "background_removal")

	if _, err := env.orch.Run(context.Background(), env.scope, job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if bal := env.balance(t); bal != 8 {
		t.Fatalf("balance after debit = %d, want 8", bal)
	}

	reaper := NewReaper(env.orch, time.Millisecond, time.Hour)
	time.Sleep(10 * time.Millisecond) // let started_at fall behind the cutoff
	reaper.ReapOnce(context.Background())

	got := env.waitForStatus(t, job.ID, models.JobStatusFailed)
	if got.ErrorMessage == nil || *got.ErrorMessage != "processing timed out" {
		t.Fatalf("reaped job error = %v, want processing timed out", got.ErrorMessage)
	}
	if bal := env.balance(t); bal != 10 {
		t.Fatalf("reaped job must refund: balance %d, want 10", bal)
	}
	if sum := env.mem.LedgerSum(env.scope.TenantID()); sum != 10 {
		t.Fatalf("balance and ledger diverged: sum %d", sum)
	}
}

func TestReapOnce_LeavesFreshJobsAlone(t *testing.T) {
	env := newTestEnv(t, mock.NewBlockingAdapter(), 10)
	job := env.createJob(t, "upscale")

	if _, err := env.orch.Run(context.Background(), env.scope, job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	reaper := NewReaper(env.orch, time.Hour, time.Hour)
	reaper.ReapOnce(context.Background())

	got, err := env.orch.Get(context.Background(), env.scope, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.JobStatusProcessing {
		t.Fatalf("fresh processing job was reaped: %s", got.Status)
	}
}

func TestReaperRaceWithProviderFailure_RefundsOnce(t *testing.T) {
	env := newTestEnv(t, mock.NewBlockingAdapter(), 10)
	job := env.createJob(t, "colorize")

	if _, err := env.orch.Run(context.Background(), env.scope, job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Deliver the same failure from both sides; the transactional
	// fail-with-refund admits exactly one.
	env.orch.OnProviderFailure(context.Background(), job.ID, "provider error")
	reaper := NewReaper(env.orch, time.Millisecond, time.Hour)
	reaper.ReapOnce(context.Background())

	if bal := env.balance(t); bal != 10 {
		t.Fatalf("double failure must refund once: balance %d, want 10", bal)
	}
}

func TestPricing(t *testing.T) {
	cases := map[string]int64{
		"upscale":            1,
		"enhance":            1,
		"background_removal": 2,
		"colorize":           2,
		"style_transfer":     3,
	}
	for jobType, want := range cases {
		cost, ok := Cost(jobType)
		if !ok {
			t.Errorf("Cost(%q) unknown", jobType)
			continue
		}
		if cost != want {
			t.Errorf("Cost(%q) = %d, want %d", jobType, cost, want)
		}
	}
	if _, ok := Cost("deep_fry"); ok {
		t.Error("Cost accepted an unknown type")
	}
	if got := len(JobTypes()); got != len(cases) {
		t.Errorf("JobTypes() returned %d types, want %d", got, len(cases))
	}
}
