package models

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusPending, JobStatusCancelled, true},
		{JobStatusProcessing, JobStatusSucceeded, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusPending, true},

		{JobStatusPending, JobStatusSucceeded, false},
		{JobStatusPending, JobStatusFailed, false},
		{JobStatusProcessing, JobStatusCancelled, false},
		{JobStatusSucceeded, JobStatusProcessing, false},
		{JobStatusSucceeded, JobStatusPending, false},
		{JobStatusFailed, JobStatusProcessing, false},
		{JobStatusFailed, JobStatusPending, false},
		{JobStatusCancelled, JobStatusProcessing, false},
	}

	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := map[JobStatus]bool{
		JobStatusPending:    false,
		JobStatusProcessing: false,
		JobStatusSucceeded:  true,
		JobStatusFailed:     true,
		JobStatusCancelled:  true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestParseJobStatus(t *testing.T) {
	for _, valid := range []string{"pending", "processing", "succeeded", "failed", "cancelled"} {
		if _, ok := ParseJobStatus(valid); !ok {
			t.Errorf("ParseJobStatus(%q) rejected a valid status", valid)
		}
	}
	for _, invalid := range []string{"", "running", "done", "PENDING"} {
		if _, ok := ParseJobStatus(invalid); ok {
			t.Errorf("ParseJobStatus(%q) accepted an invalid status", invalid)
		}
	}
}
