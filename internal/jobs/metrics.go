package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pixelmint",
			Name:      "jobs_dispatched_total",
			Help:      "Jobs handed to the processing provider",
		},
		[]string{"type"},
	)
	jobsSucceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pixelmint",
			Name:      "jobs_succeeded_total",
			Help:      "Jobs that reached the succeeded state",
		},
		[]string{"type"},
	)
	jobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pixelmint",
			Name:      "jobs_failed_total",
			Help:      "Jobs that reached the failed state",
		},
		[]string{"type"},
	)
	creditsDebited = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pixelmint",
			Name:      "credits_debited_total",
			Help:      "Credits charged for job runs",
		},
	)
	creditsRefunded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pixelmint",
			Name:      "credits_refunded_total",
			Help:      "Credits refunded for failed jobs",
		},
	)
	jobsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pixelmint",
			Name:      "jobs_reaped_total",
			Help:      "Stuck processing jobs failed by the reaper",
		},
	)
)
