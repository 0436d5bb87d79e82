package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsSubmitted counts remote jobs created, by kind and operation.
	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmjobs_jobs_submitted_total",
			Help: "Total number of remote jobs created",
		},
		[]string{"kind", "operation"},
	)

	// JobsFinished counts orchestrations by kind and outcome
	// (JobComplete, Failed, Aborted, timeout, poll_error).
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmjobs_jobs_finished_total",
			Help: "Total number of orchestrations that stopped waiting, by outcome",
		},
		[]string{"kind", "outcome"},
	)

	// JobDuration tracks wall time from submission to the end of the wait.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crmjobs_job_duration_seconds",
			Help:    "Duration of remote jobs from submission to terminal state",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68m
		},
		[]string{"kind"},
	)

	// StatusPolls counts status snapshots taken.
	StatusPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmjobs_status_polls_total",
			Help: "Total number of job status checks",
		},
		[]string{"kind"},
	)

	// SubmissionFailures counts submissions that failed, by step.
	SubmissionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmjobs_submission_failures_total",
			Help: "Total number of failed job submissions",
		},
		[]string{"kind", "step"},
	)

	// RecordsProcessed counts reconciled bulk records by operation and outcome.
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmjobs_records_total",
			Help: "Total number of bulk records reconciled",
		},
		[]string{"operation", "outcome"},
	)

	// OrchestrationsActive tracks orchestrations currently waiting on a remote job.
	OrchestrationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crmjobs_orchestrations_active",
			Help: "Number of orchestrations currently in flight",
		},
	)

	// WorkersActive tracks busy pool workers.
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crmjobs_workers_active",
			Help: "Number of currently busy pool workers",
		},
	)
)
