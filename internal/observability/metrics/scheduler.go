package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/voicemeter/pkg/db"
)

const (
	SchedulerJobReasonDeadlineExceeded = "deadline_exceeded"
	SchedulerJobReasonUniqueViolation  = "unique_violation"
	SchedulerJobReasonLockHeld         = "lock_held"
	SchedulerJobReasonUnknown          = "unknown"
)

// ErrLockHeld is returned by distributed locks when another replica owns the job.
var ErrLockHeld = errors.New("lock_held")

// Scheduler captures billing scheduler health signals.
type Scheduler struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
}

// NewScheduler registers the scheduler series on registerer.
func NewScheduler(registerer prometheus.Registerer, cfg Config) *Scheduler {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabels(cfg)

	m := &Scheduler{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "voicemeter_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "voicemeter_scheduler_job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "voicemeter_scheduler_job_timeouts_total",
			Help:        "Scheduler jobs that hit their soft timeout.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "voicemeter_scheduler_job_errors_total",
			Help:        "Scheduler job errors by reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		batchProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "voicemeter_scheduler_batch_processed_total",
			Help:        "Entities processed per scheduler job.",
			ConstLabels: constLabels,
		}, []string{"job", "entity"}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.batchProcessed,
	)
	return m
}

func (m *Scheduler) RecordJobRun(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(normalizeLabel(job)).Inc()
	m.jobDuration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

func (m *Scheduler) RecordJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(normalizeLabel(job)).Inc()
}

func (m *Scheduler) RecordJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(normalizeLabel(job), ClassifySchedulerJobReason(err)).Inc()
}

func (m *Scheduler) AddBatchProcessed(job, entity string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(normalizeLabel(job), normalizeLabel(entity)).Add(float64(count))
}

// ClassifySchedulerJobReason maps a job error to a low-cardinality label.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return SchedulerJobReasonDeadlineExceeded
	case db.IsDuplicateKeyErr(err):
		return SchedulerJobReasonUniqueViolation
	case errors.Is(err, ErrLockHeld):
		return SchedulerJobReasonLockHeld
	default:
		return SchedulerJobReasonUnknown
	}
}
