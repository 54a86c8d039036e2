package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the screening workflow service.
// Metrics are organized by subsystem: screening, cascades, jobs, dedupe,
// ranking, locking, outbox and imports. All collectors are registered via
// promauto with the default Prometheus registry.
//
// Record methods are safe to call on a nil *Metrics, so components can treat
// metrics as optional.
type Metrics struct {
	// ScreeningsRecorded counts reviewer decisions, labeled by stage, operation and decision.
	ScreeningsRecorded *prometheus.CounterVec

	// StatusTransitions counts consensus status changes, labeled by stage, from and to.
	StatusTransitions *prometheus.CounterVec

	// CascadesApplied counts dependent-record creations and removals, labeled by kind.
	CascadesApplied *prometheus.CounterVec

	// InvariantViolations counts aborted transitions whose preconditions did not hold.
	InvariantViolations *prometheus.CounterVec

	// JobsEnqueued counts background jobs written to the outbox, labeled by job and trigger.
	JobsEnqueued *prometheus.CounterVec

	// DedupeRuns counts pipeline runs, labeled by outcome (completed, skipped, failed).
	DedupeRuns *prometheus.CounterVec

	// DedupeDuration observes the duration of completed dedupe runs in seconds.
	DedupeDuration prometheus.Histogram

	// DedupeClusters counts clusters returned by the matcher.
	DedupeClusters prometheus.Counter

	// DedupeDuplicates counts studies marked as duplicates.
	DedupeDuplicates prometheus.Counter

	// RankingRequests counts ranked queue requests, labeled by the source that produced the order.
	RankingRequests *prometheus.CounterVec

	// TrainingRuns counts keyterm suggestion and classifier training runs, labeled by job and outcome.
	TrainingRuns *prometheus.CounterVec

	// LockWaitDuration observes how long jobs waited for their review lock, labeled by job.
	LockWaitDuration *prometheus.HistogramVec

	// LockAcquireFailures counts lock acquisitions that timed out or failed, labeled by job.
	LockAcquireFailures *prometheus.CounterVec

	// OutboxRelayed counts outbox events delivered, labeled by event type.
	OutboxRelayed *prometheus.CounterVec

	// OutboxFailed counts failed outbox deliveries, labeled by event type.
	OutboxFailed *prometheus.CounterVec

	// ImportMessages counts consumed import notifications, labeled by outcome.
	ImportMessages *prometheus.CounterVec

	// CounterDrift counts review counters corrected by reconciliation.
	CounterDrift prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Screening
		ScreeningsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screenings_recorded_total",
			Help:      "Total number of reviewer screening operations",
		}, []string{"stage", "operation", "decision"}),
		StatusTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Total number of consensus status transitions",
		}, []string{"stage", "from", "to"}),
		CascadesApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascades_applied_total",
			Help:      "Total number of dependent record creations and removals",
		}, []string{"kind"}),
		InvariantViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Total number of transitions aborted on a broken precondition",
		}, []string{"op"}),

		// Jobs
		JobsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of background jobs enqueued",
		}, []string{"job", "trigger"}),

		// Dedupe
		DedupeRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedupe_runs_total",
			Help:      "Total number of deduplication runs by outcome",
		}, []string{"outcome"}),
		DedupeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dedupe_duration_seconds",
			Help:      "Duration of completed deduplication runs in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		DedupeClusters: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedupe_clusters_total",
			Help:      "Total number of duplicate clusters found",
		}),
		DedupeDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedupe_duplicates_total",
			Help:      "Total number of studies marked as duplicates",
		}),

		// Ranking and training
		RankingRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranking_requests_total",
			Help:      "Total number of ranked queue requests by ranking source",
		}, []string{"source"}),
		TrainingRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_runs_total",
			Help:      "Total number of keyterm suggestion and classifier training runs",
		}, []string{"job", "outcome"}),

		// Locking
		LockWaitDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for review-scoped locks",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"job"}),
		LockAcquireFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquire_failures_total",
			Help:      "Total number of review lock acquisitions that failed or timed out",
		}, []string{"job"}),

		// Outbox and imports
		OutboxRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_relayed_total",
			Help:      "Total number of outbox events delivered",
		}, []string{"event_type"}),
		OutboxFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox deliveries",
		}, []string{"event_type"}),
		ImportMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_messages_total",
			Help:      "Total number of import notifications consumed",
		}, []string{"outcome"}),
		CounterDrift: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_drift_corrected_total",
			Help:      "Total number of review counters corrected by reconciliation",
		}),
	}
}

// RecordScreening records a reviewer screening operation.
func (m *Metrics) RecordScreening(stage, operation, decision string) {
	if m == nil {
		return
	}
	m.ScreeningsRecorded.WithLabelValues(stage, operation, decision).Inc()
}

// RecordStatusTransition records a consensus status change.
func (m *Metrics) RecordStatusTransition(stage, from, to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(stage, from, to).Inc()
}

// RecordCascade records a dependent record creation or removal.
func (m *Metrics) RecordCascade(kind string) {
	if m == nil {
		return
	}
	m.CascadesApplied.WithLabelValues(kind).Inc()
}

// RecordInvariantViolation records an aborted transition.
func (m *Metrics) RecordInvariantViolation(op string) {
	if m == nil {
		return
	}
	m.InvariantViolations.WithLabelValues(op).Inc()
}

// RecordJobEnqueued records a background job enqueue.
func (m *Metrics) RecordJobEnqueued(job, trigger string) {
	if m == nil {
		return
	}
	m.JobsEnqueued.WithLabelValues(job, trigger).Inc()
}

// RecordDedupeCompleted records a completed dedupe run.
func (m *Metrics) RecordDedupeCompleted(durationSeconds float64, clusters, duplicates int) {
	if m == nil {
		return
	}
	m.DedupeRuns.WithLabelValues("completed").Inc()
	m.DedupeDuration.Observe(durationSeconds)
	m.DedupeClusters.Add(float64(clusters))
	m.DedupeDuplicates.Add(float64(duplicates))
}

// RecordDedupeSkipped records a dedupe run short-circuited by the freshness guard.
func (m *Metrics) RecordDedupeSkipped() {
	if m == nil {
		return
	}
	m.DedupeRuns.WithLabelValues("skipped").Inc()
}

// RecordDedupeFailed records a failed dedupe run.
func (m *Metrics) RecordDedupeFailed() {
	if m == nil {
		return
	}
	m.DedupeRuns.WithLabelValues("failed").Inc()
}

// RecordRanking records which source ordered a ranked queue.
func (m *Metrics) RecordRanking(source string) {
	if m == nil {
		return
	}
	m.RankingRequests.WithLabelValues(source).Inc()
}

// RecordTrainingRun records a keyterm suggestion or classifier training outcome.
func (m *Metrics) RecordTrainingRun(job, outcome string) {
	if m == nil {
		return
	}
	m.TrainingRuns.WithLabelValues(job, outcome).Inc()
}

// RecordLockWait records the time a job waited for its lock.
func (m *Metrics) RecordLockWait(job string, seconds float64) {
	if m == nil {
		return
	}
	m.LockWaitDuration.WithLabelValues(job).Observe(seconds)
}

// RecordLockFailure records a failed lock acquisition.
func (m *Metrics) RecordLockFailure(job string) {
	if m == nil {
		return
	}
	m.LockAcquireFailures.WithLabelValues(job).Inc()
}

// RecordOutboxRelayed records a delivered outbox event.
func (m *Metrics) RecordOutboxRelayed(eventType string) {
	if m == nil {
		return
	}
	m.OutboxRelayed.WithLabelValues(eventType).Inc()
}

// RecordOutboxFailed records a failed outbox delivery.
func (m *Metrics) RecordOutboxFailed(eventType string) {
	if m == nil {
		return
	}
	m.OutboxFailed.WithLabelValues(eventType).Inc()
}

// RecordImportMessage records a consumed import notification.
func (m *Metrics) RecordImportMessage(outcome string) {
	if m == nil {
		return
	}
	m.ImportMessages.WithLabelValues(outcome).Inc()
}

// RecordCounterDrift records corrected review counters.
func (m *Metrics) RecordCounterDrift(count int) {
	if m == nil {
		return
	}
	m.CounterDrift.Add(float64(count))
}
