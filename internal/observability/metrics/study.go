package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StudyMetrics contains Prometheus metrics for the session engine.
// A nil *StudyMetrics is valid and records nothing.
type StudyMetrics struct {
	registry *prometheus.Registry

	sessionsCreatedTotal    prometheus.Counter
	sessionsCompletedTotal  prometheus.Counter
	sessionEntriesTotal     *prometheus.CounterVec
	caseOrdersTotal         *prometheus.CounterVec
	resultSubmissionsTotal  *prometheus.CounterVec
	advanceDuration         prometheus.Histogram
	aiAccessChecksTotal     *prometheus.CounterVec
	adminOperationsTotal    *prometheus.CounterVec
	auditWriteFailuresTotal prometheus.Counter

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewStudyMetrics creates and registers new study metrics
func NewStudyMetrics(registry *prometheus.Registry) (*StudyMetrics, error) {
	m := &StudyMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *StudyMetrics) initMetrics() {
	m.sessionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "study_sessions_created_total",
		Help: "Total number of study sessions created",
	})

	m.sessionsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "study_sessions_completed_total",
		Help: "Total number of study sessions that reached completion",
	})

	m.sessionEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_session_entries_total",
			Help: "Total number of session entries",
		},
		[]string{"kind"}, // new, resume, complete
	)

	m.caseOrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_case_orders_total",
			Help: "Case order generation attempts by outcome",
		},
		[]string{"outcome"}, // generated, lost_race
	)

	m.resultSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_result_submissions_total",
			Help: "Result submissions by outcome",
		},
		[]string{"outcome"},
	)

	m.advanceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "study_advance_duration_seconds",
		Help:    "Time taken by the submit-and-advance transaction",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
	})

	m.aiAccessChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_ai_access_checks_total",
			Help: "AI resource access decisions",
		},
		[]string{"permitted"},
	)

	m.adminOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_admin_operations_total",
			Help: "Administrative session operations",
		},
		[]string{"operation"}, // assign, reset, delete
	)

	m.auditWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "study_audit_write_failures_total",
		Help: "Audit entries that could not be persisted",
	})

	m.collectors = []prometheus.Collector{
		m.sessionsCreatedTotal,
		m.sessionsCompletedTotal,
		m.sessionEntriesTotal,
		m.caseOrdersTotal,
		m.resultSubmissionsTotal,
		m.advanceDuration,
		m.aiAccessChecksTotal,
		m.adminOperationsTotal,
		m.auditWriteFailuresTotal,
	}
}

// Describe implements the Collector interface
func (m *StudyMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *StudyMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordSessionCreated counts a newly created session.
func (m *StudyMetrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreatedTotal.Inc()
}

// RecordSessionCompleted counts a session reaching completion.
func (m *StudyMetrics) RecordSessionCompleted() {
	if m == nil {
		return
	}
	m.sessionsCompletedTotal.Inc()
}

// RecordEntry counts a session entry of the given kind.
func (m *StudyMetrics) RecordEntry(kind string) {
	if m == nil {
		return
	}
	m.sessionEntriesTotal.WithLabelValues(kind).Inc()
}

// RecordCaseOrders counts a case order generation attempt.
func (m *StudyMetrics) RecordCaseOrders(won bool) {
	if m == nil {
		return
	}
	outcome := "generated"
	if !won {
		outcome = "lost_race"
	}
	m.caseOrdersTotal.WithLabelValues(outcome).Inc()
}

// RecordSubmission counts a result submission outcome.
func (m *StudyMetrics) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.resultSubmissionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAdvance records the duration of an advance transaction.
func (m *StudyMetrics) ObserveAdvance(d time.Duration) {
	if m == nil {
		return
	}
	m.advanceDuration.Observe(d.Seconds())
}

// RecordAIAccess counts an access gate decision.
func (m *StudyMetrics) RecordAIAccess(permitted bool) {
	if m == nil {
		return
	}
	m.aiAccessChecksTotal.WithLabelValues(strconv.FormatBool(permitted)).Inc()
}

// RecordAdminOperation counts an administrative session operation.
func (m *StudyMetrics) RecordAdminOperation(operation string) {
	if m == nil {
		return
	}
	m.adminOperationsTotal.WithLabelValues(operation).Inc()
}

// RecordAuditFailure counts an audit entry that failed to persist.
func (m *StudyMetrics) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.auditWriteFailuresTotal.Inc()
}
