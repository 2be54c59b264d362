package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "revshare_"

// Record outcomes.
const (
	OutcomeInserted   = "inserted"
	OutcomeDuplicate  = "duplicate"
	OutcomeTransition = "transition"
	OutcomeConflict   = "conflict"
	OutcomeInvalid    = "invalid"
)

// Batch results.
const (
	BatchCommitted  = "committed"
	BatchSkipped    = "skipped"
	BatchRolledBack = "rolled_back"
)

// Metrics bundles reconciliation, source and payout metrics. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	RecordsTotal   *prometheus.CounterVec
	BatchesTotal   *prometheus.CounterVec
	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	ErrorRate      prometheus.Gauge
	SourceRequests *prometheus.CounterVec
	SourceLatency  prometheus.Histogram
	PayoutsTotal   *prometheus.CounterVec
}

// New constructs the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_records_total",
				Help: "Total source records processed by outcome",
			},
			[]string{"outcome"},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_batches_total",
				Help: "Total reconciliation batches by result",
			},
			[]string{"result"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_runs_total",
				Help: "Total reconciliation runs by final state",
			},
			[]string{"state"},
		),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "reconcile_run_duration_seconds",
			Help:    "Reconciliation run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
		ErrorRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "reconcile_error_rate",
			Help: "Cumulative invalid-record rate of the current run",
		}),
		SourceRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "source_requests_total",
				Help: "Total legacy source page requests by result",
			},
			[]string{"result"},
		),
		SourceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "source_request_duration_seconds",
			Help:    "Legacy source page request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		PayoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "payouts_total",
				Help: "Total payout transitions by resulting state",
			},
			[]string{"state"},
		),
	}
	reg.MustRegister(
		m.RecordsTotal,
		m.BatchesTotal,
		m.RunsTotal,
		m.RunDuration,
		m.ErrorRate,
		m.SourceRequests,
		m.SourceLatency,
		m.PayoutsTotal,
	)
	return m
}

func (m *Metrics) ObserveRecords(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsTotal.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) ObserveBatch(result string) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRun(state string, started time.Time) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(state).Inc()
	m.RunDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) SetErrorRate(rate float64) {
	if m == nil {
		return
	}
	m.ErrorRate.Set(rate)
}

func (m *Metrics) ObserveSourceRequest(result string, started time.Time) {
	if m == nil {
		return
	}
	m.SourceRequests.WithLabelValues(result).Inc()
	m.SourceLatency.Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObservePayout(state string) {
	if m == nil {
		return
	}
	m.PayoutsTotal.WithLabelValues(state).Inc()
}
