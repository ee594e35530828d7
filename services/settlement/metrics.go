package settlement

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts settlement outcomes and times submissions. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	submissions *prometheus.CounterVec
	duration    prometheus.Histogram
	sweeps      prometheus.Counter
	recovered   prometheus.Counter
}

// NewMetrics registers the settlement collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "submissions_total",
			Help:      "Ledger submissions by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "settlement",
			Name:      "submission_duration_seconds",
			Help:      "Time from signing to confirmation verdict.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "sweeps_total",
			Help:      "Reconciliation sweep runs.",
		}),
		recovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "sweep_recovered_total",
			Help:      "Outbox rows re-driven to a terminal state by the sweep.",
		}),
	}
	reg.MustRegister(m.submissions, m.duration, m.sweeps, m.recovered)
	return m
}

// ObserveSubmission records one submission verdict.
func (m *Metrics) ObserveSubmission(outcome Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(string(outcome)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// ObserveSweep records one reconciliation run and how many rows it moved.
func (m *Metrics) ObserveSweep(recovered int) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.recovered.Add(float64(recovered))
}
