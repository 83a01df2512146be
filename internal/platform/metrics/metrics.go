package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the webhook engine collectors. A nil *Metrics is valid and
// records nothing, which keeps engine tests free of registry setup.
type Metrics struct {
	EventsEmittedTotal       prometheus.Counter
	DeliveriesTotal          *prometheus.CounterVec
	DeliveryAttemptDuration  prometheus.Histogram
	VerificationsTotal       *prometheus.CounterVec
	SchedulerClaimedTotal    prometheus.Counter
	RetentionPurgedLogsTotal prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsEmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hookline_events_emitted_total",
			Help: "Total number of events accepted for delivery",
		}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookline_delivery_attempts_total",
			Help: "Delivery attempts by resulting log status",
		}, []string{"status"}),
		DeliveryAttemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hookline_delivery_attempt_duration_seconds",
			Help:    "Duration of outbound delivery attempts",
			Buckets: prometheus.DefBuckets,
		}),
		VerificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookline_verifications_total",
			Help: "Endpoint verification handshakes by result",
		}, []string{"result"}),
		SchedulerClaimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hookline_scheduler_claimed_total",
			Help: "Delivery logs claimed by the retry scheduler",
		}),
		RetentionPurgedLogsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hookline_retention_purged_logs_total",
			Help: "Terminal delivery logs removed by the retention janitor",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EventsEmittedTotal,
			m.DeliveriesTotal,
			m.DeliveryAttemptDuration,
			m.VerificationsTotal,
			m.SchedulerClaimedTotal,
			m.RetentionPurgedLogsTotal,
		)
	}
	return m
}

func (m *Metrics) EventEmitted() {
	if m == nil {
		return
	}
	m.EventsEmittedTotal.Inc()
}

func (m *Metrics) ObserveAttempt(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(status).Inc()
	m.DeliveryAttemptDuration.Observe(d.Seconds())
}

func (m *Metrics) Cancelled() {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues("cancelled").Inc()
}

func (m *Metrics) Verification(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "verified"
	}
	m.VerificationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Claimed(n int) {
	if m == nil {
		return
	}
	m.SchedulerClaimedTotal.Add(float64(n))
}

func (m *Metrics) Purged(n int64) {
	if m == nil {
		return
	}
	m.RetentionPurgedLogsTotal.Add(float64(n))
}
