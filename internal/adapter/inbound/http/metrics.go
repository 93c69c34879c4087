package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the records assistant.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TurnsTotal      *prometheus.CounterVec
	TurnRounds      prometheus.Histogram
	ToolCallsTotal  *prometheus.CounterVec
	AuditDropsTotal prometheus.CounterFunc
}

// NewMetrics creates and registers all metrics with the given registry.
// auditDrops supplies the running drop counter of the audit worker; pass
// nil when no audit service is wired.
func NewMetrics(reg prometheus.Registerer, auditDrops func() int64) *Metrics {
	m := &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chalkline",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "chalkline",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		TurnsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chalkline",
				Name:      "turns_total",
				Help:      "Total agent turns by caller role and outcome",
			},
			[]string{"role", "status"}, // status=ok/truncated/error
		),
		TurnRounds: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "chalkline",
				Name:      "turn_rounds",
				Help:      "Reasoning rounds per turn",
				Buckets:   []float64{1, 2, 3, 4, 6, 8, 12},
			},
		),
		ToolCallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chalkline",
				Name:      "tool_calls_total",
				Help:      "Total dispatched tool calls by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
	}
	if auditDrops != nil {
		m.AuditDropsTotal = promauto.With(reg).NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: "chalkline",
				Name:      "audit_drops_total",
				Help:      "Total decision records dropped due to backpressure",
			},
			func() float64 { return float64(auditDrops()) },
		)
	}
	return m
}
