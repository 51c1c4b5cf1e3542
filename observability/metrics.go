/*
metrics.go - Prometheus instrumentation

PURPOSE:
  Counts and times every stock operation run through stock.Runner,
  counts optimistic-lock retries, and counts notification deliveries per
  sink. Exposed on /metrics by the api package.

METRICS:
  vaccine_stock_operations_total{operation,outcome}
  vaccine_stock_operation_duration_seconds{operation}
  vaccine_stock_retries_total{operation}
  vaccine_stock_notifications_total{sink,event,status}
  vaccine_stock_expiry_sweeps_total{status}
  vaccine_stock_lots_expired_total

SEE ALSO:
  - stock/tx.go: Observer interface
  - notify/notify.go: DeliveryObserver interface
*/
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vaccine_stock"

type Metrics struct {
	operations    *prometheus.CounterVec
	operationTime *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
	lotsExpired   prometheus.Counter
}

// NewMetrics registers all collectors on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Stock operations by outcome (ok, conflict, rejected, error).",
		}, []string{"operation", "outcome"}),
		operationTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall time of stock operations including retries.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Transactions retried after losing a version check.",
		}, []string{"operation"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries per sink.",
		}, []string{"sink", "event", "status"}),
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_sweeps_total",
			Help:      "Expiry sweeper runs.",
		}, []string{"status"}),
		lotsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lots_expired_total",
			Help:      "Lots flipped to EXPIRED by the sweeper.",
		}),
	}
}

func (m *Metrics) ObserveOperation(operation, outcome string, took time.Duration) {
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationTime.WithLabelValues(operation).Observe(took.Seconds())
}

func (m *Metrics) ObserveRetry(operation string) {
	m.retries.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveNotification(sink, eventType string, err error) {
	status := "delivered"
	if err != nil {
		status = "failed"
	}
	m.notifications.WithLabelValues(sink, eventType, status).Inc()
}

// ObserveSweep records one sweeper run and the lots it expired.
func (m *Metrics) ObserveSweep(expired int, err error) {
	if err != nil {
		m.sweeps.WithLabelValues("failed").Inc()
		return
	}
	m.sweeps.WithLabelValues("ok").Inc()
	m.lotsExpired.Add(float64(expired))
}
