package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements creditledger.Metrics using Prometheus.
type Metrics struct {
	checksTotal        *prometheus.CounterVec
	spendsTotal        *prometheus.CounterVec
	spendCost          *prometheus.HistogramVec
	compensationsTotal *prometheus.CounterVec
	windowResetsTotal  *prometheus.CounterVec
	storageOpsDuration *prometheus.HistogramVec
	storageOpsErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		checksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_checks_total",
			Help:      "Total number of quota check decisions.",
		}, []string{"operation", "allowed", "reason"}),

		spendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_spends_total",
			Help:      "Total number of credit spend attempts.",
		}, []string{"operation", "success"}),

		spendCost: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credit_spend_cost",
			Help:      "Distribution of credit costs per spend.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
		}, []string{"operation"}),

		compensationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_compensations_total",
			Help:      "Total number of over-draw rollbacks.",
		}, []string{"operation", "success"}),

		windowResetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_window_resets_total",
			Help:      "Total number of usage window resets.",
		}, []string{"window"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),
	}
}

// RecordCheck implements creditledger.Metrics.
func (m *Metrics) RecordCheck(operation string, allowed bool, reason string) {
	m.checksTotal.WithLabelValues(operation, strconv.FormatBool(allowed), reason).Inc()
}

// RecordSpend implements creditledger.Metrics.
func (m *Metrics) RecordSpend(operation string, cost int, success bool) {
	m.spendsTotal.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
	if success {
		m.spendCost.WithLabelValues(operation).Observe(float64(cost))
	}
}

// RecordCompensation implements creditledger.Metrics.
func (m *Metrics) RecordCompensation(operation string, success bool) {
	m.compensationsTotal.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
}

// RecordWindowReset implements creditledger.Metrics.
func (m *Metrics) RecordWindowReset(window string) {
	m.windowResetsTotal.WithLabelValues(window).Inc()
}

// RecordStorageOperation implements creditledger.Metrics.
func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}
