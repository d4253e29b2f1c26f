package monitoring

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/voket/relay"
)

// Metrics exposes dispatch and budget metrics through a dedicated Prometheus
// registry.
type Metrics struct {
	registry *prometheus.Registry
	logger   *zap.SugaredLogger

	callsTotal    *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	budgetUsed    *prometheus.GaugeVec
	cooldownState *prometheus.GaugeVec
	patternSize   prometheus.Gauge
}

func NewMetrics(namespace string, logger *zap.SugaredLogger) (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}

	m.callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total dispatched calls by provider, task class, and outcome",
		},
		[]string{"provider", "task_class", "outcome"},
	)

	m.callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Invoke duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "task_class"},
	)

	m.budgetUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_used",
			Help:      "Cost units used in the current period",
		},
		[]string{"provider", "period"},
	)

	m.cooldownState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cooldown_state",
			Help:      "Provider health state (0 available, 1 cooldown, 2 quarantined)",
		},
		[]string{"provider"},
	)

	m.patternSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pattern_entries",
			Help:      "Total entries held by the pattern store",
		},
	)

	for _, collector := range []prometheus.Collector{
		m.callsTotal, m.callDuration, m.budgetUsed, m.cooldownState, m.patternSize,
	} {
		if err := m.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register collector: %v", err)
		}
	}

	return m, nil
}

// RecordCall counts one terminal call outcome and its invoke duration.
func (m *Metrics) RecordCall(provider string, taskClass string, outcome relay.Outcome, duration time.Duration) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(provider, taskClass, outcome.String()).Inc()
	m.callDuration.WithLabelValues(provider, taskClass).Observe(duration.Seconds())
}

// SetBudgetUsage publishes the current usage of one provider period window.
func (m *Metrics) SetBudgetUsage(provider string, period relay.PeriodKind, used int64) {
	if m == nil {
		return
	}
	m.budgetUsed.WithLabelValues(provider, string(period)).Set(float64(used))
}

// SetCooldownState publishes a provider's health state.
func (m *Metrics) SetCooldownState(provider string, state int) {
	if m == nil {
		return
	}
	m.cooldownState.WithLabelValues(provider).Set(float64(state))
}

// SetPatternEntries publishes the pattern store's total entry count.
func (m *Metrics) SetPatternEntries(count int) {
	if m == nil {
		return
	}
	m.patternSize.Set(float64(count))
}

// Handler serves the metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
