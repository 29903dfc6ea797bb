package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-qalab/infrastructure/llm"
	"github.com/ahrav/go-qalab/internal/ports"
)

// Metric names recorded by the run executor.
const (
	MetricRunsTotal   = "runs_total"
	MetricRunDuration = "run_duration_seconds"
)

const metricsNamespace = "qalab"

// PrometheusMetrics implements ports.MetricsCollector with Prometheus
// vectors. Known metric names map onto dedicated vectors; anything else
// falls through to generic operation counters, gauges and histograms.
type PrometheusMetrics struct {
	stageDuration   *prometheus.HistogramVec
	stageTokens     *prometheus.CounterVec
	budgetRemaining *prometheus.GaugeVec
	budgetExhausted *prometheus.CounterVec

	llmLatency  *prometheus.HistogramVec
	llmRequests *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	operations *prometheus.CounterVec
	gauges     *prometheus.GaugeVec
	histograms *prometheus.HistogramVec
}

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics registers every vector with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent of the global registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	f := promauto.With(reg)
	return &PrometheusMetrics{
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      MetricStageDuration,
			Help:      "Wall time of each pipeline stage.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage", "status"}),
		stageTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      MetricStageTokens,
			Help:      "Tokens charged to the run ledger, by stage.",
		}, []string{"stage"}),
		budgetRemaining: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      MetricBudgetRemaining,
			Help:      "Tokens left in the most recent run's budget after each stage.",
		}, []string{"stage"}),
		budgetExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      MetricBudgetExhausted,
			Help:      "Stages during which a run's budget ran out.",
		}, []string{"stage"}),

		llmLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      llm.MetricLLMLatency,
			Help:      "Model request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "model", "status"}),
		llmRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      llm.MetricLLMRequests,
			Help:      "Model requests by outcome.",
		}, []string{"provider", "model", "status"}),
		llmTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      llm.MetricLLMTokens,
			Help:      "Tokens reported by providers.",
		}, []string{"provider", "model", "token_type"}),

		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      MetricRunsTotal,
			Help:      "Finalized runs by status and result.",
		}, []string{"status", "result"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      MetricRunDuration,
			Help:      "Wall time from pickup to the terminal write.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"status"}),

		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Counters without a dedicated vector.",
		}, []string{"operation"}),
		gauges: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "state",
			Help:      "Gauges without a dedicated vector.",
		}, []string{"metric"}),
		histograms: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "observations",
			Help:      "Histograms without a dedicated vector.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"metric"}),
	}
}

// RecordLatency records duration in seconds.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	pm.RecordHistogram(operation, duration.Seconds(), labels)
}

// RecordCounter adds value to the counter named metric.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case MetricStageTokens:
		pm.stageTokens.WithLabelValues(label(labels, "stage")).Add(value)
	case MetricBudgetExhausted:
		pm.budgetExhausted.WithLabelValues(label(labels, "stage")).Add(value)
	case llm.MetricLLMRequests:
		pm.llmRequests.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "status")).Add(value)
	case llm.MetricLLMTokens:
		pm.llmTokens.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "token_type")).Add(value)
	case MetricRunsTotal:
		pm.runs.WithLabelValues(label(labels, "status"), label(labels, "result")).Add(value)
	default:
		pm.operations.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge sets the gauge named metric.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	switch metric {
	case MetricBudgetRemaining:
		pm.budgetRemaining.WithLabelValues(label(labels, "stage")).Set(value)
	default:
		pm.gauges.WithLabelValues(metric).Set(value)
	}
}

// RecordHistogram observes value in the histogram named metric.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case MetricStageDuration:
		pm.stageDuration.WithLabelValues(label(labels, "stage"), label(labels, "status")).Observe(value)
	case llm.MetricLLMLatency:
		pm.llmLatency.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "status")).Observe(value)
	case MetricRunDuration:
		pm.runDuration.WithLabelValues(label(labels, "status")).Observe(value)
	default:
		pm.histograms.WithLabelValues(metric).Observe(value)
	}
}

// label returns labels[key], or "unknown" when it is missing or empty.
func label(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return "unknown"
}
