package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "antifraud"

type MetricsCollector struct {
	registry            *prometheus.Registry
	evaluations         *prometheus.CounterVec
	evaluationsFailed   prometheus.Counter
	evaluationDuration  prometheus.Histogram
	alertsQueued        prometheus.Counter
	alertsDropped       prometheus.Counter
	alertDeliveryErrors prometheus.Counter
	logger              *slog.Logger
}

func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &MetricsCollector{
		registry: registry,
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Evaluated transactions by matching rule and outcome",
		}, []string{"rule", "suspicious"}),
		evaluationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_failed_total",
			Help:      "Evaluations aborted by a history store failure",
		}),
		evaluationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Time taken to evaluate and record a transaction",
			Buckets:   prometheus.DefBuckets,
		}),
		alertsQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_queued_total",
			Help:      "Fraud alerts accepted by the alert queue",
		}),
		alertsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dropped_total",
			Help:      "Fraud alerts dropped because the request context ended first",
		}),
		alertDeliveryErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_delivery_errors_total",
			Help:      "Fraud alerts the notifier failed to deliver",
		}),
		logger: logger,
	}
}

func (m *MetricsCollector) RecordEvaluation(duration time.Duration, rule string, suspicious bool, err error) {
	m.evaluationDuration.Observe(duration.Seconds())
	if err != nil {
		m.evaluationsFailed.Inc()
		return
	}
	label := "false"
	if suspicious {
		label = "true"
	}
	m.evaluations.WithLabelValues(rule, label).Inc()
}

func (m *MetricsCollector) AlertQueued()        { m.alertsQueued.Inc() }
func (m *MetricsCollector) AlertDropped()       { m.alertsDropped.Inc() }
func (m *MetricsCollector) AlertDeliveryError() { m.alertDeliveryErrors.Inc() }

// Registry exposes the private registry so callers can add collectors
// served by GetHandler.
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsCollector) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.GetHandler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		m.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return server
}
