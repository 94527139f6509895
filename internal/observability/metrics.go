package observability

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// Metrics holds the Prometheus collectors of one process. Each instance owns
// its registry so tests can build as many as they like.
type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	syncOutcomes  *prometheus.CounterVec
	connectivity  *prometheus.GaugeVec
	tickets       *prometheus.GaugeVec
	meanMinutes   prometheus.Gauge
	satisfaction  prometheus.Gauge
	resolvedRatio prometheus.Gauge
}

// NewMetrics registers collectors under the given namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "HTTP error responses by route, method and error code.",
		}, []string{"path", "method", "code"}),
		syncOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_outcomes_total",
			Help:      "Ticket operations by kind and sync outcome.",
		}, []string{"op", "outcome"}),
		connectivity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connectivity_mode",
			Help:      "1 for the current backend mode, 0 otherwise.",
		}, []string{"mode"}),
		tickets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tickets",
			Help:      "Tickets by status and priority.",
		}, []string{"status", "priority"}),
		meanMinutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mean_resolution_minutes",
			Help:      "Mean recorded time spent on finished tickets.",
		}),
		satisfaction: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mean_satisfaction",
			Help:      "Mean requester satisfaction score.",
		}),
		resolvedRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resolution_rate_percent",
			Help:      "Share of tickets that are resolved or closed.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.duration, m.errors, m.syncOutcomes, m.connectivity,
		m.tickets, m.meanMinutes, m.satisfaction, m.resolvedRatio,
	)
	return m
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// ObserveSync counts one sync engine outcome.
func (m *Metrics) ObserveSync(op, outcome string) {
	if m == nil {
		return
	}
	m.syncOutcomes.WithLabelValues(op, outcome).Inc()
}

// SetConnectivity marks mode as the current one.
func (m *Metrics) SetConnectivity(mode domain.ConnectivityMode) {
	if m == nil {
		return
	}
	for _, candidate := range []domain.ConnectivityMode{domain.ModeConnecting, domain.ModeRemote, domain.ModeLocalFallback} {
		value := 0.0
		if candidate == mode {
			value = 1
		}
		m.connectivity.WithLabelValues(string(candidate)).Set(value)
	}
}

// SetTickets replaces the ticket gauges with the given collection and metrics.
func (m *Metrics) SetTickets(tickets []domain.Ticket, summary domain.Metrics) {
	if m == nil {
		return
	}
	m.tickets.Reset()
	for _, t := range tickets {
		m.tickets.WithLabelValues(string(t.Status), string(t.Priority)).Inc()
	}
	m.meanMinutes.Set(summary.MeanResolutionMinutes)
	m.satisfaction.Set(summary.MeanSatisfaction)
	m.resolvedRatio.Set(summary.ResolutionRate)
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
