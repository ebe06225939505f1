package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notification_engine"

// Metrics stores Prometheus collectors used by the API, the dispatch engine
// and the background workers.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	dispatchOutcomesTotal  *prometheus.CounterVec
	transportDuration      *prometheus.HistogramVec
	transportFailuresTotal *prometheus.CounterVec
	dispatchInflight       *prometheus.GaugeVec
	retriesScheduledTotal  *prometheus.CounterVec
	retriesExhaustedTotal  *prometheus.CounterVec
	retriesDrainedTotal    prometheus.Counter
	retriesReleasedTotal   prometheus.Counter
	retriesRecoveredTotal  prometheus.Counter
	staleSendingTotal      prometheus.Counter
	breakerState           *prometheus.GaugeVec
	eventsProcessedTotal   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		dispatchOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_outcomes_total",
				Help:      "Dispatch attempts grouped by channel and outcome kind.",
			},
			[]string{"channel", "outcome"},
		),
		transportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transport_duration_seconds",
				Help:      "Channel transport call duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		transportFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_failures_total",
				Help:      "Failed channel transport calls grouped by channel and failure kind.",
			},
			[]string{"channel", "kind"},
		),
		dispatchInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dispatch_inflight",
				Help:      "Transport calls currently in flight grouped by channel.",
			},
			[]string{"channel"},
		),
		retriesScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_scheduled_total",
				Help:      "Retry tasks created or rescheduled after a transport failure.",
			},
			[]string{"channel"},
		),
		retriesExhaustedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_exhausted_total",
				Help:      "Notifications that ended with an exhausted retry budget.",
			},
			[]string{"channel"},
		),
		retriesDrainedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_drained_total",
				Help:      "Due retry tasks claimed by the scheduler.",
			},
		),
		retriesReleasedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_released_total",
				Help:      "Claimed retry tasks returned to pending after a processing error.",
			},
		),
		retriesRecoveredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_recovered_total",
				Help:      "Stale in-flight retry tasks recovered on scheduler start.",
			},
		),
		staleSendingTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_sending_recovered_total",
				Help:      "Notifications left in SENDING without a retry task and moved back to the retry path.",
			},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Channel circuit breaker state (0 closed, 1 half-open, 2 open).",
			},
			[]string{"channel"},
		),
		eventsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_processed_total",
				Help:      "Activity events evaluated against rules grouped by source and result.",
			},
			[]string{"source", "result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.dispatchOutcomesTotal,
		m.transportDuration,
		m.transportFailuresTotal,
		m.dispatchInflight,
		m.retriesScheduledTotal,
		m.retriesExhaustedTotal,
		m.retriesDrainedTotal,
		m.retriesReleasedTotal,
		m.retriesRecoveredTotal,
		m.staleSendingTotal,
		m.breakerState,
		m.eventsProcessedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncDispatchOutcome(channel string, outcome string) {
	if m == nil {
		return
	}
	m.dispatchOutcomesTotal.WithLabelValues(normalizeChannel(channel), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveTransportDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.transportDuration.WithLabelValues(normalizeChannel(channel)).Observe(seconds)
}

func (m *Metrics) IncTransportFailure(channel string, kind string) {
	if m == nil {
		return
	}
	m.transportFailuresTotal.WithLabelValues(normalizeChannel(channel), normalizeLabel(kind)).Inc()
}

func (m *Metrics) IncDispatchInFlight(channel string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) DecDispatchInFlight(channel string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeChannel(channel)).Dec()
}

func (m *Metrics) IncRetryScheduled(channel string) {
	if m == nil {
		return
	}
	m.retriesScheduledTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncRetryExhausted(channel string) {
	if m == nil {
		return
	}
	m.retriesExhaustedTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) AddRetriesDrained(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.retriesDrainedTotal.Add(float64(n))
}

func (m *Metrics) IncRetryReleased() {
	if m == nil {
		return
	}
	m.retriesReleasedTotal.Inc()
}

func (m *Metrics) AddRetriesRecovered(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.retriesRecoveredTotal.Add(float64(n))
}

func (m *Metrics) AddStaleSendingRecovered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.staleSendingTotal.Add(float64(n))
}

// SetBreakerState records a breaker state as reported by gobreaker.State.
func (m *Metrics) SetBreakerState(channel string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(normalizeChannel(channel)).Set(float64(state))
}

func (m *Metrics) IncEventProcessed(source string, result string) {
	if m == nil {
		return
	}
	m.eventsProcessedTotal.WithLabelValues(normalizeLabel(source), normalizeLabel(result)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeChannel(channel string) string {
	return normalizeLabel(channel)
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
