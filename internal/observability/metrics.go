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

const namespace = "company_communicator"

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	sendsTotal              *prometheus.CounterVec
	sendDuration            prometheus.Histogram
	recipientsResolvedTotal *prometheus.CounterVec
	throttleRequeuesTotal   prometheus.Counter
	redeliveriesTotal       prometheus.Counter
	deadLettersTotal        prometheus.Counter
	notificationsCompleted  *prometheus.CounterVec
	workerInflight          prometheus.Gauge
	expiryEditsTotal        *prometheus.CounterVec
	notificationsErased     prometheus.Counter
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
		sendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "channel_sends_total",
				Help:      "Total number of channel send calls by final result type.",
			},
			[]string{"result"},
		),
		sendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "channel_send_duration_seconds",
				Help:      "Channel send duration in seconds, including connector-side retries.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		recipientsResolvedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recipients_resolved_total",
				Help:      "Total number of recipients that reached a terminal status, by outcome.",
			},
			[]string{"outcome"},
		),
		throttleRequeuesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "throttle_requeues_total",
				Help:      "Total number of dispatch jobs parked on the delay queue because the channel was throttled.",
			},
		),
		redeliveriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redeliveries_total",
				Help:      "Total number of dispatch jobs handed back to the broker for redelivery.",
			},
		),
		deadLettersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dead_letters_total",
				Help:      "Total number of dispatch jobs rejected to the dead-letter queue.",
			},
		),
		notificationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_completed_total",
				Help:      "Total number of notifications that reached a final status.",
			},
			[]string{"status"},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_inflight",
				Help:      "Current number of dispatch jobs being processed.",
			},
		),
		expiryEditsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expiry_edits_total",
				Help:      "Total number of in-place edits of expired deliveries, by outcome.",
			},
			[]string{"outcome"},
		),
		notificationsErased: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_erased_total",
				Help:      "Total number of notifications whose content was erased after expiry.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.sendsTotal,
		m.sendDuration,
		m.recipientsResolvedTotal,
		m.throttleRequeuesTotal,
		m.redeliveriesTotal,
		m.deadLettersTotal,
		m.notificationsCompleted,
		m.workerInflight,
		m.expiryEditsTotal,
		m.notificationsErased,
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
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) ObserveSend(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sendsTotal.WithLabelValues(normalizeLabel(result)).Inc()

	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sendDuration.Observe(seconds)
}

// IncRecipientResolved counts a recipient reaching a terminal status; outcome is "succeeded" or "failed".
func (m *Metrics) IncRecipientResolved(outcome string) {
	if m == nil {
		return
	}
	m.recipientsResolvedTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncThrottleRequeue() {
	if m == nil {
		return
	}
	m.throttleRequeuesTotal.Inc()
}

func (m *Metrics) IncRedelivery() {
	if m == nil {
		return
	}
	m.redeliveriesTotal.Inc()
}

func (m *Metrics) IncDeadLetter() {
	if m == nil {
		return
	}
	m.deadLettersTotal.Inc()
}

func (m *Metrics) IncNotificationCompleted(status string) {
	if m == nil {
		return
	}
	m.notificationsCompleted.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) IncExpiryEdit(outcome string) {
	if m == nil {
		return
	}
	m.expiryEditsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncNotificationErased() {
	if m == nil {
		return
	}
	m.notificationsErased.Inc()
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

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
