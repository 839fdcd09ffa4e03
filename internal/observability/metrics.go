package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "accountability_calls"

// Metrics stores Prometheus collectors used by the API, ticks and the ack worker.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	callsDispatchedTotal prometheus.Counter
	callsFailedTotal     *prometheus.CounterVec
	callsAcknowledged    prometheus.Counter
	retriesCreatedTotal  *prometheus.CounterVec
	retryCapReachedTotal prometheus.Counter
	sweepRowsTotal       *prometheus.CounterVec
	tickDuration         *prometheus.HistogramVec
	pushSendDuration     *prometheus.HistogramVec
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
		callsDispatchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_dispatched_total",
			Help:      "Original calls pushed and recorded.",
		}),
		callsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_failed_total",
				Help:      "Dispatch attempts that did not produce a call, by reason.",
			},
			[]string{"reason"},
		),
		callsAcknowledged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_acknowledged_total",
			Help:      "Calls acknowledged by the user.",
		}),
		retriesCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_created_total",
				Help:      "Retry attempts created, by urgency.",
			},
			[]string{"urgency"},
		),
		retryCapReachedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_cap_reached_total",
			Help:      "Retry chains stopped at the attempt cap.",
		}),
		sweepRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_rows_total",
				Help:      "Rows handled by the timeout sweep, by category and result.",
			},
			[]string{"category", "result"},
		),
		tickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_duration_seconds",
				Help:      "Duration of periodic jobs in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"job"},
		),
		pushSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "push_send_duration_seconds",
				Help:      "Push transport send duration in seconds, by outcome.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.callsDispatchedTotal,
		m.callsFailedTotal,
		m.callsAcknowledged,
		m.retriesCreatedTotal,
		m.retryCapReachedTotal,
		m.sweepRowsTotal,
		m.tickDuration,
		m.pushSendDuration,
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

func (m *Metrics) IncCallDispatched() {
	if m == nil {
		return
	}
	m.callsDispatchedTotal.Inc()
}

func (m *Metrics) IncCallFailed(reason string) {
	if m == nil {
		return
	}
	m.callsFailedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncCallAcknowledged() {
	if m == nil {
		return
	}
	m.callsAcknowledged.Inc()
}

func (m *Metrics) IncRetryCreated(urgency string) {
	if m == nil {
		return
	}
	m.retriesCreatedTotal.WithLabelValues(normalizeLabel(urgency)).Inc()
}

func (m *Metrics) IncRetryCapReached() {
	if m == nil {
		return
	}
	m.retryCapReachedTotal.Inc()
}

func (m *Metrics) IncSweepRow(category, result string) {
	if m == nil {
		return
	}
	m.sweepRowsTotal.WithLabelValues(normalizeLabel(category), normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveTick(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.WithLabelValues(normalizeLabel(job)).Observe(max(duration.Seconds(), 0))
}

// ObservePushSend satisfies push.SendObserver.
func (m *Metrics) ObservePushSend(duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.pushSendDuration.WithLabelValues(outcome).Observe(max(duration.Seconds(), 0))
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
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
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
