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

const namespace = "pushengine"

// Metrics holds the Prometheus collectors for the delivery workers and the
// ops server. Every recording method is a no-op on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	deliveriesSentTotal   *prometheus.CounterVec
	deliveriesFailedTotal *prometheus.CounterVec
	retryScheduledTotal   *prometheus.CounterVec
	entriesRearmedTotal   prometheus.Counter
	entriesPurgedTotal    *prometheus.CounterVec
	dispatchDuration      *prometheus.HistogramVec
	dispatchInflight      prometheus.Gauge
	tickDuration          *prometheus.HistogramVec
	tickErrorsTotal       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := factory{reg}

	return &Metrics{
		registry: reg,

		httpRequestsTotal: f.counterVec("http_requests_total",
			"Ops HTTP requests by method, route and status.", "method", "path", "status"),
		httpRequestDuration: f.histogramVec("http_request_duration_seconds",
			"Ops HTTP request latency.", prometheus.DefBuckets, "method", "path"),

		deliveriesSentTotal: f.counterVec("deliveries_sent_total",
			"Entries the gateway accepted.", "kind"),
		deliveriesFailedTotal: f.counterVec("deliveries_failed_total",
			"Entries marked failed after exhausting retries.", "kind"),
		retryScheduledTotal: f.counterVec("retry_scheduled_total",
			"Failed attempts with retry budget left.", "kind"),
		dispatchDuration: f.histogramVec("dispatch_duration_seconds",
			"Gateway call latency by kind.", prometheus.ExponentialBuckets(0.01, 2, 12), "kind"),
		dispatchInflight: f.gauge("dispatch_inflight",
			"Gateway calls in flight."),

		entriesRearmedTotal: f.counter("entries_rearmed_total",
			"Entries re-armed after their backoff elapsed."),
		entriesPurgedTotal: f.counterVec("entries_purged_total",
			"Terminal entries removed, by terminal state.", "state"),

		tickDuration: f.histogramVec("tick_duration_seconds",
			"Periodic worker tick latency.", prometheus.ExponentialBuckets(0.005, 2, 14), "worker"),
		tickErrorsTotal: f.counterVec("tick_errors_total",
			"Periodic worker ticks that failed.", "worker"),
	}
}

// factory creates namespaced collectors and registers them as it goes.
type factory struct {
	reg prometheus.Registerer
}

func (f factory) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	f.reg.MustRegister(c)
	return c
}

func (f factory) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	f.reg.MustRegister(c)
	return c
}

func (f factory) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	f.reg.MustRegister(g)
	return g
}

func (f factory) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
	f.reg.MustRegister(h)
	return h
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request count and latency per matched route. The
// scrape endpoint itself is not counted.
func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := "unmatched"
		if r := c.Route(); r != nil && strings.TrimSpace(r.Path) != "" {
			route = r.Path
		}
		if route == "/metrics" || m == nil {
			return err
		}

		method := strings.ToUpper(c.Method())
		m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(responseStatus(c, err))).Inc()
		m.httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return err
	}
}

func (m *Metrics) IncDeliverySent(kind string) {
	if m != nil {
		m.deliveriesSentTotal.WithLabelValues(label(kind)).Inc()
	}
}

func (m *Metrics) IncDeliveryFailed(kind string) {
	if m != nil {
		m.deliveriesFailedTotal.WithLabelValues(label(kind)).Inc()
	}
}

func (m *Metrics) IncRetryScheduled(kind string) {
	if m != nil {
		m.retryScheduledTotal.WithLabelValues(label(kind)).Inc()
	}
}

func (m *Metrics) AddEntriesRearmed(n int) {
	if m != nil && n > 0 {
		m.entriesRearmedTotal.Add(float64(n))
	}
}

func (m *Metrics) AddEntriesPurged(state string, n int64) {
	if m != nil && n > 0 {
		m.entriesPurgedTotal.WithLabelValues(label(state)).Add(float64(n))
	}
}

func (m *Metrics) ObserveDispatchDuration(kind string, d time.Duration) {
	if m != nil {
		m.dispatchDuration.WithLabelValues(label(kind)).Observe(seconds(d))
	}
}

func (m *Metrics) IncDispatchInFlight() {
	if m != nil {
		m.dispatchInflight.Inc()
	}
}

func (m *Metrics) DecDispatchInFlight() {
	if m != nil {
		m.dispatchInflight.Dec()
	}
}

func (m *Metrics) ObserveTick(worker string, d time.Duration, err error) {
	if m == nil {
		return
	}
	w := label(worker)
	m.tickDuration.WithLabelValues(w).Observe(seconds(d))
	if err != nil {
		m.tickErrorsTotal.WithLabelValues(w).Inc()
	}
}

func responseStatus(c *fiber.Ctx, err error) int {
	if err == nil {
		if status := c.Response().StatusCode(); status != 0 {
			return status
		}
		return fiber.StatusOK
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}

func label(v string) string {
	if v = strings.ToLower(strings.TrimSpace(v)); v == "" {
		return "unknown"
	}
	return v
}

func seconds(d time.Duration) float64 {
	return max(d.Seconds(), 0)
}
