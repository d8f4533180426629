package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsWorkerCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncDeliverySent("Call")
	metrics.IncDeliveryFailed("remote-wipe")
	metrics.IncRetryScheduled("message")
	metrics.IncRetryScheduled("message")
	metrics.AddEntriesRearmed(3)
	metrics.AddEntriesRearmed(0)
	metrics.AddEntriesPurged("sent", 5)
	metrics.ObserveDispatchDuration("call", 120*time.Millisecond)
	metrics.IncDispatchInFlight()
	metrics.DecDispatchInFlight()
	metrics.ObserveTick("janitor", 10*time.Millisecond, nil)
	metrics.ObserveTick("janitor", 10*time.Millisecond, errors.New("db down"))

	if got := testutil.ToFloat64(metrics.deliveriesSentTotal.WithLabelValues("call")); got != 1 {
		t.Fatalf("deliveries_sent_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.deliveriesFailedTotal.WithLabelValues("remote-wipe")); got != 1 {
		t.Fatalf("deliveries_failed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.retryScheduledTotal.WithLabelValues("message")); got != 2 {
		t.Fatalf("retry_scheduled_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.entriesRearmedTotal); got != 3 {
		t.Fatalf("entries_rearmed_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.entriesPurgedTotal.WithLabelValues("sent")); got != 5 {
		t.Fatalf("entries_purged_total = %v, want 5", got)
	}
	if got := testutil.ToFloat64(metrics.dispatchInflight); got != 0 {
		t.Fatalf("dispatch_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.tickErrorsTotal.WithLabelValues("janitor")); got != 1 {
		t.Fatalf("tick_errors_total = %v, want 1", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncDeliverySent("call")
	metrics.AddEntriesPurged("failed", 2)
	metrics.ObserveTick("batch-scheduler", time.Second, errors.New("x"))
	if metrics.Handler() == nil {
		t.Fatal("Handler() should fall back to the default registry")
	}
}

func TestMetricsHTTPMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		wantLabels []string
		wantCount  float64
	}{
		{name: "ok route", path: "/livez", wantLabels: []string{"GET", "/livez", "200"}, wantCount: 1},
		{name: "handler error", path: "/boom", wantLabels: []string{"GET", "/boom", "500"}, wantCount: 1},
		{name: "fiber error keeps its code", path: "/teapot", wantLabels: []string{"GET", "/teapot", "418"}, wantCount: 1},
		{name: "scrape endpoint is skipped", path: "/metrics", wantLabels: []string{"GET", "/metrics", "200"}, wantCount: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			metrics := NewMetrics()
			app := fiber.New()
			app.Use(metrics.HTTPMiddleware())
			app.Get("/livez", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
			app.Get("/metrics", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
			app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("boom") })
			app.Get("/teapot", func(c *fiber.Ctx) error { return fiber.ErrTeapot })

			if _, err := app.Test(httptest.NewRequest("GET", tt.path, nil)); err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}

			got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues(tt.wantLabels...))
			if got != tt.wantCount {
				t.Fatalf("http_requests_total%v = %v, want %v", tt.wantLabels, got, tt.wantCount)
			}
		})
	}
}

func TestMetricsHandlerExposesNamespace(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	metrics.IncDeliverySent("call")

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `pushengine_deliveries_sent_total{kind="call"} 1`) {
		t.Fatalf("scrape output missing delivery counter:\n%s", rec.Body.String())
	}
}
