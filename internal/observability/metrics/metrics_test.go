package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHTTPRequestCountsServerErrors(t *testing.T) {
	c := NewCollector(false)
	c.ObserveHTTPRequest("/api/v1/state", "GET", 200, 10*time.Millisecond)
	c.ObserveHTTPRequest("/api/v1/state", "GET", 503, 20*time.Millisecond)

	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues("/api/v1/state", "GET", "200")); got != 1 {
		t.Fatalf("requests{200} = %v", got)
	}
	if got := testutil.ToFloat64(c.httpErrors.WithLabelValues("/api/v1/state", "GET")); got != 1 {
		t.Fatalf("errors = %v", got)
	}
}

func TestObservePhaseMovesGauge(t *testing.T) {
	c := NewCollector(false)
	c.ObservePhase("", "idle")
	c.ObservePhase("idle", "armed")

	if got := testutil.ToFloat64(c.currentPhase.WithLabelValues("idle")); got != 0 {
		t.Fatalf("idle gauge = %v", got)
	}
	if got := testutil.ToFloat64(c.currentPhase.WithLabelValues("armed")); got != 1 {
		t.Fatalf("armed gauge = %v", got)
	}
	if got := testutil.ToFloat64(c.transitions.WithLabelValues("idle", "armed")); got != 1 {
		t.Fatalf("transitions = %v", got)
	}
}

func TestDomainObservers(t *testing.T) {
	c := NewCollector(false)
	c.ObserveQuote(true)
	c.ObserveQuote(false)
	c.ObserveQuote(true)
	c.ObserveResolution("cache_hit")
	c.ObserveCommand("start", errors.New("boom"))
	c.ObserveStep("swap", time.Second, nil)
	c.ObserveTick(3001.5)

	if got := testutil.ToFloat64(c.quotes.WithLabelValues("estimate")); got != 2 {
		t.Fatalf("estimates = %v", got)
	}
	if got := testutil.ToFloat64(c.resolutions.WithLabelValues("cache_hit")); got != 1 {
		t.Fatalf("cache hits = %v", got)
	}
	if got := testutil.ToFloat64(c.commands.WithLabelValues("start", "error")); got != 1 {
		t.Fatalf("commands = %v", got)
	}
	if got := testutil.ToFloat64(c.lastTickPrice); got != 3001.5 {
		t.Fatalf("last price = %v", got)
	}
	if n := testutil.CollectAndCount(c.stepDuration); n != 1 {
		t.Fatalf("step series = %d", n)
	}
}

func TestHandlerExposition(t *testing.T) {
	c := NewCollector(false)
	c.ObserveHTTPRequest("/metrics", "GET", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `defiflow_http_requests_total{code="200",handler="/metrics",method="GET"} 1`) {
		t.Fatalf("unexpected exposition:\n%s", body)
	}
}
