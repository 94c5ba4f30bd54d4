package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "defiflow"

// Collector holds every metric the daemon exports.
type Collector struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpErrors    *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	currentPhase  *prometheus.GaugeVec
	quotes        *prometheus.CounterVec
	resolutions   *prometheus.CounterVec
	commands      *prometheus.CounterVec
	priceTicks    prometheus.Counter
	lastTickPrice prometheus.Gauge
}

// NewCollector registers all metrics on a fresh registry. With runtime set
// the Go and process collectors are registered too.
func NewCollector(runtime bool) *Collector {
	reg := prometheus.NewRegistry()
	if runtime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	c := &Collector{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_errors_total",
			Help: "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "phase_transitions_total",
			Help: "Execution phase transitions.",
		}, []string{"from", "to"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "step_duration_seconds",
			Help:    "Duration of each execution step, including confirmation waits.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"step", "outcome"}),
		currentPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "engine", Name: "phase",
			Help: "1 for the phase the engine is currently in.",
		}, []string{"phase"}),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "quote", Name: "served_total",
			Help: "Quotes served, split by authoritative and estimate.",
		}, []string{"kind"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "resolver", Name: "lookups_total",
			Help: "Recipient resolutions by outcome.",
		}, []string{"outcome"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "command", Name: "processed_total",
			Help: "Commands consumed from the queue.",
		}, []string{"type", "result"}),
		priceTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pricefeed", Name: "ticks_total",
			Help: "Price ticks received.",
		}),
		lastTickPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pricefeed", Name: "last_price",
			Help: "Most recent price tick.",
		}),
	}
	reg.MustRegister(
		c.httpRequests, c.httpErrors, c.httpLatency,
		c.transitions, c.stepDuration, c.currentPhase,
		c.quotes, c.resolutions, c.commands,
		c.priceTicks, c.lastTickPrice,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		c.httpErrors.WithLabelValues(handler, method).Inc()
	}
	c.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObservePhase records a transition and moves the current-phase gauge.
func (c *Collector) ObservePhase(from, to string) {
	c.transitions.WithLabelValues(from, to).Inc()
	if from != "" {
		c.currentPhase.WithLabelValues(from).Set(0)
	}
	c.currentPhase.WithLabelValues(to).Set(1)
}

// ObserveStep records how long one execution step took.
func (c *Collector) ObserveStep(step string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.stepDuration.WithLabelValues(step, outcome).Observe(duration.Seconds())
}

// ObserveQuote implements the quote engine observer.
func (c *Collector) ObserveQuote(estimate bool) {
	kind := "authoritative"
	if estimate {
		kind = "estimate"
	}
	c.quotes.WithLabelValues(kind).Inc()
}

// ObserveResolution implements the resolver observer.
func (c *Collector) ObserveResolution(outcome string) {
	c.resolutions.WithLabelValues(outcome).Inc()
}

// ObserveCommand records one consumed command.
func (c *Collector) ObserveCommand(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.commands.WithLabelValues(kind, result).Inc()
}

// ObserveTick records a price tick.
func (c *Collector) ObserveTick(price float64) {
	c.priceTicks.Inc()
	c.lastTickPrice.Set(price)
}

// Handler exposes the collector in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

var (
	defaultOnce      sync.Once
	defaultCollector *Collector
)

// Default returns the process-wide collector.
func Default() *Collector {
	defaultOnce.Do(func() {
		defaultCollector = NewCollector(true)
	})
	return defaultCollector
}

// ObserveHTTPRequest records an HTTP request on the default collector.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	Default().ObserveHTTPRequest(handler, method, status, duration)
}

// Handler serves the default collector.
func Handler() http.Handler {
	return Default().Handler()
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
