package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Slot computation outcomes recorded on slot_computations_total.
const (
	OutcomeNoWindows = "no_windows"
	OutcomeBlackout  = "blackout"
	OutcomeComputed  = "computed"
	OutcomeError     = "error"
)

// Metrics owns the service's Prometheus registry and collectors.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	slotDuration    prometheus.Histogram
	slotOutcomes    *prometheus.CounterVec
	slotsReturned   prometheus.Histogram
	rateLimited     prometheus.Counter
}

// New registers core Prometheus collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	slotDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "slot_computation_duration_seconds",
		Help:    "Time spent computing available slots for a day",
		Buckets: prometheus.DefBuckets,
	})

	slotOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slot_computations_total",
		Help: "Slot computations by outcome",
	}, []string{"outcome"})

	slotsReturned := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "slots_returned",
		Help:    "Number of slots returned per computation",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})

	rateLimited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rate_limited_requests_total",
		Help: "Requests rejected by the rate limiter",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, slotDuration, slotOutcomes, slotsReturned, rateLimited, goroutines)

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		slotDuration:    slotDuration,
		slotOutcomes:    slotOutcomes,
		slotsReturned:   slotsReturned,
		rateLimited:     rateLimited,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"method": method, "path": path, "status": strconv.Itoa(status)}
	m.requestDuration.With(labels).Observe(duration.Seconds())
	m.requestTotal.With(labels).Inc()
}

// ObserveSlotComputation records one run of the slot generator.
func (m *Metrics) ObserveSlotComputation(outcome string, slots int, duration time.Duration) {
	if m == nil {
		return
	}
	m.slotDuration.Observe(duration.Seconds())
	m.slotOutcomes.WithLabelValues(outcome).Inc()
	if outcome != OutcomeError {
		m.slotsReturned.Observe(float64(slots))
	}
}

// IncRateLimited counts a rejected request.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// GinMiddleware captures request metrics for every routed request.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
