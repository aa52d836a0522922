// Package metrics exposes Prometheus collectors for the availability engine
// and the HTTP layer.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "calendar"

// Booking and cancel outcomes.
const (
	OutcomeBooked      = "booked"
	OutcomeConflict    = "conflict"
	OutcomeInvalid     = "invalid"
	OutcomeError       = "error"
	OutcomeUnavailable = "lock_unavailable"
	OutcomeCanceled    = "canceled"
	OutcomeNoop        = "noop"
	OutcomeNotFound    = "not_found"
	OutcomeFound       = "found"
	OutcomeNoMatch     = "no_match"
	OutcomeAborted     = "aborted"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	Bookings        *prometheus.CounterVec
	Cancellations   *prometheus.CounterVec
	EarliestSearch  *prometheus.CounterVec
	LockWait        prometheus.Histogram
	RequestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome.",
		}, []string{"outcome"}),
		Cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Cancel requests by outcome.",
		}, []string{"outcome"}),
		EarliestSearch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "earliest_searches_total",
			Help:      "Earliest-slot searches by outcome.",
		}, []string{"outcome"}),
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "booking_lock_wait_seconds",
			Help:      "Time spent waiting for the per doctor-day booking lock.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.Bookings, m.Cancellations, m.EarliestSearch, m.LockWait, m.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
}

// Middleware records request latency labelled by the matched route, so
// path parameters do not explode label cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.RequestDuration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}
