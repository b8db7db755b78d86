// Package telemetry exposes Prometheus metrics for HTTP traffic, diagnosis
// queries and population loads.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names.
const (
	MetricHTTPRequestsTotal     = "http_requests_total"
	MetricHTTPRequestDuration   = "http_request_duration_seconds"
	MetricHTTPActiveRequests    = "http_active_requests"
	MetricQueriesTotal          = "dxmatch_queries_total"
	MetricPopulationLoadsTotal  = "dxmatch_population_loads_total"
	MetricPopulationPatients    = "dxmatch_population_patients"
	MetricPopulationLoadedAtSec = "dxmatch_population_loaded_timestamp_seconds"
)

// durationBuckets are the request duration bucket boundaries in seconds.
var durationBuckets = []float64{0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0}

// Metrics holds every collector the service exports. All methods are safe
// for concurrent use.
type Metrics struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpActive      prometheus.Gauge
	queries         *prometheus.CounterVec
	populationLoads *prometheus.CounterVec
	patients        prometheus.Gauge
	loadedAt        prometheus.Gauge

	now func() time.Time
}

// NewMetrics creates the collectors. They are not registered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPRequestsTotal,
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "HTTP request duration in seconds",
				Buckets: durationBuckets,
			},
			[]string{"method", "route", "status"},
		),
		httpActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricHTTPActiveRequests,
			Help: "Number of HTTP requests currently being served",
		}),
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricQueriesTotal,
				Help: "Diagnosis queries by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		populationLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPopulationLoadsTotal,
				Help: "Population loads by outcome",
			},
			[]string{"outcome"},
		),
		patients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricPopulationPatients,
			Help: "Number of patients in the loaded population",
		}),
		loadedAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricPopulationLoadedAtSec,
			Help: "Unix time of the last successful population load",
		}),
		now: time.Now,
	}
}

// Collectors returns every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.httpRequests,
		m.httpDuration,
		m.httpActive,
		m.queries,
		m.populationLoads,
		m.patients,
		m.loadedAt,
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveQuery counts one query.
func (m *Metrics) ObserveQuery(operation, outcome string) {
	m.queries.WithLabelValues(operation, outcome).Inc()
}

// ObservePopulation records the result of a population load. Failed loads
// leave the size and timestamp gauges untouched.
func (m *Metrics) ObservePopulation(patients int, err error) {
	if err != nil {
		m.populationLoads.WithLabelValues("error").Inc()
		return
	}
	m.populationLoads.WithLabelValues("ok").Inc()
	m.patients.Set(float64(patients))
	m.loadedAt.Set(float64(m.now().Unix()))
}

// Middleware records count and latency per route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.httpActive.Inc()
			defer m.httpActive.Dec()

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

			labels := prometheus.Labels{
				"method": c.Request().Method,
				"route":  route,
				"status": strconv.Itoa(status),
			}
			m.httpRequests.With(labels).Inc()
			m.httpDuration.With(labels).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the Prometheus exposition format for g.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
