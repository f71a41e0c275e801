package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "carbonmap"

// Metrics exposes application metrics that are safe to scrape via Prometheus.
// All methods are no-ops on a nil receiver.
type Metrics struct {
	registry               *prometheus.Registry
	httpRequests           *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	visibleEntities        prometheus.Histogram
	permissionResolutions  *prometheus.CounterVec
	invariantViolations    prometheus.Counter
	catalogRefreshes       *prometheus.CounterVec
	catalogRefreshDuration prometheus.Histogram
	catalogEntities        prometheus.Gauge
}

// New creates a fresh registry with HTTP, resolver and catalog metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests processed",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		visibleEntities: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "visible_entities",
			Help:      "Number of entities returned per map view",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		permissionResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_resolutions_total",
			Help:      "Permission resolutions by resulting permission",
		}, []string{"permission"}),
		invariantViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Hierarchy walks aborted because the forest invariant did not hold",
		}),
		catalogRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_refreshes_total",
			Help:      "Catalog snapshot reloads by result",
		}, []string{"result"}),
		catalogRefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_refresh_duration_seconds",
			Help:      "Duration of catalog snapshot reloads",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		catalogEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_entities",
			Help:      "Entities in the current catalog snapshot",
		}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpRequestDuration,
		m.visibleEntities,
		m.permissionResolutions,
		m.invariantViolations,
		m.catalogRefreshes,
		m.catalogRefreshDuration,
		m.catalogEntities,
	)
	return m
}

// ObserveHTTPRequest records a single HTTP request/response cycle. path should
// be the route pattern, not the raw URL.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

func (m *Metrics) ObserveVisibleEntities(n int) {
	if m == nil {
		return
	}
	m.visibleEntities.Observe(float64(n))
}

func (m *Metrics) ObservePermissionResolution(permission string) {
	if m == nil {
		return
	}
	m.permissionResolutions.WithLabelValues(permission).Inc()
}

func (m *Metrics) IncInvariantViolation() {
	if m == nil {
		return
	}
	m.invariantViolations.Inc()
}

// ObserveCatalogRefresh records one snapshot reload. entities is ignored when
// err is non-nil.
func (m *Metrics) ObserveCatalogRefresh(duration time.Duration, entities int, err error) {
	if m == nil {
		return
	}
	m.catalogRefreshDuration.Observe(duration.Seconds())
	if err != nil {
		m.catalogRefreshes.WithLabelValues("error").Inc()
		return
	}
	m.catalogRefreshes.WithLabelValues("ok").Inc()
	m.catalogEntities.Set(float64(entities))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
