package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the composer.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Editor metrics
	EditsTotal               *prometheus.CounterVec
	DependenciesDroppedTotal *prometheus.CounterVec
	ActiveSessions           prometheus.Gauge

	// Collaborator metrics
	LoadsTotal   *prometheus.CounterVec
	SavesTotal   *prometheus.CounterVec
	SaveDuration prometheus.Histogram

	// Catalogue metrics
	CatalogueReloadTotal *prometheus.CounterVec
	CataloguesLoaded     prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "composer_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "composer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "composer_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "composer_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Editor
		EditsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "composer_edits_total",
			Help: "Total number of editor operations by outcome.",
		}, []string{"operation", "outcome"}),
		DependenciesDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "composer_dependencies_dropped_total",
			Help: "Total number of dependency edges dropped while loading or reordering.",
		}, []string{"reason"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "composer_active_sessions",
			Help: "Number of editing sessions held in memory.",
		}),

		// Collaborators
		LoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "composer_loads_total",
			Help: "Total number of instance configuration loads by outcome.",
		}, []string{"outcome"}),
		SavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "composer_saves_total",
			Help: "Total number of instance configuration saves by outcome.",
		}, []string{"outcome"}),
		SaveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "composer_save_duration_seconds",
			Help:    "Configuration save duration in seconds.",
			Buckets: backendDurationBuckets,
		}),

		// Catalogue
		CatalogueReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "composer_catalogue_reload_total",
			Help: "Total catalogue reloads.",
		}, []string{"status"}),
		CataloguesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "composer_catalogues_loaded",
			Help: "Number of application catalogues loaded.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.EditsTotal,
		m.DependenciesDroppedTotal,
		m.ActiveSessions,
		m.LoadsTotal,
		m.SavesTotal,
		m.SaveDuration,
		m.CatalogueReloadTotal,
		m.CataloguesLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordEdit records an editor operation and whether it was applied or rejected.
func (m *Metrics) RecordEdit(operation, outcome string) {
	m.EditsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordDependenciesDropped records dependency edges removed for a reason.
func (m *Metrics) RecordDependenciesDropped(reason string, n int) {
	if n <= 0 {
		return
	}
	m.DependenciesDroppedTotal.WithLabelValues(reason).Add(float64(n))
}

// SetActiveSessions sets the number of sessions held in memory.
func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

// RecordLoad records an instance configuration load outcome.
func (m *Metrics) RecordLoad(outcome string) {
	m.LoadsTotal.WithLabelValues(outcome).Inc()
}

// RecordSave records an instance configuration save.
func (m *Metrics) RecordSave(outcome string, duration time.Duration) {
	m.SavesTotal.WithLabelValues(outcome).Inc()
	m.SaveDuration.Observe(duration.Seconds())
}

// RecordCatalogueReload records a catalogue reload.
func (m *Metrics) RecordCatalogueReload(status string) {
	m.CatalogueReloadTotal.WithLabelValues(status).Inc()
}

// SetCataloguesLoaded sets the number of loaded application catalogues.
func (m *Metrics) SetCataloguesLoaded(count int) {
	m.CataloguesLoaded.Set(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern returns the chi route that matched r, with the wildcards of
// mounted subrouters collapsed, or the raw path when nothing matched.
func routePattern(r *http.Request) string {
	if pattern := chi.RouteContext(r.Context()).RoutePattern(); pattern != "" {
		return pattern
	}
	return r.URL.Path
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
