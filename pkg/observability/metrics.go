package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Password login metrics
	LoginAttemptsTotal *prometheus.CounterVec
	LoginDuration      *prometheus.HistogramVec

	// Lockout metrics
	LockoutsTotal           prometheus.Counter
	LockoutStoreErrorsTotal *prometheus.CounterVec

	// SSO metrics
	SSOFlowTotal      *prometheus.CounterVec
	ProvisionedTotal  *prometheus.CounterVec
	TokensIssuedTotal *prometheus.CounterVec
	MetadataFetches   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics. A nil registry creates an
// unregistered set, which is what tests use.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_login_attempts_total",
				Help: "Password login attempts by result",
			},
			[]string{"result"},
		),
		LoginDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_login_duration_seconds",
				Help:    "Password validation latency in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"result"},
		),

		LockoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_lockouts_total",
				Help: "Number of identities locked after repeated failures",
			},
		),
		LockoutStoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_lockout_store_errors_total",
				Help: "Counter store errors swallowed by the lockout tracker",
			},
			[]string{"op"},
		),

		SSOFlowTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_sso_flow_total",
				Help: "SSO flow stage transitions by protocol and result",
			},
			[]string{"protocol", "stage", "result"},
		),
		ProvisionedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_provisioned_total",
				Help: "Records created or updated by JIT provisioning",
			},
			[]string{"kind"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_tokens_issued_total",
				Help: "Session tokens issued",
			},
			[]string{"kind"},
		),
		MetadataFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_saml_metadata_fetches_total",
				Help: "IdP metadata fetches by result",
			},
			[]string{"result"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.LoginAttemptsTotal,
			m.LoginDuration,
			m.LockoutsTotal,
			m.LockoutStoreErrorsTotal,
			m.SSOFlowTotal,
			m.ProvisionedTotal,
			m.TokensIssuedTotal,
			m.MetadataFetches,
		)
	}

	return m
}

// responseWriter captures the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records request counts and latency per mux route
// template, so path parameters do not explode label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus text format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
