package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// maxJSONBytes bounds JSON request bodies
const maxJSONBytes = 64 << 10

// RouteRegistrar is implemented by handler groups that mount routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// NewRouter builds the public router: request ids, panic recovery, access
// logs, per-route metrics and server spans around every registrar's routes
func NewRouter(logger *observability.Logger, metrics *observability.Metrics, registrars ...RouteRegistrar) http.Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	router := mux.NewRouter()
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	for _, registrar := range registrars {
		registrar.RegisterRoutes(router)
	}
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not found")
	})

	handler := httputil.Chain(
		httputil.RequestIDMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		limitJSONBodies,
	)(router)

	return otelhttp.NewHandler(handler, "gatehouse",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// limitJSONBodies caps JSON bodies; form posts are capped by their handlers
func limitJSONBodies(next http.Handler) http.Handler {
	limited := httputil.MaxBytesMiddleware(maxJSONBytes)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			limited.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
