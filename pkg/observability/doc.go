// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing and health probes for the gatehouse service.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("email", auth.MaskEmail(email)).Warn("lockout store unavailable")
//
// Email addresses must be masked before they reach a log field.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// # Tracing
//
// InitTracing installs an OTLP gRPC exporter. Outbound IdP calls use
// NewHTTPClient so token exchange and metadata fetches show up as client spans.
package observability
