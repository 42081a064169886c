// Package observability provides structured logging, Prometheus metrics,
// health checks and OpenTelemetry initialization shared by the API server
// and the gateway.
package observability
