// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/latticehq/lattice/pkg/contextkeys"
//   ctx = context.WithValue(ctx, contextkeys.IdentityKey, current)
//   current := ctx.Value(contextkeys.IdentityKey).(*identity.CurrentUser)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *identity.CurrentUser
	// Set by: identity.Middleware (pkg/identity/middleware.go)
	// Required by: authz middleware, audit recorders, /me handlers
	// Type: *identity.CurrentUser
	IdentityKey Key = "current_identity"

	// RequestIDKey contains the request correlation id string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail/request records, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// TenantPathKey contains the tenant path resolved for this request
	// Set by: authz middleware after scope resolution
	// Used by: handlers that need the effective tenant scope
	// Type: tenant.Path
	TenantPathKey Key = "tenant_path"

	// LoggerKey contains *observability.Logger
	// Set by: observability middleware
	// Used by: handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// Helper functions for type-safe context operations

// WithIdentity adds the current identity to the context
func WithIdentity(ctx context.Context, current interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, current)
}

// WithRequestID adds the request id to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithTenantPath adds the resolved tenant path to the context
func WithTenantPath(ctx context.Context, path interface{}) context.Context {
	return context.WithValue(ctx, TenantPathKey, path)
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves the request id from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
