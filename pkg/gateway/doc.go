// Package gateway fronts browser sessions for the API. It runs the
// OIDC login flow, keeps tokens server-side in Redis, and relays
// requests to upstreams with the session's bearer token attached. The
// browser only ever holds an opaque session cookie.
package gateway
