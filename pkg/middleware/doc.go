// Package middleware holds HTTP middleware shared by the API and the
// gateway.
package middleware
