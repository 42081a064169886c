// Package identity derives the per-request principal from verified
// OIDC claims and manages locally provisioned user profiles.
//
// The CurrentUser accessor evaluates claims lazily: nothing is parsed
// until a handler asks for it, and a required claim that turns out to
// be missing surfaces as ErrClaimMissing, which handlers map to an
// internal error rather than an authentication failure.
package identity
