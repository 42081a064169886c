// Package authz implements time-bounded, tenant-scoped authorization.
//
// A Grant assigns a Role (a named bundle of features) to a user at a
// tenant path for a closed validity interval. A grant at "acme.emea"
// applies to that tenant and every tenant below it. The Resolver
// answers feature checks against active grants; platform roles on the
// verified identity form a separate channel enforced by
// RequirePlatformRole and never interact with grants.
package authz
