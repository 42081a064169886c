package identity

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/latticehq/lattice/pkg/tenant"
)

// ErrClaimMissing is returned when a required claim is absent from the
// verified identity. Callers must treat this as a configuration or
// integration fault (HTTP 500), never as an anonymous principal.
var ErrClaimMissing = errors.New("required identity claim missing")

// Claim names read from the verified token. The verification layer
// (OIDC/JWT) is external; this package only consumes its output.
const (
	ClaimSubject        = "sub"
	ClaimEmail          = "email"
	ClaimGivenName      = "given_name"
	ClaimFamilyName     = "family_name"
	ClaimPlatformRoles  = "platform_roles"
	ClaimImpersonatorID = "impersonator_id"
	ClaimTenantPath     = "tenant_path"
)

// TenantPathHeader lets non-browser and service-to-service callers
// select a tenant when no session-derived value exists.
const TenantPathHeader = "X-Tenant-Path"

// Claims is the verified claim set produced by the token verification
// layer.
type Claims map[string]interface{}

// CurrentUser exposes the per-request identity derived from verified
// claims. Values are computed lazily and cached for the lifetime of
// the request. It performs no I/O beyond the optional tenant header
// captured at construction.
type CurrentUser struct {
	claims        Claims
	tenantHeader  string
	authenticated bool

	userID         *uuid.UUID
	impersonatedBy *uuid.UUID
	impersonated   *bool
}

// Anonymous returns the identity of an unauthenticated request
func Anonymous() *CurrentUser {
	return &CurrentUser{claims: Claims{}}
}

// NewCurrentUser builds the request identity from verified claims and
// the tenant selection header.
func NewCurrentUser(claims Claims, tenantHeader string) *CurrentUser {
	return &CurrentUser{
		claims:        claims,
		tenantHeader:  tenantHeader,
		authenticated: true,
	}
}

// IsAuthenticated reports whether the request carried a verified identity
func (u *CurrentUser) IsAuthenticated() bool { return u.authenticated }

func (u *CurrentUser) stringClaim(name string) (string, error) {
	if !u.authenticated {
		return "", fmt.Errorf("%w: %s (unauthenticated request)", ErrClaimMissing, name)
	}
	value, ok := u.claims[name].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", ErrClaimMissing, name)
	}
	return value, nil
}

// UserID returns the subject id of the acting principal. During
// impersonation this is the impersonated user; the admin performing the
// action is reported by ImpersonatedBy.
func (u *CurrentUser) UserID() (uuid.UUID, error) {
	if u.userID != nil {
		return *u.userID, nil
	}

	raw, err := u.stringClaim(ClaimSubject)
	if err != nil {
		return uuid.Nil, err
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("subject claim is not a valid UUID: %w", err)
	}

	u.userID = &id
	return id, nil
}

// Email returns the email claim
func (u *CurrentUser) Email() (string, error) {
	return u.stringClaim(ClaimEmail)
}

// GivenName returns the given-name claim
func (u *CurrentUser) GivenName() (string, error) {
	return u.stringClaim(ClaimGivenName)
}

// Surname returns the family-name claim
func (u *CurrentUser) Surname() (string, error) {
	return u.stringClaim(ClaimFamilyName)
}

// IsImpersonated reports whether an admin is acting on this user's behalf
func (u *CurrentUser) IsImpersonated() bool {
	if u.impersonated != nil {
		return *u.impersonated
	}
	_, ok := u.claims[ClaimImpersonatorID].(string)
	u.impersonated = &ok
	return ok
}

// ImpersonatedBy returns the id of the admin driving an impersonated
// session, or nil when no impersonation is active.
func (u *CurrentUser) ImpersonatedBy() (*uuid.UUID, error) {
	if u.impersonatedBy != nil {
		return u.impersonatedBy, nil
	}
	if !u.IsImpersonated() {
		return nil, nil
	}

	raw := u.claims[ClaimImpersonatorID].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("impersonator claim is not a valid UUID: %w", err)
	}

	u.impersonatedBy = &id
	return &id, nil
}

// SelectedTenantPath returns the tenant scope for this request: the
// tenant claim when present, otherwise the X-Tenant-Path header value.
// The boolean is false when neither source provided a tenant.
func (u *CurrentUser) SelectedTenantPath() (tenant.Path, bool) {
	if raw, ok := u.claims[ClaimTenantPath].(string); ok && raw != "" {
		if path, err := tenant.ParsePath(raw); err == nil {
			return path, true
		}
	}
	if u.tenantHeader != "" {
		if path, err := tenant.ParsePath(u.tenantHeader); err == nil {
			return path, true
		}
	}
	return "", false
}

// PlatformRoles returns the platform-level roles declared on the
// verified identity. These bypass tenant scoping entirely and are a
// separate authorization channel from tenant grants.
func (u *CurrentUser) PlatformRoles() []string {
	raw, ok := u.claims[ClaimPlatformRoles]
	if !ok {
		return nil
	}

	switch values := raw.(type) {
	case []string:
		return values
	case []interface{}:
		roles := make([]string, 0, len(values))
		for _, v := range values {
			if s, ok := v.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	}
	return nil
}

// HasPlatformRole reports whether the identity carries the given
// platform role.
func (u *CurrentUser) HasPlatformRole(role string) bool {
	for _, r := range u.PlatformRoles() {
		if r == role {
			return true
		}
	}
	return false
}
