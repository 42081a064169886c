package authz

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/lattice/pkg/tenant"
)

// DefaultGrantDuration is applied when a grant is created without an
// explicit end of validity.
const DefaultGrantDuration = 365 * 24 * time.Hour

// ErrInvalidWindow is returned when a grant's validity interval is
// empty or inverted.
var ErrInvalidWindow = errors.New("grant validity window must end after it starts")

// Feature is a named capability checked by the resolver, e.g.
// "billing.invoices.read". Features are matched exactly.
type Feature string

// Role bundles a set of features under a name. Labels carry free-form
// operator metadata (cost center, owning team) and play no part in
// authorization decisions.
type Role struct {
	ID        uuid.UUID         `json:"id"`
	Name      string            `json:"name"`
	Features  []Feature         `json:"features"`
	Labels    map[string]string `json:"labels,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// HasFeature reports whether the role includes the given feature
func (r *Role) HasFeature(feature Feature) bool {
	for _, f := range r.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Grant assigns a role to a user at a tenant path for a bounded time
// window. The grant applies to the named tenant and every tenant below
// it. Both interval bounds are inclusive.
type Grant struct {
	ID         uuid.UUID   `json:"id"`
	UserID     uuid.UUID   `json:"user_id"`
	RoleID     uuid.UUID   `json:"role_id"`
	TenantPath tenant.Path `json:"tenant_path"`
	ValidFrom  time.Time   `json:"valid_from"`
	ValidTo    time.Time   `json:"valid_to"`
	GrantedBy  *uuid.UUID  `json:"granted_by,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// NewGrant builds a grant and validates its window. A zero validFrom
// defaults to now; a zero validTo defaults to one year after
// validFrom. The window is rejected immediately when validTo does not
// lie strictly after validFrom.
func NewGrant(userID, roleID uuid.UUID, path tenant.Path, validFrom, validTo time.Time) (*Grant, error) {
	if validFrom.IsZero() {
		validFrom = time.Now().UTC()
	}
	if validTo.IsZero() {
		validTo = validFrom.Add(DefaultGrantDuration)
	}
	if !validTo.After(validFrom) {
		return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidWindow, validFrom.Format(time.RFC3339), validTo.Format(time.RFC3339))
	}

	return &Grant{
		ID:         uuid.New(),
		UserID:     userID,
		RoleID:     roleID,
		TenantPath: path,
		ValidFrom:  validFrom.UTC(),
		ValidTo:    validTo.UTC(),
	}, nil
}

// ActiveAt reports whether the grant is valid at the given instant.
// The interval is closed on both ends: a grant is active at exactly
// ValidFrom and at exactly ValidTo.
func (g *Grant) ActiveAt(asOf time.Time) bool {
	return !asOf.Before(g.ValidFrom) && !asOf.After(g.ValidTo)
}

// Covers reports whether the grant's scope includes the given tenant
// path: the grant tenant itself or any of its descendants.
func (g *Grant) Covers(path tenant.Path) bool {
	return g.TenantPath.Covers(path)
}

// ExtendTo moves the grant's end of validity. The new end must still
// lie after ValidFrom.
func (g *Grant) ExtendTo(validTo time.Time) error {
	if !validTo.After(g.ValidFrom) {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidWindow, g.ValidFrom.Format(time.RFC3339), validTo.Format(time.RFC3339))
	}
	g.ValidTo = validTo.UTC()
	return nil
}
