package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/lattice/pkg/observability"
	"github.com/latticehq/lattice/pkg/tenant"
)

// Resolver answers authorization questions from grants and roles. A
// user is authorized for a feature at a tenant path when at least one
// grant is active at evaluation time, its scope covers the path, and
// its role includes the feature.
type Resolver struct {
	store   *Store
	metrics *observability.Metrics

	// now is swappable for deterministic window tests
	now func() time.Time
}

// NewResolver creates a resolver. metrics may be nil.
func NewResolver(store *Store, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		store:   store,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// IsAuthorized evaluates the user's grants against the requested
// feature and tenant path at the current instant. The result carries
// no detail about why access was denied; callers surface a uniform
// forbidden response either way.
func (r *Resolver) IsAuthorized(ctx context.Context, userID uuid.UUID, path tenant.Path, feature Feature) (bool, error) {
	return r.IsAuthorizedAt(ctx, userID, path, feature, r.now())
}

// IsAuthorizedAt evaluates authorization at an explicit instant
func (r *Resolver) IsAuthorizedAt(ctx context.Context, userID uuid.UUID, path tenant.Path, feature Feature, asOf time.Time) (bool, error) {
	grants, err := r.store.GetActiveGrants(ctx, userID, asOf)
	if err != nil {
		r.countDecision("error")
		return false, fmt.Errorf("failed to load grants: %w", err)
	}

	for i := range grants {
		if !grants[i].Covers(path) {
			continue
		}

		role, err := r.store.GetRole(ctx, grants[i].RoleID)
		if err != nil {
			r.countDecision("error")
			return false, fmt.Errorf("failed to load role for grant %s: %w", grants[i].ID, err)
		}
		if role.HasFeature(feature) {
			r.countDecision("allow")
			return true, nil
		}
	}

	r.countDecision("deny")
	return false, nil
}

func (r *Resolver) countDecision(outcome string) {
	if r.metrics != nil {
		r.metrics.AuthzDecisionsTotal.WithLabelValues(outcome).Inc()
	}
}
