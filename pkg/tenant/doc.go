// Package tenant models the tenant hierarchy: nodes addressed by a
// materialized dotted path ("Org.Region.Branch") with ancestor and
// subtree queries. The path encoding is the single source of truth for
// authorization scope: a path covers itself and all of its descendants.
package tenant
