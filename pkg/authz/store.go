package authz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/latticehq/lattice/pkg/tenant"
)

// ErrRoleNotFound is returned when a role does not exist
var ErrRoleNotFound = errors.New("role not found")

// ErrGrantNotFound is returned when a grant does not exist
var ErrGrantNotFound = errors.New("grant not found")

const roleCacheSize = 1024

// Store handles role and grant persistence. Roles change rarely and
// are served from an in-process LRU cache keyed by id.
type Store struct {
	db        *sql.DB
	roleCache *lru.Cache[string, *Role]
}

// NewStore creates an authorization store
func NewStore(db *sql.DB) (*Store, error) {
	cache, err := lru.New[string, *Role](roleCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create role cache: %w", err)
	}
	return &Store{db: db, roleCache: cache}, nil
}

// EnsureSchema creates the roles and grants tables if missing. Grant
// lookups are always by user, so the composite index leads with
// user_id.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS roles (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(100) NOT NULL UNIQUE,
		features TEXT NOT NULL,
		labels TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS grants (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL,
		role_id VARCHAR(36) NOT NULL REFERENCES roles(id),
		tenant_path VARCHAR(512) NOT NULL,
		valid_from TIMESTAMP NOT NULL,
		valid_to TIMESTAMP NOT NULL,
		granted_by VARCHAR(36),
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_grants_user_tenant ON grants(user_id, tenant_path);
	CREATE INDEX IF NOT EXISTS idx_grants_valid_to ON grants(valid_to);
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure authorization tables: %w", err)
	}
	return nil
}

// CreateRole creates a new role
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	featuresJSON, err := json.Marshal(role.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	labelsJSON, err := json.Marshal(role.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO roles (id, name, features, labels, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.ExecContext(ctx, query,
		role.ID.String(), role.Name, string(featuresJSON), string(labelsJSON), now, now)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by id, served from cache when possible
func (s *Store) GetRole(ctx context.Context, id uuid.UUID) (*Role, error) {
	if role, ok := s.roleCache.Get(id.String()); ok {
		return role, nil
	}

	query := `SELECT id, name, features, labels, created_at, updated_at FROM roles WHERE id = $1`
	role, err := s.scanRole(s.db.QueryRowContext(ctx, query, id.String()))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	s.roleCache.Add(id.String(), role)
	return role, nil
}

// ListRoles lists all roles ordered by name
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	query := `SELECT id, name, features, labels, created_at, updated_at FROM roles ORDER BY name ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := s.scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// UpdateRole replaces a role's features and labels and invalidates the
// cached entry.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	featuresJSON, err := json.Marshal(role.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	labelsJSON, err := json.Marshal(role.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	role.UpdatedAt = time.Now().UTC()
	query := `UPDATE roles SET name = $1, features = $2, labels = $3, updated_at = $4 WHERE id = $5`
	res, err := s.db.ExecContext(ctx, query,
		role.Name, string(featuresJSON), string(labelsJSON), role.UpdatedAt, role.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, role.ID)
	}

	s.roleCache.Remove(role.ID.String())
	return nil
}

// CreateGrant persists a grant built by NewGrant
func (s *Store) CreateGrant(ctx context.Context, grant *Grant) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO grants (id, user_id, role_id, tenant_path, valid_from, valid_to, granted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	var grantedBy interface{}
	if grant.GrantedBy != nil {
		grantedBy = grant.GrantedBy.String()
	}

	_, err := s.db.ExecContext(ctx, query,
		grant.ID.String(), grant.UserID.String(), grant.RoleID.String(),
		string(grant.TenantPath), grant.ValidFrom, grant.ValidTo, grantedBy, now)
	if err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}

	grant.CreatedAt = now
	return nil
}

// GetGrant retrieves a grant by id
func (s *Store) GetGrant(ctx context.Context, id uuid.UUID) (*Grant, error) {
	query := `
		SELECT id, user_id, role_id, tenant_path, valid_from, valid_to, granted_by, created_at
		FROM grants WHERE id = $1
	`
	grant, err := scanGrant(s.db.QueryRowContext(ctx, query, id.String()))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrGrantNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return grant, nil
}

// UpdateGrantWindow persists a changed validity window
func (s *Store) UpdateGrantWindow(ctx context.Context, grant *Grant) error {
	query := `UPDATE grants SET valid_from = $1, valid_to = $2 WHERE id = $3`
	res, err := s.db.ExecContext(ctx, query, grant.ValidFrom, grant.ValidTo, grant.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update grant: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrGrantNotFound, grant.ID)
	}
	return nil
}

// DeleteGrant removes a grant entirely. Revocation that should leave a
// record is done by shrinking the window instead.
func (s *Store) DeleteGrant(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM grants WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrGrantNotFound, id)
	}
	return nil
}

// ListGrantsByUser returns every grant held by a user, active or not
func (s *Store) ListGrantsByUser(ctx context.Context, userID uuid.UUID) ([]Grant, error) {
	query := `
		SELECT id, user_id, role_id, tenant_path, valid_from, valid_to, granted_by, created_at
		FROM grants WHERE user_id = $1
		ORDER BY created_at DESC
	`
	return s.queryGrants(ctx, query, userID.String())
}

// GetActiveGrants returns the grants valid for the user at the given
// instant. Both interval bounds are inclusive.
func (s *Store) GetActiveGrants(ctx context.Context, userID uuid.UUID, asOf time.Time) ([]Grant, error) {
	query := `
		SELECT id, user_id, role_id, tenant_path, valid_from, valid_to, granted_by, created_at
		FROM grants
		WHERE user_id = $1 AND valid_from <= $2 AND valid_to >= $2
		ORDER BY created_at DESC
	`
	return s.queryGrants(ctx, query, userID.String(), asOf.UTC())
}

// HasActiveGrantUnder reports whether the user holds any active grant
// whose scope covers the given tenant path.
func (s *Store) HasActiveGrantUnder(ctx context.Context, userID uuid.UUID, path tenant.Path, asOf time.Time) (bool, error) {
	grants, err := s.GetActiveGrants(ctx, userID, asOf)
	if err != nil {
		return false, err
	}
	for i := range grants {
		if grants[i].Covers(path) {
			return true, nil
		}
	}
	return false, nil
}

// ActiveTenantPaths returns the distinct tenant paths of the user's
// active grants.
func (s *Store) ActiveTenantPaths(ctx context.Context, userID uuid.UUID, asOf time.Time) ([]tenant.Path, error) {
	grants, err := s.GetActiveGrants(ctx, userID, asOf)
	if err != nil {
		return nil, err
	}

	seen := make(map[tenant.Path]struct{}, len(grants))
	paths := make([]tenant.Path, 0, len(grants))
	for i := range grants {
		if _, ok := seen[grants[i].TenantPath]; ok {
			continue
		}
		seen[grants[i].TenantPath] = struct{}{}
		paths = append(paths, grants[i].TenantPath)
	}
	return paths, nil
}

func (s *Store) queryGrants(ctx context.Context, query string, args ...interface{}) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, *grant)
	}
	return grants, rows.Err()
}

func (s *Store) scanRole(scanner interface {
	Scan(dest ...interface{}) error
}) (*Role, error) {
	var role Role
	var rawID, featuresJSON string
	var labelsJSON sql.NullString

	err := scanner.Scan(&rawID, &role.Name, &featuresJSON, &labelsJSON, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, err
	}

	role.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse role id: %w", err)
	}
	if err := json.Unmarshal([]byte(featuresJSON), &role.Features); err != nil {
		return nil, fmt.Errorf("failed to unmarshal features: %w", err)
	}
	if labelsJSON.Valid && labelsJSON.String != "" {
		if err := json.Unmarshal([]byte(labelsJSON.String), &role.Labels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal labels: %w", err)
		}
	}

	return &role, nil
}

func scanGrant(scanner interface {
	Scan(dest ...interface{}) error
}) (*Grant, error) {
	var grant Grant
	var rawID, rawUserID, rawRoleID, rawPath string
	var grantedBy sql.NullString

	err := scanner.Scan(&rawID, &rawUserID, &rawRoleID, &rawPath,
		&grant.ValidFrom, &grant.ValidTo, &grantedBy, &grant.CreatedAt)
	if err != nil {
		return nil, err
	}

	if grant.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("failed to parse grant id: %w", err)
	}
	if grant.UserID, err = uuid.Parse(rawUserID); err != nil {
		return nil, fmt.Errorf("failed to parse grant user id: %w", err)
	}
	if grant.RoleID, err = uuid.Parse(rawRoleID); err != nil {
		return nil, fmt.Errorf("failed to parse grant role id: %w", err)
	}
	grant.TenantPath = tenant.Path(rawPath)

	if grantedBy.Valid {
		id, err := uuid.Parse(grantedBy.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse granted_by: %w", err)
		}
		grant.GrantedBy = &id
	}

	return &grant, nil
}
