package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrNotFound is returned when a tenant path does not exist
var ErrNotFound = errors.New("tenant not found")

// ErrParentMissing is returned when creating a node whose parent prefix
// does not exist
var ErrParentMissing = errors.New("parent tenant does not exist")

// ErrAlreadyExists is returned when creating a node at an occupied path
var ErrAlreadyExists = errors.New("tenant already exists")

const nodeCacheSize = 4096

// Store handles tenant hierarchy persistence
type Store struct {
	db    *sql.DB
	cache *lru.Cache[string, *Node]
}

// NewStore creates a new tenant store with an LRU node cache
func NewStore(db *sql.DB) (*Store, error) {
	cache, err := lru.New[string, *Node](nodeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant cache: %w", err)
	}
	return &Store{db: db, cache: cache}, nil
}

// EnsureSchema creates the tenants table and its indexes if missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS tenants (
		path VARCHAR(512) PRIMARY KEY,
		name VARCHAR(250) NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_tenants_path ON tenants(path);
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure tenants table: %w", err)
	}
	return nil
}

// Create inserts a new tenant node. Non-root paths require their parent
// prefix to exist already.
func (s *Store) Create(ctx context.Context, node *Node) error {
	if _, err := ParsePath(string(node.Path)); err != nil {
		return err
	}

	if parent, ok := node.Path.Parent(); ok {
		if _, err := s.Get(ctx, parent); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrParentMissing, parent)
			}
			return err
		}
	}

	now := time.Now().UTC()
	node.CreatedAt = now
	node.UpdatedAt = now

	query := `INSERT INTO tenants (path, name, created_at, updated_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.db.ExecContext(ctx, query, string(node.Path), node.Name, node.CreatedAt, node.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, node.Path)
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	return nil
}

// Get retrieves a single tenant node by path
func (s *Store) Get(ctx context.Context, path Path) (*Node, error) {
	if node, ok := s.cache.Get(string(path)); ok {
		return node, nil
	}

	query := `SELECT path, name, created_at, updated_at FROM tenants WHERE path = $1`

	var node Node
	var raw string
	err := s.db.QueryRowContext(ctx, query, string(path)).Scan(&raw, &node.Name, &node.CreatedAt, &node.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	node.Path = Path(raw)

	s.cache.Add(string(path), &node)
	return &node, nil
}

// Rename updates the display name of a tenant. The path never changes.
func (s *Store) Rename(ctx context.Context, path Path, name string) error {
	query := `UPDATE tenants SET name = $1, updated_at = $2 WHERE path = $3`
	res, err := s.db.ExecContext(ctx, query, name, time.Now().UTC(), string(path))
	if err != nil {
		return fmt.Errorf("failed to rename tenant: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rename result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	s.cache.Remove(string(path))
	return nil
}

// List returns all tenant nodes ordered by path
func (s *Store) List(ctx context.Context) ([]*Node, error) {
	query := `SELECT path, name, created_at, updated_at FROM tenants ORDER BY path`
	return s.queryNodes(ctx, query)
}

// Subtree returns the node at root plus all of its descendants,
// ordered by path.
func (s *Store) Subtree(ctx context.Context, root Path) ([]*Node, error) {
	query := `SELECT path, name, created_at, updated_at FROM tenants WHERE path = $1 OR path LIKE $2 ORDER BY path`
	return s.queryNodes(ctx, query, string(root), string(root)+".%")
}

// Ancestors returns every ancestor of path from root downward,
// excluding path itself. Missing ancestors are skipped.
func (s *Store) Ancestors(ctx context.Context, path Path) ([]*Node, error) {
	var nodes []*Node
	current := path
	for {
		parent, ok := current.Parent()
		if !ok {
			break
		}
		node, err := s.Get(ctx, parent)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if node != nil {
			nodes = append([]*Node{node}, nodes...)
		}
		current = parent
	}
	return nodes, nil
}

func (s *Store) queryNodes(ctx context.Context, query string, args ...interface{}) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	nodes := make([]*Node, 0)
	for rows.Next() {
		var node Node
		var raw string
		if err := rows.Scan(&raw, &node.Name, &node.CreatedAt, &node.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		node.Path = Path(raw)
		nodes = append(nodes, &node)
	}

	return nodes, rows.Err()
}

// isUniqueViolation detects duplicate-key failures across the drivers
// used in production (lib/pq) and tests (sqlite).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
