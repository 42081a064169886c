package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/lattice/pkg/tenant"
)

// ErrUserNotFound is returned when a user row does not exist
var ErrUserNotFound = errors.New("user not found")

// ErrTenantNotGranted is returned when a user tries to select a tenant
// they hold no active grant under.
var ErrTenantNotGranted = errors.New("user has no active grant under tenant")

// User is the locally provisioned profile for an identity-provider
// subject. Rows are created lazily on first authenticated access.
type User struct {
	ID                     uuid.UUID    `json:"id"`
	Email                  string       `json:"email"`
	GivenName              string       `json:"given_name"`
	Surname                string       `json:"surname"`
	LanguageCode           string       `json:"language_code"`
	DarkMode               bool         `json:"dark_mode"`
	LastSelectedTenantPath *tenant.Path `json:"last_selected_tenant_path,omitempty"`
	CreatedAt              time.Time    `json:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at"`
}

// GrantChecker reports whether a user holds any currently valid grant
// covering the given tenant path. Implemented by the authz store;
// injected here to validate tenant selection without an import cycle.
type GrantChecker interface {
	HasActiveGrantUnder(ctx context.Context, userID uuid.UUID, path tenant.Path, asOf time.Time) (bool, error)
}

// DefaultLanguageCode is applied to newly provisioned users
const DefaultLanguageCode = "en"

// UserStore handles user profile persistence
type UserStore struct {
	db     *sql.DB
	grants GrantChecker
}

// NewUserStore creates a user store. grants may be nil, in which case
// tenant selection is not validated (tests only).
func NewUserStore(db *sql.DB, grants GrantChecker) *UserStore {
	return &UserStore{db: db, grants: grants}
}

// EnsureSchema creates the users table if missing
func (s *UserStore) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(36) PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		given_name VARCHAR(100) NOT NULL,
		surname VARCHAR(100) NOT NULL,
		language_code VARCHAR(5) NOT NULL DEFAULT 'en',
		dark_mode BOOLEAN NOT NULL DEFAULT FALSE,
		last_selected_tenant_path VARCHAR(512),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure users table: %w", err)
	}
	return nil
}

// EnsureUser inserts the user row if it does not exist yet. Existing
// rows are left untouched; profile fields are owned by the identity
// provider only at provisioning time.
func (s *UserStore) EnsureUser(ctx context.Context, user *User) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO users (id, email, given_name, surname, language_code, dark_mode, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID.String(), user.Email, user.GivenName, user.Surname, DefaultLanguageCode, now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

// Get retrieves a user by id
func (s *UserStore) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `
		SELECT id, email, given_name, surname, language_code, dark_mode, last_selected_tenant_path, created_at, updated_at
		FROM users WHERE id = $1
	`

	var user User
	var rawID string
	var lastTenant sql.NullString
	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(
		&rawID, &user.Email, &user.GivenName, &user.Surname,
		&user.LanguageCode, &user.DarkMode, &lastTenant,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user id: %w", err)
	}
	if lastTenant.Valid {
		path := tenant.Path(lastTenant.String)
		user.LastSelectedTenantPath = &path
	}

	return &user, nil
}

// UpdateLanguage sets the user's language preference
func (s *UserStore) UpdateLanguage(ctx context.Context, id uuid.UUID, languageCode string) error {
	if len(languageCode) < 2 || len(languageCode) > 5 {
		return fmt.Errorf("invalid language code: %q", languageCode)
	}
	return s.update(ctx, id, `UPDATE users SET language_code = $1, updated_at = $2 WHERE id = $3`, languageCode)
}

// UpdateDarkMode sets the user's dark-mode preference
func (s *UserStore) UpdateDarkMode(ctx context.Context, id uuid.UUID, darkMode bool) error {
	return s.update(ctx, id, `UPDATE users SET dark_mode = $1, updated_at = $2 WHERE id = $3`, darkMode)
}

// UpdateLastSelectedTenant records the tenant the user last worked in.
// The path must be covered by at least one of the user's currently
// valid grants.
func (s *UserStore) UpdateLastSelectedTenant(ctx context.Context, id uuid.UUID, path tenant.Path) error {
	if s.grants != nil {
		ok, err := s.grants.HasActiveGrantUnder(ctx, id, path, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to validate tenant selection: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrTenantNotGranted, path)
		}
	}
	return s.update(ctx, id, `UPDATE users SET last_selected_tenant_path = $1, updated_at = $2 WHERE id = $3`, string(path))
}

func (s *UserStore) update(ctx context.Context, id uuid.UUID, query string, value interface{}) error {
	res, err := s.db.ExecContext(ctx, query, value, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return nil
}
