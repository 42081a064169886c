package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/tenant"
)

func TestCurrentUser_UserID(t *testing.T) {
	userID := uuid.New()
	current := NewCurrentUser(Claims{ClaimSubject: userID.String()}, "")

	got, err := current.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	// Cached on second access
	again, err := current.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, again)
}

func TestCurrentUser_MissingClaims(t *testing.T) {
	current := NewCurrentUser(Claims{ClaimSubject: uuid.NewString()}, "")

	_, err := current.Email()
	assert.ErrorIs(t, err, ErrClaimMissing)
	_, err = current.GivenName()
	assert.ErrorIs(t, err, ErrClaimMissing)

	// Empty string counts as missing
	current = NewCurrentUser(Claims{ClaimEmail: ""}, "")
	_, err = current.Email()
	assert.ErrorIs(t, err, ErrClaimMissing)
}

func TestCurrentUser_InvalidSubject(t *testing.T) {
	current := NewCurrentUser(Claims{ClaimSubject: "not-a-uuid"}, "")
	_, err := current.UserID()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrClaimMissing)
}

func TestAnonymous(t *testing.T) {
	current := Anonymous()
	assert.False(t, current.IsAuthenticated())

	_, err := current.UserID()
	assert.ErrorIs(t, err, ErrClaimMissing)

	_, ok := current.SelectedTenantPath()
	assert.False(t, ok)
	assert.Empty(t, current.PlatformRoles())
}

func TestCurrentUser_SelectedTenantPath(t *testing.T) {
	// Claim wins over header
	current := NewCurrentUser(Claims{ClaimTenantPath: "acme.emea"}, "acme.apac")
	path, ok := current.SelectedTenantPath()
	require.True(t, ok)
	assert.Equal(t, tenant.Path("acme.emea"), path)

	// Header is the fallback
	current = NewCurrentUser(Claims{}, "acme.apac")
	path, ok = current.SelectedTenantPath()
	require.True(t, ok)
	assert.Equal(t, tenant.Path("acme.apac"), path)

	// Neither source
	_, ok = NewCurrentUser(Claims{}, "").SelectedTenantPath()
	assert.False(t, ok)

	// A malformed claim falls through to the header
	current = NewCurrentUser(Claims{ClaimTenantPath: "bad..path"}, "acme")
	path, ok = current.SelectedTenantPath()
	require.True(t, ok)
	assert.Equal(t, tenant.Path("acme"), path)
}

func TestCurrentUser_PlatformRoles(t *testing.T) {
	// JSON decoding yields []interface{}
	current := NewCurrentUser(Claims{
		ClaimPlatformRoles: []interface{}{"platform-admin", "support"},
	}, "")
	assert.Equal(t, []string{"platform-admin", "support"}, current.PlatformRoles())
	assert.True(t, current.HasPlatformRole("platform-admin"))
	assert.False(t, current.HasPlatformRole("auditor"))

	// Typed slices work too
	current = NewCurrentUser(Claims{ClaimPlatformRoles: []string{"support"}}, "")
	assert.True(t, current.HasPlatformRole("support"))

	// Non-string entries are dropped, not fatal
	current = NewCurrentUser(Claims{ClaimPlatformRoles: []interface{}{"support", 42}}, "")
	assert.Equal(t, []string{"support"}, current.PlatformRoles())

	assert.Empty(t, NewCurrentUser(Claims{}, "").PlatformRoles())
}

func TestCurrentUser_Impersonation(t *testing.T) {
	adminID := uuid.New()
	current := NewCurrentUser(Claims{
		ClaimSubject:        uuid.NewString(),
		ClaimImpersonatorID: adminID.String(),
	}, "")

	assert.True(t, current.IsImpersonated())
	by, err := current.ImpersonatedBy()
	require.NoError(t, err)
	require.NotNil(t, by)
	assert.Equal(t, adminID, *by)

	plain := NewCurrentUser(Claims{ClaimSubject: uuid.NewString()}, "")
	assert.False(t, plain.IsImpersonated())
	by, err = plain.ImpersonatedBy()
	require.NoError(t, err)
	assert.Nil(t, by)
}
