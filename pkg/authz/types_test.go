package authz

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGrant_Defaults(t *testing.T) {
	before := time.Now().UTC()
	grant, err := NewGrant(uuid.New(), uuid.New(), "acme", time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.False(t, grant.ValidFrom.Before(before))
	assert.Equal(t, grant.ValidFrom.Add(DefaultGrantDuration), grant.ValidTo)
	assert.NotEqual(t, uuid.Nil, grant.ID)
}

func TestNewGrant_RejectsInvertedWindow(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := NewGrant(uuid.New(), uuid.New(), "acme", from, from.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidWindow)

	// An empty window is rejected too
	_, err = NewGrant(uuid.New(), uuid.New(), "acme", from, from)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestGrant_ActiveAt_ClosedInterval(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	grant, err := NewGrant(uuid.New(), uuid.New(), "acme", from, to)
	require.NoError(t, err)

	assert.True(t, grant.ActiveAt(from), "active at exactly valid_from")
	assert.True(t, grant.ActiveAt(to), "active at exactly valid_to")
	assert.True(t, grant.ActiveAt(from.Add(time.Hour)))

	assert.False(t, grant.ActiveAt(from.Add(-time.Nanosecond)))
	assert.False(t, grant.ActiveAt(to.Add(time.Nanosecond)))
}

func TestGrant_Covers(t *testing.T) {
	grant, err := NewGrant(uuid.New(), uuid.New(), "acme.emea", time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.True(t, grant.Covers("acme.emea"))
	assert.True(t, grant.Covers("acme.emea.fr"))
	assert.False(t, grant.Covers("acme"))
	assert.False(t, grant.Covers("acme.apac"))
}

func TestGrant_ExtendTo(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	grant, err := NewGrant(uuid.New(), uuid.New(), "acme", from, from.Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, grant.ExtendTo(from.Add(48*time.Hour)))
	assert.Equal(t, from.Add(48*time.Hour), grant.ValidTo)

	assert.ErrorIs(t, grant.ExtendTo(from), ErrInvalidWindow)
}

func TestRole_HasFeature(t *testing.T) {
	role := &Role{Name: "auditor", Features: []Feature{"audit.read", "tenants.read"}}
	assert.True(t, role.HasFeature("audit.read"))
	assert.False(t, role.HasFeature("audit.write"))
}
