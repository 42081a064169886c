package tenant

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store, db
}

func TestStore_CreateAndGet(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	root := &Node{Path: "acme", Name: "Acme Corp"}
	require.NoError(t, store.Create(ctx, root))
	assert.False(t, root.CreatedAt.IsZero())

	got, err := store.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)

	// Second read comes from cache
	cached, err := store.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Same(t, got, cached)
}

func TestStore_CreateRequiresParent(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	err := store.Create(ctx, &Node{Path: "acme.emea", Name: "EMEA"})
	assert.ErrorIs(t, err, ErrParentMissing)

	require.NoError(t, store.Create(ctx, &Node{Path: "acme", Name: "Acme"}))
	require.NoError(t, store.Create(ctx, &Node{Path: "acme.emea", Name: "EMEA"}))
}

func TestStore_CreateDuplicate(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Node{Path: "acme", Name: "Acme"}))
	err := store.Create(ctx, &Node{Path: "acme", Name: "Again"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestStore_CreateInvalidPath(t *testing.T) {
	store, _ := setupTestStore(t)
	err := store.Create(context.Background(), &Node{Path: "acme..emea", Name: "Bad"})
	assert.Error(t, err)
}

func TestStore_Rename(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Node{Path: "acme", Name: "Acme"}))
	require.NoError(t, store.Rename(ctx, "acme", "Acme Holdings"))

	got, err := store.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Holdings", got.Name)

	assert.ErrorIs(t, store.Rename(ctx, "nope", "x"), ErrNotFound)
}

func TestStore_Subtree(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	for _, n := range []*Node{
		{Path: "acme", Name: "Acme"},
		{Path: "acme.emea", Name: "EMEA"},
		{Path: "acme.emea.fr", Name: "France"},
		{Path: "acme.apac", Name: "APAC"},
	} {
		require.NoError(t, store.Create(ctx, n))
	}
	// A path that is a string prefix but not a descendant
	require.NoError(t, store.Create(ctx, &Node{Path: "acme2", Name: "Other"}))

	nodes, err := store.Subtree(ctx, "acme.emea")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, Path("acme.emea"), nodes[0].Path)
	assert.Equal(t, Path("acme.emea.fr"), nodes[1].Path)

	all, err := store.Subtree(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, all, 4, "acme2 must not leak into acme's subtree")
}

func TestStore_Ancestors(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	for _, n := range []*Node{
		{Path: "acme", Name: "Acme"},
		{Path: "acme.emea", Name: "EMEA"},
		{Path: "acme.emea.fr", Name: "France"},
	} {
		require.NoError(t, store.Create(ctx, n))
	}

	ancestors, err := store.Ancestors(ctx, "acme.emea.fr")
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	assert.Equal(t, Path("acme"), ancestors[0].Path)
	assert.Equal(t, Path("acme.emea"), ancestors[1].Path)
}

func TestStore_List(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	nodes, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	require.NoError(t, store.Create(ctx, &Node{Path: "acme", Name: "Acme"}))
	nodes, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}
