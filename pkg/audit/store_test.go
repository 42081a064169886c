package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/httputil"
	"github.com/latticehq/lattice/pkg/tenant"
)

func insertTrail(t *testing.T, store *Store, trail Trail) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.InsertTrailsTx(ctx, tx, []Trail{trail}))
	require.NoError(t, tx.Commit())
}

func TestStore_ListTrails_Filters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	userA := uuid.New()
	userB := uuid.New()
	emea := tenant.Path("acme.emea")
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	insertTrail(t, store, Trail{
		ID: uuid.New(), Type: TrailTypeCreate, EntityName: "roles", PrimaryKey: "r1",
		UserID: &userA, TenantPath: &emea, DateUTC: base,
	})
	insertTrail(t, store, Trail{
		ID: uuid.New(), Type: TrailTypeUpdate, EntityName: "roles", PrimaryKey: "r1",
		UserID: &userB, DateUTC: base.Add(time.Hour),
	})
	insertTrail(t, store, Trail{
		ID: uuid.New(), Type: TrailTypeDelete, EntityName: "grants", PrimaryKey: "g1",
		UserID: &userA, DateUTC: base.Add(2 * time.Hour),
	})

	page := httputil.PageParams{Page: 1, PageSize: 10}

	trails, total, err := store.ListTrails(ctx, TrailFilter{EntityName: "roles"}, page)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, trails, 2)
	// Newest first
	assert.Equal(t, TrailTypeUpdate, trails[0].Type)

	trails, total, err = store.ListTrails(ctx, TrailFilter{UserID: &userA}, page)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	trails, total, err = store.ListTrails(ctx, TrailFilter{TenantPath: &emea}, page)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	from := base.Add(30 * time.Minute)
	to := base.Add(90 * time.Minute)
	trails, total, err = store.ListTrails(ctx, TrailFilter{From: &from, To: &to}, page)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, TrailTypeUpdate, trails[0].Type)
}

func TestStore_ListTrails_Pagination(t *testing.T) {
	store := setupTestStore(t)

	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		insertTrail(t, store, Trail{
			ID: uuid.New(), Type: TrailTypeCreate, EntityName: "roles",
			PrimaryKey: "r1", DateUTC: base.Add(time.Duration(i) * time.Minute),
		})
	}

	trails, total, err := store.ListTrails(context.Background(), TrailFilter{}, httputil.PageParams{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, trails, 2)
}

func TestStore_ListTrails_Sorting(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	insertTrail(t, store, Trail{ID: uuid.New(), Type: TrailTypeCreate, EntityName: "roles", PrimaryKey: "r1", DateUTC: base})
	insertTrail(t, store, Trail{ID: uuid.New(), Type: TrailTypeUpdate, EntityName: "grants", PrimaryKey: "g1", DateUTC: base.Add(time.Hour)})

	trails, _, err := store.ListTrails(ctx, TrailFilter{}, httputil.PageParams{Page: 1, PageSize: 10, SortDesc: true})
	require.NoError(t, err)
	require.Len(t, trails, 2)
	assert.Equal(t, "grants", trails[0].EntityName)

	trails, _, err = store.ListTrails(ctx, TrailFilter{}, httputil.PageParams{Page: 1, PageSize: 10, SortBy: "date_utc"})
	require.NoError(t, err)
	assert.Equal(t, "roles", trails[0].EntityName)

	trails, _, err = store.ListTrails(ctx, TrailFilter{}, httputil.PageParams{Page: 1, PageSize: 10, SortBy: "entity_name"})
	require.NoError(t, err)
	assert.Equal(t, "grants", trails[0].EntityName)

	// A column outside the allow-list never reaches the query
	trails, _, err = store.ListTrails(ctx, TrailFilter{}, httputil.PageParams{Page: 1, PageSize: 10, SortBy: "1; DROP TABLE audit_trails", SortDesc: true})
	require.NoError(t, err)
	assert.Equal(t, "grants", trails[0].EntityName)
}

func TestStore_ListRequests_Sorting(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertRequest(ctx, &Request{ID: uuid.New(), Method: "GET", Path: "/a", StatusCode: 500, DateUTC: base}))
	require.NoError(t, store.InsertRequest(ctx, &Request{ID: uuid.New(), Method: "GET", Path: "/b", StatusCode: 201, DateUTC: base.Add(time.Minute)}))

	got, _, err := store.ListRequests(ctx, RequestFilter{}, httputil.PageParams{Page: 1, PageSize: 10, SortBy: "status_code"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 201, got[0].StatusCode)

	got, _, err = store.ListRequests(ctx, RequestFilter{}, httputil.PageParams{Page: 1, PageSize: 10, SortBy: "status_code", SortDesc: true})
	require.NoError(t, err)
	assert.Equal(t, 500, got[0].StatusCode)
}

func TestStore_ListRequests_Filters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	userID := uuid.New()
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	records := []*Request{
		{ID: uuid.New(), Method: "GET", Path: "/tenants/acme", StatusCode: 200, UserID: &userID, DateUTC: base},
		{ID: uuid.New(), Method: "POST", Path: "/admin/roles", StatusCode: 201, DateUTC: base.Add(time.Minute)},
		{ID: uuid.New(), Method: "GET", Path: "/admin/grants", StatusCode: 500, DateUTC: base.Add(2 * time.Minute)},
	}
	for _, r := range records {
		require.NoError(t, store.InsertRequest(ctx, r))
	}

	page := httputil.PageParams{Page: 1, PageSize: 10}

	_, total, err := store.ListRequests(ctx, RequestFilter{Method: "GET"}, page)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	got, total, err := store.ListRequests(ctx, RequestFilter{PathPrefix: "/admin"}, page)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	// Newest first
	assert.Equal(t, "/admin/grants", got[0].Path)

	_, total, err = store.ListRequests(ctx, RequestFilter{MinStatus: 500}, page)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	_, total, err = store.ListRequests(ctx, RequestFilter{UserID: &userID}, page)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestStore_DeleteOlderThan(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	insertTrail(t, store, Trail{ID: uuid.New(), Type: TrailTypeCreate, EntityName: "roles", PrimaryKey: "old", DateUTC: base})
	insertTrail(t, store, Trail{ID: uuid.New(), Type: TrailTypeCreate, EntityName: "roles", PrimaryKey: "new", DateUTC: base.Add(48 * time.Hour)})
	require.NoError(t, store.InsertRequest(ctx, &Request{ID: uuid.New(), Method: "GET", Path: "/x", StatusCode: 200, DateUTC: base}))

	trails, requests, err := store.DeleteOlderThan(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), trails)
	assert.Equal(t, int64(1), requests)

	remaining := allTrails(t, store)
	require.Len(t, remaining, 1)
	assert.Equal(t, "new", remaining[0].PrimaryKey)
}
