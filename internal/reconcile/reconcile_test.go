package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
	"github.com/JakeFAU/tracker-mirror/internal/storage/memory"
)

var dramaPath = catalog.CategoryPath{
	{ID: 0, Kind: catalog.KindRoot, Title: "Tracker"},
	{ID: 5, Kind: catalog.KindCategory, Title: "Movies"},
	{ID: 12, Kind: catalog.KindForum, Title: "Drama"},
}

func TestReconcileCreatesMissingPrefixesDeepestFirst(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	rec := New(store, zap.NewNop())

	res, err := rec.Reconcile(context.Background(), dramaPath)
	require.NoError(t, err)
	require.Equal(t, 2, res.Created)
	require.Len(t, res.Categories, 2)
	require.Equal(t, "r0/c5/f12", res.Categories[0].Key.String())
	require.Equal(t, "Drama", res.Categories[0].Title)
	require.Equal(t, "r0/c5", res.Categories[1].Key.String())
	require.Equal(t, "Movies", res.Categories[1].Title)
	for _, cat := range res.Categories {
		require.True(t, cat.Dirty)
	}
}

func TestReconcileStopsAtExistingPrefix(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	ctx := context.Background()
	movies, err := catalog.ParseCategoryKey("r0/c5")
	require.NoError(t, err)
	require.NoError(t, store.PutMulti(ctx, catalog.WriteSet{
		Categories: []catalog.Category{{Key: movies, Title: "Movies"}},
	}))

	res, err := New(store, nil).Reconcile(ctx, dramaPath)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)
	require.Len(t, res.Categories, 1)
	require.Equal(t, "r0/c5/f12", res.Categories[0].Key.String())
}

func TestReconcileWithoutRootSegment(t *testing.T) {
	t.Parallel()

	res, err := New(memory.NewCatalogStore(), nil).Reconcile(context.Background(), catalog.CategoryPath{
		{ID: 5, Kind: catalog.KindCategory, Title: "Movies"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)
	require.Equal(t, "r0/c5", res.Categories[0].Key.String())
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	ctx := context.Background()
	rec := New(store, zap.NewNop())

	first, err := rec.Reconcile(ctx, dramaPath)
	require.NoError(t, err)
	require.NoError(t, store.PutMulti(ctx, catalog.WriteSet{Categories: first.Categories}))

	before, err := store.AllCategories(ctx)
	require.NoError(t, err)

	second, err := rec.Reconcile(ctx, dramaPath)
	require.NoError(t, err)
	require.Zero(t, second.Created)
	require.Empty(t, second.Categories)

	after, err := store.AllCategories(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestReconcileMarksCleanLeafDirtyOnce(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	ctx := context.Background()
	leaf := dramaPath.Key()
	require.NoError(t, store.PutMulti(ctx, catalog.WriteSet{
		Categories: []catalog.Category{{Key: leaf, Title: "Drama"}},
	}))
	rec := New(store, nil)

	res, err := rec.Reconcile(ctx, dramaPath)
	require.NoError(t, err)
	require.Zero(t, res.Created)
	require.Len(t, res.Categories, 1)
	require.True(t, res.Categories[0].Dirty)
	require.NoError(t, store.PutMulti(ctx, catalog.WriteSet{Categories: res.Categories}))

	res, err = rec.Reconcile(ctx, dramaPath)
	require.NoError(t, err)
	require.Empty(t, res.Categories)
}

func TestReconcileRootPathWritesNothing(t *testing.T) {
	t.Parallel()

	res, err := New(memory.NewCatalogStore(), nil).Reconcile(context.Background(), catalog.CategoryPath{
		{ID: 0, Kind: catalog.KindRoot, Title: "Tracker"},
	})
	require.NoError(t, err)
	require.Empty(t, res.Categories)
}

type failingStore struct {
	*memory.CatalogStore
}

func (failingStore) GetCategory(context.Context, catalog.CategoryKey) (catalog.Category, error) {
	return catalog.Category{}, errors.New("datastore unavailable")
}

func TestReconcileSurfacesStoreErrors(t *testing.T) {
	t.Parallel()

	_, err := New(failingStore{memory.NewCatalogStore()}, nil).Reconcile(context.Background(), dramaPath)
	require.ErrorContains(t, err, "datastore unavailable")
}
