package categories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/catalog-sync/internal/config"
	"github.com/cyderes/catalog-sync/internal/logger"
	"github.com/cyderes/catalog-sync/internal/models"
	"github.com/cyderes/catalog-sync/internal/storage"
)

func product(id string, refs ...map[string]interface{}) models.Record {
	cats := make([]interface{}, 0, len(refs))
	for _, r := range refs {
		cats = append(cats, r)
	}
	return models.Record{"id": id, "name": "product " + id, "categories": cats}
}

func ref(id interface{}, name, uri string) map[string]interface{} {
	return map[string]interface{}{"categoryId": id, "name": name, "uri": uri}
}

func category(id string, categoryID int, name, uri string) models.Record {
	return models.Record{
		"id":           id,
		"categoryId":   float64(categoryID),
		"categoryName": name,
		"categoryUri":  uri,
	}
}

func newStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := storage.NewStorage(context.Background(), config.StorageConfig{Type: "json", DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestExtract_DedupesByURI(t *testing.T) {
	got := Extract([]models.Record{
		product("p1", ref(3.0, "Phones", "mobile"), ref(847.0, "Apple", "mobile/apple")),
		product("p2", ref(3.0, "Phones", " mobile "), ref(12.0, "Samsung", "mobile/samsung")),
	})

	assert.Equal(t, []models.CategoryCandidate{
		{CategoryID: 847, CategoryName: "Apple", CategoryURI: "mobile/apple"},
		{CategoryID: 3, CategoryName: "Phones", CategoryURI: "mobile"},
		{CategoryID: 12, CategoryName: "Samsung", CategoryURI: "mobile/samsung"},
	}, got)
}

func TestExtract_PrefersCompleteInfo(t *testing.T) {
	got := Extract([]models.Record{
		product("p1", ref(0.0, "", "tablet")),
		product("p2", ref(0.0, "Tablets", "tablet")),
		product("p3", ref("55", "Other name", "tablet")),
	})

	require.Len(t, got, 1)
	assert.Equal(t, models.CategoryCandidate{CategoryID: 55, CategoryName: "Tablets", CategoryURI: "tablet"}, got[0])
}

func TestExtract_HashesMissingIDs(t *testing.T) {
	got := Extract([]models.Record{product("p1", ref(nil, "Watches", "watch"))})

	require.Len(t, got, 1)
	assert.Equal(t, HashID("watch"), got[0].CategoryID)
	assert.Positive(t, got[0].CategoryID)

	again := Extract([]models.Record{product("p9", ref(nil, "Watches", "watch"))})
	assert.Equal(t, got, again, "hash ids are deterministic")
}

func TestExtract_IgnoresBadEntries(t *testing.T) {
	got := Extract([]models.Record{
		{"id": "no-categories"},
		{"id": "wrong-type", "categories": "mobile"},
		product("p1", ref(1.0, "No URI", ""), ref(2.0, "Blank URI", "   ")),
		{"id": "mixed", "categories": []interface{}{"mobile", 42, ref(7.0, "Ok", "ok")}},
	})

	assert.Equal(t, []models.CategoryCandidate{{CategoryID: 7, CategoryName: "Ok", CategoryURI: "ok"}}, got)
}

func TestExtract_Empty(t *testing.T) {
	assert.Empty(t, Extract(nil))
	assert.NotNil(t, Extract(nil))
}

func TestHashID(t *testing.T) {
	assert.Equal(t, HashID("mobile/apple"), HashID("mobile/apple"))
	assert.NotEqual(t, HashID("mobile/apple"), HashID("mobile/samsung"))
	for _, uri := range []string{"", "a", "mobile", "laptop/gaming"} {
		assert.Positive(t, HashID(uri))
	}
}

func TestDiff_Convergence(t *testing.T) {
	existing := []models.Record{
		category("a", 1, "A", "a"),
		category("b", 2, "B", "b"),
		category("c", 3, "C", "c"),
	}
	candidates := []models.CategoryCandidate{
		{CategoryID: 2, CategoryName: "B", CategoryURI: "b"},
		{CategoryID: 3, CategoryName: "C renamed", CategoryURI: "c"},
		{CategoryID: 4, CategoryName: "D", CategoryURI: "d"},
	}

	plan := Diff(candidates, existing)

	assert.Equal(t, []models.CategoryCandidate{candidates[2]}, plan.Create)
	assert.Equal(t, []Change{{ID: "c", Candidate: candidates[1]}}, plan.Update)
	assert.Equal(t, []string{"a"}, plan.Delete)
}

func TestDiff_IDChangeIsUpdate(t *testing.T) {
	plan := Diff(
		[]models.CategoryCandidate{{CategoryID: 99, CategoryName: "B", CategoryURI: "b"}},
		[]models.Record{category("b", 2, "B", "b")},
	)
	assert.Empty(t, plan.Create)
	assert.Empty(t, plan.Delete)
	assert.Equal(t, []Change{{ID: "b", Candidate: models.CategoryCandidate{CategoryID: 99, CategoryName: "B", CategoryURI: "b"}}}, plan.Update)
}

func TestDiff_NoChanges(t *testing.T) {
	plan := Diff(
		[]models.CategoryCandidate{{CategoryID: 2, CategoryName: "B", CategoryURI: "b"}},
		[]models.Record{category("b", 2, "B", "b")},
	)
	assert.True(t, plan.Empty())
}

func TestDiff_DuplicateAndInvalidStoredRows(t *testing.T) {
	plan := Diff(
		[]models.CategoryCandidate{{CategoryID: 2, CategoryName: "B", CategoryURI: "b"}},
		[]models.Record{
			category("b1", 2, "B", "b"),
			category("b2", 2, "B", "b"),
			{"id": "no-uri", "categoryName": "Orphan"},
		},
	)
	assert.Empty(t, plan.Create)
	assert.Empty(t, plan.Update)
	assert.Equal(t, []string{"b2", "no-uri"}, plan.Delete)
}

func TestDiff_EmptyCandidatesDeletesAll(t *testing.T) {
	plan := Diff(nil, []models.Record{category("a", 1, "A", "a"), category("b", 2, "B", "b")})
	assert.Equal(t, []string{"a", "b"}, plan.Delete)
}

func newTestReconciler(coll storage.Collection) *Reconciler {
	r := NewReconciler(coll, logger.Discard())
	r.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestReconciler_Convergence(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	coll := store.Collection(storage.CategoriesCollection)

	for _, rec := range []models.Record{
		category("a", 1, "A", "a"),
		category("b", 2, "B", "b"),
		category("c", 3, "C", "c"),
	} {
		_, err := coll.Create(ctx, rec)
		require.NoError(t, err)
	}

	candidates := []models.CategoryCandidate{
		{CategoryID: 2, CategoryName: "B", CategoryURI: "b"},
		{CategoryID: 3, CategoryName: "C renamed", CategoryURI: "c"},
		{CategoryID: 4, CategoryName: "D", CategoryURI: "d"},
	}

	result, err := newTestReconciler(coll).Reconcile(ctx, candidates)
	require.NoError(t, err)
	assert.Equal(t, models.ReconcileResult{Created: 1, Updated: 1, Deleted: 1}, result)

	recs, err := coll.List(ctx)
	require.NoError(t, err)
	byURI := make(map[string]models.Category)
	for _, rec := range recs {
		var c models.Category
		require.NoError(t, rec.Decode(&c))
		byURI[c.CategoryURI] = c
	}
	require.Len(t, byURI, 3)
	assert.NotContains(t, byURI, "a")
	assert.Equal(t, "B", byURI["b"].CategoryName)
	assert.Equal(t, "C renamed", byURI["c"].CategoryName)
	assert.Equal(t, "c", byURI["c"].ID)
	assert.Equal(t, "2024-05-01T12:00:00Z", byURI["c"].UpdatedAt)
	assert.Equal(t, 4, byURI["d"].CategoryID)
	assert.NotEmpty(t, byURI["d"].ID)
	assert.Equal(t, "2024-05-01T12:00:00Z", byURI["d"].CreatedAt)

	again, err := newTestReconciler(coll).Reconcile(ctx, candidates)
	require.NoError(t, err)
	assert.Equal(t, models.ReconcileResult{}, again)
}

// failingCollection wraps a collection and fails every Delete.
type failingCollection struct {
	storage.Collection
}

func (f failingCollection) Delete(context.Context, string) (bool, error) {
	return false, errors.New("disk full")
}

func TestReconciler_StoreErrorReturnsPartialCounts(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	coll := store.Collection(storage.CategoriesCollection)
	_, err := coll.Create(ctx, category("old", 1, "Old", "old"))
	require.NoError(t, err)

	result, err := newTestReconciler(failingCollection{coll}).Reconcile(ctx, []models.CategoryCandidate{
		{CategoryID: 2, CategoryName: "New", CategoryURI: "new"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, models.ReconcileResult{Created: 1}, result)

	// A later healthy pass finishes the job.
	result, err = newTestReconciler(coll).Reconcile(ctx, []models.CategoryCandidate{
		{CategoryID: 2, CategoryName: "New", CategoryURI: "new"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReconcileResult{Deleted: 1}, result)
}

func TestService_Sync(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	products := store.Collection(storage.ProductsCollection)
	categories := store.Collection(storage.CategoriesCollection)

	_, err := products.Create(ctx, product("p1", ref(3.0, "Phones", "mobile"), ref(847.0, "Apple", "mobile/apple")))
	require.NoError(t, err)
	_, err = products.Create(ctx, product("p2", ref(3.0, "Phones", "mobile")))
	require.NoError(t, err)

	service := NewService(store, logger.Discard())

	result, err := service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ReconcileResult{Created: 2}, result)

	recs, err := categories.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	// Removing the only Apple product drops its category.
	_, err = products.Delete(ctx, "p1")
	require.NoError(t, err)

	result, err = service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ReconcileResult{Deleted: 1}, result)

	// No products at all empties the index.
	_, err = products.Delete(ctx, "p2")
	require.NoError(t, err)

	result, err = service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ReconcileResult{Deleted: 1}, result)

	recs, err = categories.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestList_SortedByName(t *testing.T) {
	ctx := context.Background()
	coll := newStore(t).Collection(storage.CategoriesCollection)
	for _, rec := range []models.Record{
		{"id": "1", "categoryId": 3, "categoryName": "Phones", "categoryUri": "mobile"},
		{"id": "2", "categoryId": 847, "categoryName": "Apple", "categoryUri": "mobile/apple"},
		{"id": "3", "categoryId": 9, "categoryName": "Phones", "categoryUri": "dien-thoai"},
	} {
		_, err := coll.Create(ctx, rec)
		require.NoError(t, err)
	}

	recs, err := List(ctx, coll)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "2", recs[0].ID())
	assert.Equal(t, "3", recs[1].ID())
	assert.Equal(t, "1", recs[2].ID())
}

func TestGetByURI(t *testing.T) {
	ctx := context.Background()
	coll := newStore(t).Collection(storage.CategoriesCollection)
	_, err := coll.Create(ctx, models.Record{"id": "1", "categoryId": 847, "categoryName": "Apple", "categoryUri": "mobile/apple"})
	require.NoError(t, err)

	rec, err := GetByURI(ctx, coll, " mobile/apple ")
	require.NoError(t, err)
	assert.Equal(t, "Apple", rec.String("categoryName"))

	_, err = GetByURI(ctx, coll, "mobile/samsung")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = GetByURI(ctx, coll, "  ")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
