package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/catalog-sync/internal/config"
	"github.com/cyderes/catalog-sync/internal/logger"
	"github.com/cyderes/catalog-sync/internal/models"
	"github.com/cyderes/catalog-sync/internal/storage"
	"github.com/cyderes/catalog-sync/internal/transform"
)

// MockCollection is a mock implementation of the Collection interface
type MockCollection struct {
	mock.Mock
}

func (m *MockCollection) Name() string {
	return storage.ProductsCollection
}

func (m *MockCollection) List(ctx context.Context) ([]models.Record, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Record), args.Error(1)
}

func (m *MockCollection) Get(ctx context.Context, id string) (models.Record, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(models.Record)
	return rec, args.Error(1)
}

func (m *MockCollection) Create(ctx context.Context, rec models.Record) (models.Record, error) {
	args := m.Called(ctx, rec)
	out, _ := args.Get(0).(models.Record)
	return out, args.Error(1)
}

func (m *MockCollection) Update(ctx context.Context, id string, patch models.Record) (models.Record, error) {
	args := m.Called(ctx, id, patch)
	out, _ := args.Get(0).(models.Record)
	return out, args.Error(1)
}

func (m *MockCollection) Delete(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

// stubFetcher returns a fixed batch and counts its calls.
type stubFetcher struct {
	items []models.RawRecord
	calls int
}

func (f *stubFetcher) Fetch(context.Context) []models.RawRecord {
	f.calls++
	return f.items
}

func testIngestionConfig() config.IngestionConfig {
	return config.IngestionConfig{
		CDNPrefix:        "https://cdn.example.com",
		StockSeed:        100,
		ProgressInterval: 10 * time.Millisecond,
	}
}

func newProductStore(t *testing.T) (storage.Storage, storage.Collection) {
	t.Helper()
	store, err := storage.NewStorage(context.Background(), config.StorageConfig{Type: "json", DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, store.Collection(storage.ProductsCollection)
}

func newTestLoader(coll storage.Collection) *Loader {
	l := NewLoader(coll, testIngestionConfig(), logger.Discard())
	l.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return l
}

func products(names ...string) []models.Product {
	out := make([]models.Product, 0, len(names))
	for i, n := range names {
		out = append(out, models.Product{Name: n, SKU: fmt.Sprintf("SKU-%d", i), Price: float64(100 * (i + 1))})
	}
	return out
}

func TestLoader_CreatesNewProducts(t *testing.T) {
	ctx := context.Background()
	_, coll := newProductStore(t)
	loader := newTestLoader(coll)

	result, err := loader.Load(ctx, products("iPhone 15", "Galaxy S24"))
	require.NoError(t, err)
	assert.Equal(t, models.LoadResult{Created: 2}, result)

	recs, err := coll.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	rec := recs[0]
	assert.NotEmpty(t, rec.ID())
	assert.Equal(t, "iPhone 15", rec.String("name"))
	assert.Equal(t, "SKU-0", rec.String("sku"))
	assert.Equal(t, 100.0, rec["stock"])
	assert.Equal(t, "2024-05-01T12:00:00Z", rec.String("created_at"))
	assert.Equal(t, "2024-05-01T12:00:00Z", rec.String("updated_at"))
	assert.Equal(t, []interface{}{}, rec["images"])
	assert.Equal(t, []interface{}{}, rec["categories"])
	assert.NotEqual(t, recs[0].ID(), recs[1].ID())
}

func TestLoader_Idempotent(t *testing.T) {
	ctx := context.Background()
	_, coll := newProductStore(t)
	loader := newTestLoader(coll)
	batch := products("A", "B", "C")

	first, err := loader.Load(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, models.LoadResult{Created: 3}, first)

	before, err := coll.List(ctx)
	require.NoError(t, err)

	second, err := loader.Load(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, models.LoadResult{Updated: 3}, second)

	after, err := coll.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLoader_PatchKeepsLocalFields(t *testing.T) {
	ctx := context.Background()
	_, coll := newProductStore(t)

	_, err := coll.Create(ctx, models.Record{
		"id":         "local-1",
		"name":       "iPhone 15",
		"stock":      7,
		"created_at": "2023-01-01T00:00:00Z",
		"notes":      "kept by the shop",
	})
	require.NoError(t, err)

	result, err := newTestLoader(coll).Load(ctx, []models.Product{{Name: "  iPhone 15 ", SKU: "NEW", Price: 999}})
	require.NoError(t, err)
	assert.Equal(t, models.LoadResult{Updated: 1}, result)

	rec, err := coll.Get(ctx, "local-1")
	require.NoError(t, err)
	assert.Equal(t, "NEW", rec.String("sku"))
	assert.Equal(t, 999.0, rec["price"])
	assert.Equal(t, 7.0, rec["stock"])
	assert.Equal(t, "2023-01-01T00:00:00Z", rec.String("created_at"))
	assert.Equal(t, "2024-05-01T12:00:00Z", rec.String("updated_at"))
	assert.Equal(t, "kept by the shop", rec.String("notes"))
}

func TestLoader_NaturalKeyCollapse(t *testing.T) {
	ctx := context.Background()
	_, coll := newProductStore(t)

	batch := []models.Product{
		{Name: "Pixel 8", SKU: "first", Price: 1},
		{Name: "Pixel 8", SKU: "second", Price: 2},
	}
	result, err := newTestLoader(coll).Load(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, models.LoadResult{Created: 1, Updated: 1}, result)

	recs, err := coll.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "second", recs[0].String("sku"))
	assert.Equal(t, 2.0, recs[0]["price"])
}

func TestLoader_NormalizedNamesMatch(t *testing.T) {
	ctx := context.Background()
	_, coll := newProductStore(t)

	_, err := coll.Create(ctx, models.Record{"id": "x", "name": "Cafe\u0301 Phone"})
	require.NoError(t, err)

	result, err := newTestLoader(coll).Load(ctx, []models.Product{{Name: "Caf\u00e9 Phone"}})
	require.NoError(t, err)
	assert.Equal(t, models.LoadResult{Updated: 1}, result)
}

func TestLoader_SkipsEmptyNames(t *testing.T) {
	ctx := context.Background()
	_, coll := newProductStore(t)

	result, err := newTestLoader(coll).Load(ctx, products("", "  ", "Real"))
	require.NoError(t, err)
	assert.Equal(t, models.LoadResult{Created: 1, Skipped: 2}, result)

	recs, err := coll.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestLoader_ListError(t *testing.T) {
	coll := new(MockCollection)
	coll.On("List", mock.Anything).Return([]models.Record(nil), assert.AnError)

	result, err := newTestLoader(coll).Load(context.Background(), products("A"))
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, models.LoadResult{}, result)
	coll.AssertExpectations(t)
}

func TestLoader_StoreErrorAbortsPass(t *testing.T) {
	coll := new(MockCollection)
	coll.On("List", mock.Anything).Return([]models.Record{{"id": "a1", "name": "A"}}, nil)
	coll.On("Update", mock.Anything, "a1", mock.Anything).Return(models.Record{"id": "a1"}, nil)
	coll.On("Create", mock.Anything, mock.MatchedBy(func(r models.Record) bool { return r.String("name") == "B" })).
		Return(nil, assert.AnError)

	result, err := newTestLoader(coll).Load(context.Background(), products("A", "B", "C"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create product")
	assert.Equal(t, models.LoadResult{Updated: 1}, result)

	coll.AssertExpectations(t)
	coll.AssertNumberOfCalls(t, "Create", 1)
}

func TestLoader_RecreatesVanishedRecord(t *testing.T) {
	coll := new(MockCollection)
	coll.On("List", mock.Anything).Return([]models.Record{{"id": "gone", "name": "A"}}, nil)
	coll.On("Update", mock.Anything, "gone", mock.Anything).Return(nil, fmt.Errorf("products/gone: %w", storage.ErrNotFound))
	coll.On("Create", mock.Anything, mock.Anything).Return(models.Record{"id": "fresh"}, nil)

	loader := newTestLoader(coll)
	loader.newID = func() string { return "fresh" }

	result, err := loader.Load(context.Background(), products("A"))
	require.NoError(t, err)
	assert.Equal(t, models.LoadResult{Created: 1}, result)

	created := coll.Calls[2].Arguments.Get(1).(models.Record)
	assert.Equal(t, "fresh", created.ID())
	assert.Equal(t, 100, created["stock"])
}

// recordingSink collects published snapshots.
type recordingSink struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (s *recordingSink) Publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
}

func (s *recordingSink) all() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.snapshots...)
}

func TestReporter_PublishesFinalSnapshot(t *testing.T) {
	sink := &recordingSink{}
	reporter := NewReporter(TaskCatalog, 5*time.Millisecond, logger.Discard(), sink)

	p := &Progress{}
	p.total.Store(4)
	stop := reporter.Watch(p)

	p.processed.Add(2)
	p.created.Add(2)
	time.Sleep(30 * time.Millisecond)
	p.processed.Add(2)
	p.updated.Add(1)
	p.skipped.Add(1)
	stop()
	stop()

	snaps := sink.all()
	require.GreaterOrEqual(t, len(snaps), 2)
	for _, s := range snaps[:len(snaps)-1] {
		assert.False(t, s.Done)
		assert.Equal(t, TaskCatalog, s.Task)
	}

	last := snaps[len(snaps)-1]
	assert.True(t, last.Done)
	assert.Equal(t, int64(4), last.Processed)
	assert.Equal(t, int64(2), last.Created)
	assert.Equal(t, int64(1), last.Updated)
	assert.Equal(t, int64(1), last.Skipped)
	assert.Equal(t, 100.0, last.Percent())

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sink.all(), len(snaps), "no snapshots after stop")
}

func TestSnapshot_Percent(t *testing.T) {
	assert.Equal(t, 100.0, Snapshot{}.Percent())
	assert.Equal(t, 25.0, Snapshot{Total: 8, Processed: 2}.Percent())
}

func TestLoader_ReportsToSinks(t *testing.T) {
	_, coll := newProductStore(t)
	sink := &recordingSink{}
	loader := NewLoader(coll, testIngestionConfig(), logger.Discard(), sink)

	_, err := loader.Load(context.Background(), products("A", "", "B"))
	require.NoError(t, err)

	snaps := sink.all()
	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	assert.True(t, last.Done)
	assert.Equal(t, int64(3), last.Total)
	assert.Equal(t, int64(3), last.Processed)
	assert.Equal(t, int64(2), last.Created)
	assert.Equal(t, int64(1), last.Skipped)
}

const rawIPhone = `{"general": {"product_id": 1, "name": "iPhone 15", "sku": "IP15",
	"categories": [{"categoryId": 3, "name": "Phones", "uri": "mobile"}]},
	"filterable": {"price": 100, "thumbnail": "/a.png"}}`

func TestService_IngestData(t *testing.T) {
	ctx := context.Background()
	_, coll := newProductStore(t)
	fetcher := &stubFetcher{items: []models.RawRecord{
		models.RawRecord(rawIPhone),
		models.RawRecord(`{"general": {"name": ""}}`),
	}}

	service := NewService(fetcher, &transform.Transformer{CDNPrefix: "https://cdn.example.com"}, newTestLoader(coll), logger.Discard())

	result, err := service.IngestData(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.LoadResult{Created: 1, Skipped: 1}, result)
	assert.Equal(t, 1, fetcher.calls)

	recs, err := coll.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	var p models.Product
	require.NoError(t, recs[0].Decode(&p))
	assert.Equal(t, "iPhone 15", p.Name)
	assert.Equal(t, "https://cdn.example.com/a.png", p.Avatar)
	assert.Equal(t, 100, p.Stock)
	assert.Equal(t, []models.CategoryRef{{CategoryID: 3, Name: "Phones", URI: "mobile"}}, p.Categories)

	result, err = service.IngestData(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.LoadResult{Updated: 1, Skipped: 1}, result)
}

func TestService_IngestData_EmptySourceLeavesStoreUnchanged(t *testing.T) {
	coll := new(MockCollection)
	service := NewService(&stubFetcher{}, &transform.Transformer{}, newTestLoader(coll), logger.Discard())

	result, err := service.IngestData(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, models.LoadResult{}, result)

	// No store call of any kind was made.
	coll.AssertExpectations(t)
	assert.Empty(t, coll.Calls)
}

func TestService_IngestData_StorageError(t *testing.T) {
	coll := new(MockCollection)
	coll.On("List", mock.Anything).Return([]models.Record{}, nil)
	coll.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("disk full"))

	service := NewService(
		&stubFetcher{items: []models.RawRecord{models.RawRecord(rawIPhone)}},
		&transform.Transformer{},
		newTestLoader(coll),
		logger.Discard(),
	)

	_, err := service.IngestData(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to store products")
	assert.Contains(t, err.Error(), "disk full")
	coll.AssertExpectations(t)
}
