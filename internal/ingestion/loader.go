package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cyderes/catalog-sync/internal/config"
	"github.com/cyderes/catalog-sync/internal/metrics"
	"github.com/cyderes/catalog-sync/internal/models"
	"github.com/cyderes/catalog-sync/internal/storage"
	"github.com/cyderes/catalog-sync/internal/transform"
)

// Loader upserts canonical products into the products collection, matching
// them by normalized name.
type Loader struct {
	products  storage.Collection
	stockSeed int
	reporter  *Reporter
	log       logrus.FieldLogger

	now   func() time.Time
	newID func() string
}

// NewLoader creates a loader writing to products. Progress snapshots are
// forwarded to sinks every cfg.ProgressInterval.
func NewLoader(products storage.Collection, cfg config.IngestionConfig, log logrus.FieldLogger, sinks ...Sink) *Loader {
	return &Loader{
		products:  products,
		stockSeed: cfg.StockSeed,
		reporter:  NewReporter(TaskCatalog, cfg.ProgressInterval, log, sinks...),
		log:       log.WithField("component", "loader"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Load writes products in input order: a product whose name is already
// stored is patched in place, any other is created with a fresh id and the
// seed stock. Products without a name are skipped. Records created earlier
// in the same pass are matched like stored ones, so repeated names collapse
// and the later product wins.
//
// A store error aborts the pass; the counts reached so far are returned with
// the error.
func (l *Loader) Load(ctx context.Context, products []models.Product) (models.LoadResult, error) {
	var result models.LoadResult

	existing, err := l.products.List(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to read products: %w", err)
	}
	lookup := make(map[string]string, len(existing))
	for _, rec := range existing {
		key := transform.NormalizeName(rec.String("name"))
		if key == "" || rec.ID() == "" {
			continue
		}
		if _, ok := lookup[key]; !ok {
			lookup[key] = rec.ID()
		}
	}

	progress := &Progress{}
	progress.total.Store(int64(len(products)))
	stop := l.reporter.Watch(progress)
	defer stop()

	defer func() {
		metrics.RecordUpserts(result.Created, result.Updated, result.Skipped)
	}()

	for _, p := range products {
		key := transform.NormalizeName(p.Name)
		if key == "" {
			result.Skipped++
			progress.skipped.Add(1)
			progress.processed.Add(1)
			continue
		}

		patch, err := p.Patch()
		if err != nil {
			return result, fmt.Errorf("failed to encode product %q: %w", key, err)
		}
		now := models.Timestamp(l.now())
		patch["name"] = key
		patch["updated_at"] = now

		if id, ok := lookup[key]; ok {
			_, err := l.products.Update(ctx, id, patch)
			if err == nil {
				result.Updated++
				progress.updated.Add(1)
				progress.processed.Add(1)
				continue
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return result, fmt.Errorf("failed to update product %s: %w", id, err)
			}
			// Removed since the snapshot was taken; recreate it.
			l.log.WithField("id", id).Warn("Product vanished during load, recreating")
		}

		rec := patch.Clone()
		rec["id"] = l.newID()
		rec["stock"] = l.stockSeed
		rec["created_at"] = now
		created, err := l.products.Create(ctx, rec)
		if err != nil {
			return result, fmt.Errorf("failed to create product %q: %w", key, err)
		}
		lookup[key] = created.ID()
		result.Created++
		progress.created.Add(1)
		progress.processed.Add(1)
	}

	return result, nil
}
