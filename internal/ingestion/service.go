package ingestion

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cyderes/catalog-sync/internal/models"
	"github.com/cyderes/catalog-sync/internal/transform"
)

// TaskCatalog names the catalog sync task in logs, metrics and sync status.
const TaskCatalog = "catalog"

// Fetcher returns the raw catalog. An empty result means there is nothing
// to sync this run.
type Fetcher interface {
	Fetch(ctx context.Context) []models.RawRecord
}

// Service runs the catalog sync: fetch, transform, upsert.
type Service struct {
	source      Fetcher
	transformer *transform.Transformer
	loader      *Loader
	log         logrus.FieldLogger
}

// NewService creates a new catalog sync service
func NewService(source Fetcher, transformer *transform.Transformer, loader *Loader, log logrus.FieldLogger) *Service {
	return &Service{
		source:      source,
		transformer: transformer,
		loader:      loader,
		log:         log.WithField("task", TaskCatalog),
	}
}

// IngestData performs one catalog sync pass. An empty fetch leaves the store
// untouched.
func (s *Service) IngestData(ctx context.Context) (models.LoadResult, error) {
	raws := s.source.Fetch(ctx)
	if len(raws) == 0 {
		s.log.Info("No catalog data this run")
		return models.LoadResult{}, nil
	}

	products := s.transformer.TransformAll(raws)

	result, err := s.loader.Load(ctx, products)
	if err != nil {
		return result, fmt.Errorf("failed to store products: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"fetched": len(raws),
		"created": result.Created,
		"updated": result.Updated,
		"skipped": result.Skipped,
	}).Info("Catalog sync complete")
	return result, nil
}
