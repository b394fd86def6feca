package categories

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cyderes/catalog-sync/internal/models"
	"github.com/cyderes/catalog-sync/internal/storage"
)

// TaskCategories names the category sync task.
const TaskCategories = "categories"

// Service runs the category sync: extract from products, reconcile.
type Service struct {
	products   storage.Collection
	reconciler *Reconciler
	log        logrus.FieldLogger
}

// NewService creates a category sync service over the given store.
func NewService(store storage.Storage, log logrus.FieldLogger) *Service {
	return &Service{
		products:   store.Collection(storage.ProductsCollection),
		reconciler: NewReconciler(store.Collection(storage.CategoriesCollection), log),
		log:        log.WithField("task", TaskCategories),
	}
}

// Sync recomputes the category index from the current products. With no
// products every stored category is removed.
func (s *Service) Sync(ctx context.Context) (models.ReconcileResult, error) {
	products, err := s.products.List(ctx)
	if err != nil {
		return models.ReconcileResult{}, fmt.Errorf("failed to read products: %w", err)
	}

	candidates := Extract(products)

	result, err := s.reconciler.Reconcile(ctx, candidates)
	if err != nil {
		return result, err
	}

	s.log.WithFields(logrus.Fields{
		"products":   len(products),
		"categories": len(candidates),
		"created":    result.Created,
		"updated":    result.Updated,
		"deleted":    result.Deleted,
	}).Info("Category sync complete")
	return result, nil
}
