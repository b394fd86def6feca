package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyderes/catalog-sync/internal/categories"
	"github.com/cyderes/catalog-sync/internal/config"
	"github.com/cyderes/catalog-sync/internal/ingestion"
	"github.com/cyderes/catalog-sync/internal/logger"
	"github.com/cyderes/catalog-sync/internal/models"
	"github.com/cyderes/catalog-sync/internal/source"
	"github.com/cyderes/catalog-sync/internal/storage"
	"github.com/cyderes/catalog-sync/internal/transform"
)

// app holds the components shared by the commands.
type app struct {
	cfg   *config.Config
	log   *logrus.Logger
	store storage.Storage

	catalog    *ingestion.Service
	categories *categories.Service
}

// newApp loads configuration and opens the store.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err := storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	log.WithField("type", cfg.Storage.Type).Info("Storage ready")

	return &app{cfg: cfg, log: log, store: store}, nil
}

// wire builds the sync services. Loader progress goes to sinks.
func (a *app) wire(sinks ...ingestion.Sink) {
	loader := ingestion.NewLoader(a.store.Collection(storage.ProductsCollection), a.cfg.Ingestion, a.log, sinks...)
	a.catalog = ingestion.NewService(
		source.NewClient(a.cfg.Source, a.log),
		transform.New(a.cfg.Ingestion),
		loader,
		a.log,
	)
	a.categories = categories.NewService(a.store, a.log)
}

func (a *app) Close() error {
	return a.store.Close()
}

// runCatalog runs one catalog sync pass and records its status.
func (a *app) runCatalog(ctx context.Context) error {
	return a.track(ctx, ingestion.TaskCatalog, func(ctx context.Context, status *models.SyncStatus) error {
		result, err := a.catalog.IngestData(ctx)
		status.Created, status.Updated, status.Skipped, status.Deleted = result.Created, result.Updated, result.Skipped, 0
		return err
	})
}

// runCategories runs one category sync pass and records its status.
func (a *app) runCategories(ctx context.Context) error {
	return a.track(ctx, categories.TaskCategories, func(ctx context.Context, status *models.SyncStatus) error {
		result, err := a.categories.Sync(ctx)
		status.Created, status.Updated, status.Deleted, status.Skipped = result.Created, result.Updated, result.Deleted, 0
		return err
	})
}

// track persists the task status around run: running before, then success
// or failure with the counts run filled in. A panic is recorded as a
// failure and re-raised.
func (a *app) track(ctx context.Context, task string, run func(context.Context, *models.SyncStatus) error) (err error) {
	coll := a.store.Collection(storage.StatusCollection)

	status, getErr := storage.GetSyncStatus(ctx, coll, task)
	if getErr != nil {
		a.log.WithError(getErr).WithField("task", task).Warn("Failed to read sync status")
		status = &models.SyncStatus{ID: task}
	}
	status.LastAttempt = time.Now().UTC()
	status.Status = models.StatusRunning
	status.ErrorMessage = ""
	a.saveStatus(ctx, *status)

	defer func() {
		if r := recover(); r != nil {
			status.Status = models.StatusFailure
			status.ErrorMessage = fmt.Sprintf("panic: %v", r)
			a.saveStatus(ctx, *status)
			panic(r)
		}
	}()

	err = run(ctx, status)
	if err != nil {
		status.Status = models.StatusFailure
		status.ErrorMessage = err.Error()
	} else {
		status.Status = models.StatusSuccess
		status.LastSuccessfulRun = time.Now().UTC()
	}
	a.saveStatus(ctx, *status)
	return err
}

func (a *app) saveStatus(ctx context.Context, status models.SyncStatus) {
	if err := storage.UpdateSyncStatus(ctx, a.store.Collection(storage.StatusCollection), status); err != nil {
		a.log.WithError(err).WithField("task", status.ID).Warn("Failed to record sync status")
	}
}
