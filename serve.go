package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cyderes/catalog-sync/internal/categories"
	"github.com/cyderes/catalog-sync/internal/ingestion"
	"github.com/cyderes/catalog-sync/internal/scheduler"
	"github.com/cyderes/catalog-sync/internal/server"
	"github.com/cyderes/catalog-sync/internal/storage"
	"github.com/cyderes/catalog-sync/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduled sync tasks and the HTTP API",
	Long: `Start the catalog sync and category sync tasks on their intervals, the
HTTP API, and, with the json engine, a watcher that refreshes categories
when products.json changes. SIGINT or SIGTERM stops the tasks, waiting for
a run in progress to finish.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	var abandoned []string
	defer func() {
		if len(abandoned) > 0 {
			a.log.WithField("tasks", abandoned).Warn("Storage left open for abandoned runs")
			return
		}
		a.Close()
	}()

	hub := server.NewHub(a.log)
	hub.Start()
	defer hub.Stop()
	a.wire(hub)

	cfg := a.cfg.Scheduler
	tasks := make(map[string]server.Task)
	var running []*scheduler.Task

	if cfg.CatalogSyncEnabled {
		opts := []scheduler.Option{scheduler.WithLogger(a.log)}
		if cfg.CatalogSyncImmediate {
			opts = append(opts, scheduler.WithImmediate())
		}
		t := scheduler.New(ingestion.TaskCatalog, cfg.CatalogInterval(), a.runCatalog, opts...)
		tasks[t.Name()] = t
		running = append(running, t)
	}

	var categoryTask *scheduler.Task
	if cfg.CategorySyncEnabled {
		opts := []scheduler.Option{scheduler.WithLogger(a.log)}
		if cfg.CategorySyncImmediate {
			opts = append(opts, scheduler.WithImmediate())
		}
		categoryTask = scheduler.New(categories.TaskCategories, cfg.CategoryInterval(), a.runCategories, opts...)
		tasks[categoryTask.Name()] = categoryTask
		running = append(running, categoryTask)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, t := range running {
		if err := t.Start(ctx); err != nil {
			return err
		}
	}

	var watcher *watch.Watcher
	if categoryTask != nil && cfg.WatchProducts && a.cfg.Storage.Type == "json" {
		path := storage.CollectionPath(a.cfg.Storage.DataDir, storage.ProductsCollection)
		watcher, err = watch.New(path, cfg.WatchDebounce, func() { categoryTask.RunNow() }, a.log)
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			a.log.WithError(err).Warn("Products watcher disabled")
			watcher = nil
		}
	}

	httpServer := server.NewServer(a.cfg.Server, a.store, tasks, hub, a.log)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	serverErr := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		a.log.WithField("signal", sig.String()).Info("Shutdown signal received, gracefully shutting down...")
	case err := <-serverErr:
		a.log.WithError(err).Error("HTTP server error")
	case <-ctx.Done():
	}

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("HTTP server shutdown error")
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			a.log.WithError(err).Warn("Watcher shutdown error")
		}
	}
	abandoned = stopTasks(shutdownCtx, running, a.log)

	a.log.Info("Shutdown complete")
	return nil
}

// stopTasks stops every task, waiting for runs in progress until ctx
// expires, and returns the names of tasks whose run was abandoned.
func stopTasks(ctx context.Context, tasks []*scheduler.Task, log logrus.FieldLogger) []string {
	var abandoned []string
	for _, t := range tasks {
		if err := t.Stop(ctx); err != nil {
			log.WithError(err).WithField("task", t.Name()).Warn("Task did not stop in time, abandoning its run")
			abandoned = append(abandoned, t.Name())
		}
	}
	return abandoned
}
