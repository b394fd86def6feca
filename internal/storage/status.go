package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyderes/catalog-sync/internal/models"
)

// UpdateSyncStatus stores status as the record keyed by status.ID,
// replacing the previous one.
func UpdateSyncStatus(ctx context.Context, coll Collection, status models.SyncStatus) error {
	rec, err := models.ToRecord(status)
	if err != nil {
		return fmt.Errorf("failed to marshal sync status: %w", err)
	}

	_, err = coll.Update(ctx, status.ID, rec)
	if errors.Is(err, ErrNotFound) {
		_, err = coll.Create(ctx, rec)
	}
	if err != nil {
		return fmt.Errorf("failed to store sync status %s: %w", status.ID, err)
	}
	return nil
}

// GetSyncStatus retrieves the status of the named task. A task that never
// ran yields a never_run status.
func GetSyncStatus(ctx context.Context, coll Collection, task string) (*models.SyncStatus, error) {
	rec, err := coll.Get(ctx, task)
	if errors.Is(err, ErrNotFound) {
		return &models.SyncStatus{ID: task, Status: models.StatusNeverRun}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync status %s: %w", task, err)
	}

	var status models.SyncStatus
	if err := rec.Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync status: %w", err)
	}
	return &status, nil
}
