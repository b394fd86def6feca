package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyderes/catalog-sync/internal/config"
	"github.com/cyderes/catalog-sync/internal/models"
)

// Collection names used by the sync core.
const (
	ProductsCollection   = "products"
	CategoriesCollection = "categories"
	StatusCollection     = "sync_status"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrMissingID       = errors.New("record has no string id")
	ErrDuplicateID     = errors.New("record id already exists")
	ErrUnsupportedType = errors.New("unsupported storage type")
)

// Collection is a named set of records persisted as one document. Every
// operation reads the whole document, mutates it in memory and rewrites it,
// serialized against the other operations on the same collection.
type Collection interface {
	Name() string
	List(ctx context.Context) ([]models.Record, error)
	Get(ctx context.Context, id string) (models.Record, error)
	Create(ctx context.Context, rec models.Record) (models.Record, error)
	Update(ctx context.Context, id string, patch models.Record) (models.Record, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Storage hands out collections. The same name always yields the same
// Collection, so the per-collection lock is shared by every caller.
type Storage interface {
	Collection(name string) Collection
	Close() error
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	var (
		b   backend
		err error
	)
	switch cfg.Type {
	case "json", "":
		b, err = newFileBackend(cfg.DataDir)
	case "sqlite":
		b, err = newSQLiteBackend(ctx, cfg.SQLitePath)
	case "postgresql":
		b, err = newPostgresBackend(ctx, cfg.PostgresURI)
	case "mongodb":
		b, err = newMongoBackend(ctx, cfg.MongoDBURI, cfg.MongoDBDatabase)
	case "dynamodb":
		b, err = newDynamoBackend(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Type, err)
	}
	return newDocumentStorage(b), nil
}
