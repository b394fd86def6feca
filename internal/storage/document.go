package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cyderes/catalog-sync/internal/models"
)

// backend persists whole collection documents addressed by collection name.
type backend interface {
	// load returns the stored document; found is false when none exists yet.
	load(ctx context.Context, name string) (data []byte, found bool, err error)
	save(ctx context.Context, name string, data []byte) error
	close() error
}

type documentStorage struct {
	backend     backend
	mu          sync.Mutex
	collections map[string]*documentCollection
}

func newDocumentStorage(b backend) *documentStorage {
	return &documentStorage{
		backend:     b,
		collections: make(map[string]*documentCollection),
	}
}

// Collection returns the collection registered under name, creating it on
// first use.
func (s *documentStorage) Collection(name string) Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		return c
	}
	c := &documentCollection{name: name, backend: s.backend}
	s.collections[name] = c
	return c
}

// Close releases the underlying engine.
func (s *documentStorage) Close() error {
	return s.backend.close()
}

// documentCollection implements Collection as a locked read-modify-write of
// one JSON array document.
type documentCollection struct {
	name    string
	backend backend
	mu      sync.Mutex
}

func (c *documentCollection) Name() string {
	return c.name
}

func (c *documentCollection) List(ctx context.Context) ([]models.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.read(ctx)
}

func (c *documentCollection) Get(ctx context.Context, id string) (models.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	recs, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.ID() == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%s/%s: %w", c.name, id, ErrNotFound)
}

func (c *documentCollection) Create(ctx context.Context, rec models.Record) (models.Record, error) {
	id := rec.ID()
	if id == "" {
		return nil, fmt.Errorf("%s: %w", c.name, ErrMissingID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	recs, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.ID() == id {
			return nil, fmt.Errorf("%s/%s: %w", c.name, id, ErrDuplicateID)
		}
	}

	stored := rec.Clone()
	recs = append(recs, stored)
	if err := c.write(ctx, recs); err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

func (c *documentCollection) Update(ctx context.Context, id string, patch models.Record) (models.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	recs, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	for i, r := range recs {
		if r.ID() != id {
			continue
		}
		for k, v := range patch {
			if k == "id" {
				continue
			}
			r[k] = v
		}
		recs[i] = r
		if err := c.write(ctx, recs); err != nil {
			return nil, err
		}
		return r.Clone(), nil
	}
	return nil, fmt.Errorf("%s/%s: %w", c.name, id, ErrNotFound)
}

func (c *documentCollection) Delete(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	recs, err := c.read(ctx)
	if err != nil {
		return false, err
	}
	kept := recs[:0]
	for _, r := range recs {
		if r.ID() != id {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(recs) {
		return false, nil
	}
	if err := c.write(ctx, kept); err != nil {
		return false, err
	}
	return true, nil
}

// read loads and decodes the document. A missing or blank document is
// initialized to an empty array. Callers must hold c.mu.
func (c *documentCollection) read(ctx context.Context) ([]models.Record, error) {
	data, found, err := c.backend.load(ctx, c.name)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", c.name, err)
	}
	if !found || len(bytes.TrimSpace(data)) == 0 {
		empty := []models.Record{}
		if err := c.write(ctx, empty); err != nil {
			return nil, err
		}
		return empty, nil
	}

	var recs []models.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("malformed collection %s: %w", c.name, err)
	}
	for i, r := range recs {
		if r == nil {
			return nil, fmt.Errorf("malformed collection %s: entry %d is not an object", c.name, i)
		}
	}
	return recs, nil
}

// write encodes and saves the whole document. Callers must hold c.mu.
func (c *documentCollection) write(ctx context.Context, recs []models.Record) error {
	data, err := encodeDocument(recs)
	if err != nil {
		return fmt.Errorf("failed to encode collection %s: %w", c.name, err)
	}
	if err := c.backend.save(ctx, c.name, data); err != nil {
		return fmt.Errorf("failed to save collection %s: %w", c.name, err)
	}
	return nil
}

// encodeDocument renders records as a pretty-printed JSON array with
// non-ASCII text and markup left unescaped, so the file stays hand-editable.
func encodeDocument(recs []models.Record) ([]byte, error) {
	if recs == nil {
		recs = []models.Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(recs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
