package categories

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cyderes/catalog-sync/internal/models"
	"github.com/cyderes/catalog-sync/internal/storage"
)

// List returns the stored categories ordered by name, then URI.
func List(ctx context.Context, coll storage.Collection) ([]models.Record, error) {
	recs, err := coll.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := stringField(recs[i]["categoryName"]), stringField(recs[j]["categoryName"])
		if a != b {
			return a < b
		}
		return stringField(recs[i]["categoryUri"]) < stringField(recs[j]["categoryUri"])
	})
	return recs, nil
}

// GetByURI returns the stored category whose URI matches uri, ignoring
// surrounding whitespace on either side.
func GetByURI(ctx context.Context, coll storage.Collection, uri string) (models.Record, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("empty category uri: %w", storage.ErrNotFound)
	}
	recs, err := coll.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if strings.TrimSpace(stringField(rec["categoryUri"])) == uri {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("category %q: %w", uri, storage.ErrNotFound)
}
