// Package categories derives the category index from the products'
// embedded category copies and converges the stored index to it.
package categories

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/cyderes/catalog-sync/internal/models"
)

// Extract returns the distinct categories referenced by products, keyed by
// trimmed URI. Entries without a URI are ignored. When one URI is seen with
// different details, a non-empty name and a non-zero id win over missing
// ones; otherwise the first sighting wins. A candidate still lacking an id
// gets HashID(uri).
func Extract(products []models.Record) []models.CategoryCandidate {
	byURI := make(map[string]*models.CategoryCandidate)

	for _, p := range products {
		refs, _ := p["categories"].([]interface{})
		for _, raw := range refs {
			ref, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			uri := strings.TrimSpace(stringField(ref["uri"]))
			if uri == "" {
				continue
			}
			name := strings.TrimSpace(stringField(ref["name"]))
			id := intField(ref["categoryId"])

			c, seen := byURI[uri]
			if !seen {
				byURI[uri] = &models.CategoryCandidate{CategoryID: id, CategoryName: name, CategoryURI: uri}
				continue
			}
			if c.CategoryName == "" && name != "" {
				c.CategoryName = name
			}
			if c.CategoryID == 0 && id != 0 {
				c.CategoryID = id
			}
		}
	}

	out := make([]models.CategoryCandidate, 0, len(byURI))
	for uri, c := range byURI {
		if c.CategoryID == 0 {
			c.CategoryID = HashID(uri)
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CategoryName != out[j].CategoryName {
			return out[i].CategoryName < out[j].CategoryName
		}
		return out[i].CategoryURI < out[j].CategoryURI
	})
	return out
}

// HashID derives a positive numeric id from a category URI. Distinct URIs
// may collide.
func HashID(uri string) int {
	h := fnv.New32a()
	h.Write([]byte(uri))
	id := int(h.Sum32() & 0x7fffffff)
	if id == 0 {
		id = 1
	}
	return id
}

func stringField(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// intField reads a numeric id stored either as a number or a numeric string.
func intField(v interface{}) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
