package categories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cyderes/catalog-sync/internal/metrics"
	"github.com/cyderes/catalog-sync/internal/models"
	"github.com/cyderes/catalog-sync/internal/storage"
)

// Change is an update of one stored category to a candidate's details.
type Change struct {
	ID        string
	Candidate models.CategoryCandidate
}

// Plan lists the operations that converge the stored categories to the
// candidates.
type Plan struct {
	Create []models.CategoryCandidate
	Update []Change
	Delete []string
}

// Empty reports whether the stored categories already match.
func (p Plan) Empty() bool {
	return len(p.Create) == 0 && len(p.Update) == 0 && len(p.Delete) == 0
}

// Diff compares candidates with the stored category records by URI.
// A stored category whose name or id differs is updated, a candidate with
// no stored match is created, and every stored category left unmatched is
// deleted. Extra rows sharing a URI, and rows without a URI, are deleted
// too.
func Diff(candidates []models.CategoryCandidate, existing []models.Record) Plan {
	var plan Plan

	unmatched := make(map[string]models.Record, len(existing))
	for _, rec := range existing {
		uri := strings.TrimSpace(rec.String("categoryUri"))
		if _, dup := unmatched[uri]; dup || uri == "" {
			plan.Delete = append(plan.Delete, rec.ID())
			continue
		}
		unmatched[uri] = rec
	}

	for _, c := range candidates {
		rec, ok := unmatched[c.CategoryURI]
		if !ok {
			plan.Create = append(plan.Create, c)
			continue
		}
		delete(unmatched, c.CategoryURI)
		if rec.String("categoryName") != c.CategoryName ||
			intField(rec["categoryId"]) != c.CategoryID ||
			rec.String("categoryUri") != c.CategoryURI {
			plan.Update = append(plan.Update, Change{ID: rec.ID(), Candidate: c})
		}
	}

	// Walk existing again so deletes keep storage order.
	for _, rec := range existing {
		uri := strings.TrimSpace(rec.String("categoryUri"))
		if left, ok := unmatched[uri]; ok && left.ID() == rec.ID() {
			plan.Delete = append(plan.Delete, rec.ID())
		}
	}
	return plan
}

// Reconciler applies category plans to the categories collection.
type Reconciler struct {
	categories storage.Collection
	log        logrus.FieldLogger

	now   func() time.Time
	newID func() string
}

// NewReconciler creates a reconciler writing to categories.
func NewReconciler(categories storage.Collection, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		categories: categories,
		log:        log.WithField("component", "reconciler"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Reconcile converges the stored categories to candidates: creates first,
// then updates, then deletes, one store operation each. The first store
// error stops the pass and is returned with the counts so far; the next
// pass recomputes the diff and finishes the job.
func (r *Reconciler) Reconcile(ctx context.Context, candidates []models.CategoryCandidate) (models.ReconcileResult, error) {
	var result models.ReconcileResult
	defer func() {
		metrics.RecordReconcile(result.Created, result.Updated, result.Deleted)
	}()

	existing, err := r.categories.List(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to read categories: %w", err)
	}

	plan := Diff(candidates, existing)
	if plan.Empty() {
		return result, nil
	}
	r.log.WithFields(logrus.Fields{
		"create": len(plan.Create),
		"update": len(plan.Update),
		"delete": len(plan.Delete),
	}).Debug("Applying category plan")
	now := models.Timestamp(r.now())

	for _, c := range plan.Create {
		rec, err := models.ToRecord(models.Category{
			ID:           r.newID(),
			CategoryID:   c.CategoryID,
			CategoryName: c.CategoryName,
			CategoryURI:  c.CategoryURI,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return result, err
		}
		if _, err := r.categories.Create(ctx, rec); err != nil {
			return result, fmt.Errorf("failed to create category %s: %w", c.CategoryURI, err)
		}
		result.Created++
	}

	for _, ch := range plan.Update {
		patch := models.Record{
			"categoryId":   ch.Candidate.CategoryID,
			"categoryName": ch.Candidate.CategoryName,
			"categoryUri":  ch.Candidate.CategoryURI,
			"updated_at":   now,
		}
		if _, err := r.categories.Update(ctx, ch.ID, patch); err != nil {
			return result, fmt.Errorf("failed to update category %s: %w", ch.Candidate.CategoryURI, err)
		}
		result.Updated++
	}

	for _, id := range plan.Delete {
		removed, err := r.categories.Delete(ctx, id)
		if err != nil {
			return result, fmt.Errorf("failed to delete category %s: %w", id, err)
		}
		if removed {
			result.Deleted++
		}
	}

	return result, nil
}
