// Package reconcile keeps the category tree in step with the breadcrumb
// trails of imported entries.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
)

// Result is the category write-set for one entry. Categories are ordered
// deepest-first; Created counts how many of them are new.
type Result struct {
	Categories []catalog.Category
	Created    int
}

// Reconciler computes category writes against the catalog store.
type Reconciler struct {
	store  catalog.Store
	logger *zap.Logger
}

// New builds a Reconciler.
func New(store catalog.Store, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, logger: logger}
}

// Reconcile returns the categories that must be written so that the leaf of
// path exists and is marked dirty. Nothing is persisted here.
func (r *Reconciler) Reconcile(ctx context.Context, path catalog.CategoryPath) (Result, error) {
	path = path.Normalize()
	leaf := path.Key()

	existing, err := r.store.GetCategory(ctx, leaf)
	switch {
	case err == nil:
		if existing.Dirty {
			return Result{}, nil
		}
		existing.Dirty = true
		return Result{Categories: []catalog.Category{existing}}, nil
	case errors.Is(err, catalog.ErrNotFound):
		return r.create(ctx, path, leaf)
	default:
		return Result{}, fmt.Errorf("get category %s: %w", leaf, err)
	}
}

// create walks from the leaf towards the root and returns a new dirty
// category for every missing prefix. The root always exists and is never
// created here.
func (r *Reconciler) create(ctx context.Context, path catalog.CategoryPath, leaf catalog.CategoryKey) (Result, error) {
	if leaf.IsRoot() {
		return Result{}, nil
	}
	ancestors := leaf.Ancestors()[1:]
	var found []*catalog.Category
	if len(ancestors) > 0 {
		var err error
		found, err = r.store.GetCategories(ctx, ancestors)
		if err != nil {
			return Result{}, fmt.Errorf("get ancestors of %s: %w", leaf, err)
		}
	}

	created := []catalog.Category{{Key: leaf, Title: path[len(path)-1].Title, Dirty: true}}
	for i := len(ancestors) - 1; i >= 0; i-- {
		if found[i] != nil {
			break
		}
		created = append(created, catalog.Category{
			Key:   ancestors[i],
			Title: path[i+1].Title,
			Dirty: true,
		})
	}

	r.logger.Info("creating categories",
		zap.String("category", leaf.String()),
		zap.Int("count", len(created)),
	)
	return Result{Categories: created, Created: len(created)}, nil
}
