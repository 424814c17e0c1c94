// Package ingest reconciles scraped book records with the catalog: it
// resolves dimensions, snapshots books before overwriting them, and keeps
// the snapshot history of every book within the retention bound.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
)

// DefaultRetention is the number of snapshots kept per book.
const DefaultRetention = 5

// Outcome describes what Ingest did with one record.
type Outcome string

// Record outcomes.
const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeUpdated   Outcome = "updated"
	OutcomeMalformed Outcome = "malformed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// Result is the outcome of ingesting one record.
type Result struct {
	Outcome Outcome
	BookID  int64
	// SnapshotID is set on the update path.
	SnapshotID      int64
	SnapshotsPruned int64
}

// Clock supplies snapshot timestamps.
type Clock interface {
	Now() time.Time
}

// Engine applies records to the catalog one transaction at a time.
type Engine struct {
	store     catalog.Writer
	clock     Clock
	retention int
	logger    *zap.Logger
}

// NewEngine validates the retention bound and wires the engine.
func NewEngine(store catalog.Writer, clock Clock, retention int, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("catalog store is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if retention < 1 {
		return nil, fmt.Errorf("snapshot retention must be >= 1, got %d", retention)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, clock: clock, retention: retention, logger: logger}, nil
}

// Retention returns the configured snapshot bound.
func (e *Engine) Retention() int {
	return e.retention
}

// Ingest applies one record. Malformed records return an error wrapping
// catalog.ErrMalformedRecord; UPCs already processed in this run are a no-op
// with OutcomeDuplicate. Store failures roll the record back and return an
// error wrapping catalog.ErrPersistence; the run context is left untouched.
func (e *Engine) Ingest(ctx context.Context, rc *RunContext, rec catalog.Record) (Result, error) {
	upc := rec.Key()
	if upc == "" {
		return Result{Outcome: OutcomeMalformed}, fmt.Errorf("record without upc: %w", catalog.ErrMalformedRecord)
	}
	if rc.Seen(upc) {
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	res := NewResolver(rc)
	var result Result
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		var err error
		result, err = e.apply(ctx, tx, res, upc, rec)
		return err
	})
	if err != nil {
		res.Discard()
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("ingest %s: %w", upc, errors.Join(catalog.ErrPersistence, err))
	}
	res.Commit()
	rc.Mark(upc)
	return result, nil
}

type dimensionIDs struct {
	category    *int64
	productType *int64
	tax         *int64
}

func (e *Engine) apply(
	ctx context.Context,
	tx catalog.Tx,
	res *Resolver,
	upc string,
	rec catalog.Record,
) (Result, error) {
	dims, err := e.resolveProvided(ctx, tx, res, rec)
	if err != nil {
		return Result{}, err
	}

	existing, err := tx.FindBookByUPC(ctx, upc)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return e.insert(ctx, tx, res, rec, dims)
	case err != nil:
		return Result{}, fmt.Errorf("find book: %w", err)
	}
	return e.update(ctx, tx, existing, rec, dims)
}

func (e *Engine) resolveProvided(
	ctx context.Context,
	tx catalog.Tx,
	res *Resolver,
	rec catalog.Record,
) (dimensionIDs, error) {
	var dims dimensionIDs
	if rec.Category != nil {
		id, err := res.Category(ctx, tx, labelOrUnknown(*rec.Category))
		if err != nil {
			return dims, err
		}
		dims.category = &id
	}
	if rec.ProductType != nil {
		id, err := res.ProductType(ctx, tx, labelOrUnknown(*rec.ProductType))
		if err != nil {
			return dims, err
		}
		dims.productType = &id
	}
	if rec.Tax != nil {
		id, err := res.Tax(ctx, tx, *rec.Tax)
		if err != nil {
			return dims, err
		}
		dims.tax = &id
	}
	return dims, nil
}

func (e *Engine) insert(
	ctx context.Context,
	tx catalog.Tx,
	res *Resolver,
	rec catalog.Record,
	dims dimensionIDs,
) (Result, error) {
	book := rec.NewBook()
	var err error
	if book.CategoryID, err = idOrDefault(dims.category, func() (int64, error) {
		return res.Category(ctx, tx, catalog.UnknownLabel)
	}); err != nil {
		return Result{}, err
	}
	if book.ProductTypeID, err = idOrDefault(dims.productType, func() (int64, error) {
		return res.ProductType(ctx, tx, catalog.UnknownLabel)
	}); err != nil {
		return Result{}, err
	}
	if book.TaxID, err = idOrDefault(dims.tax, func() (int64, error) {
		return res.Tax(ctx, tx, decimal.Zero)
	}); err != nil {
		return Result{}, err
	}

	id, err := tx.InsertBook(ctx, book)
	if err != nil {
		return Result{}, fmt.Errorf("insert book: %w", err)
	}
	e.logger.Debug("book inserted", zap.String("upc", book.UPC), zap.Int64("book_id", id))
	return Result{Outcome: OutcomeInserted, BookID: id}, nil
}

func (e *Engine) update(
	ctx context.Context,
	tx catalog.Tx,
	existing catalog.Book,
	rec catalog.Record,
	dims dimensionIDs,
) (Result, error) {
	snapshotID, err := tx.InsertSnapshot(ctx, catalog.SnapshotOf(existing, e.clock.Now()))
	if err != nil {
		return Result{}, fmt.Errorf("insert snapshot: %w", err)
	}

	updated := existing
	rec.ApplyTo(&updated)
	if dims.category != nil {
		updated.CategoryID = *dims.category
	}
	if dims.productType != nil {
		updated.ProductTypeID = *dims.productType
	}
	if dims.tax != nil {
		updated.TaxID = *dims.tax
	}
	if err := tx.UpdateBook(ctx, updated); err != nil {
		return Result{}, fmt.Errorf("update book: %w", err)
	}

	pruned, err := tx.PruneSnapshots(ctx, existing.ID, e.retention)
	if err != nil {
		return Result{}, fmt.Errorf("prune snapshots: %w", err)
	}
	e.logger.Debug("book updated",
		zap.String("upc", existing.UPC),
		zap.Int64("book_id", existing.ID),
		zap.Int64("snapshot_id", snapshotID),
		zap.Int64("snapshots_pruned", pruned),
	)
	return Result{
		Outcome:         OutcomeUpdated,
		BookID:          existing.ID,
		SnapshotID:      snapshotID,
		SnapshotsPruned: pruned,
	}, nil
}

func idOrDefault(id *int64, fallback func() (int64, error)) (int64, error) {
	if id != nil {
		return *id, nil
	}
	return fallback()
}

// labelOrUnknown maps a blank label to the Unknown dimension row.
func labelOrUnknown(label string) string {
	if strings.TrimSpace(label) == "" {
		return catalog.UnknownLabel
	}
	return label
}
