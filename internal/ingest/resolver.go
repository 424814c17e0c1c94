package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
)

// Resolver maps dimension labels to ids for one record. Cache hits come from
// the run context; misses are inserted through the record's transaction and
// staged until Commit, so a rolled back insert never reaches the run cache.
type Resolver struct {
	rc     *RunContext
	staged map[Kind]map[string]int64
}

// NewResolver returns a resolver scoped to one record of the run.
func NewResolver(rc *RunContext) *Resolver {
	return &Resolver{rc: rc, staged: make(map[Kind]map[string]int64)}
}

// Category resolves a category name.
func (r *Resolver) Category(ctx context.Context, tx catalog.Tx, name string) (int64, error) {
	return r.Resolve(ctx, tx, KindCategory, name)
}

// ProductType resolves a product type name.
func (r *Resolver) ProductType(ctx context.Context, tx catalog.Tx, name string) (int64, error) {
	return r.Resolve(ctx, tx, KindProductType, name)
}

// Tax resolves a tax amount.
func (r *Resolver) Tax(ctx context.Context, tx catalog.Tx, amount decimal.Decimal) (int64, error) {
	return r.Resolve(ctx, tx, KindTax, TaxKey(amount))
}

// Resolve returns the id for key, creating the dimension row on a miss. Tax
// keys are decimal strings and are canonicalized through TaxKey.
func (r *Resolver) Resolve(ctx context.Context, tx catalog.Tx, kind Kind, key string) (int64, error) {
	if kind == KindTax {
		amount, err := decimal.NewFromString(strings.TrimSpace(key))
		if err != nil {
			return 0, fmt.Errorf("resolve %s %q: parse tax amount: %w", kind, key, err)
		}
		key = TaxKey(amount)
	} else {
		key = labelKey(key)
	}
	if id, ok := r.rc.CachedID(kind, key); ok {
		return id, nil
	}
	if id, ok := r.staged[kind][key]; ok {
		return id, nil
	}
	id, err := r.insert(ctx, tx, kind, key)
	if err != nil {
		return 0, fmt.Errorf("resolve %s %q: %w", kind, key, err)
	}
	if r.staged[kind] == nil {
		r.staged[kind] = make(map[string]int64)
	}
	r.staged[kind][key] = id
	return id, nil
}

func (r *Resolver) insert(ctx context.Context, tx catalog.Tx, kind Kind, key string) (int64, error) {
	switch kind {
	case KindCategory:
		return tx.InsertCategory(ctx, key)
	case KindProductType:
		return tx.InsertProductType(ctx, key)
	case KindTax:
		amount, err := decimal.NewFromString(key)
		if err != nil {
			return 0, fmt.Errorf("parse tax amount: %w", err)
		}
		return tx.InsertTax(ctx, amount)
	default:
		return 0, fmt.Errorf("unknown dimension kind %q", kind)
	}
}

// Commit promotes ids created in this record's transaction into the run cache.
func (r *Resolver) Commit() {
	for kind, keys := range r.staged {
		for key, id := range keys {
			r.rc.cache(kind, key, id)
		}
	}
	r.staged = make(map[Kind]map[string]int64)
}

// Discard drops staged ids after a rollback.
func (r *Resolver) Discard() {
	r.staged = make(map[Kind]map[string]int64)
}
