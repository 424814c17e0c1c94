package ingest

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
)

// Kind names a dimension table.
type Kind string

// Dimension kinds handled by the resolver.
const (
	KindCategory    Kind = "category"
	KindProductType Kind = "product_type"
	KindTax         Kind = "tax"
)

// Deduplicator remembers which UPCs were already processed in one run.
// It is not safe for concurrent use.
type Deduplicator struct {
	seen map[string]struct{}
}

// NewDeduplicator returns an empty set.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// Seen reports whether upc was marked in this run.
func (d *Deduplicator) Seen(upc string) bool {
	_, ok := d.seen[upc]
	return ok
}

// Mark records upc as processed.
func (d *Deduplicator) Mark(upc string) {
	d.seen[upc] = struct{}{}
}

// Len returns the number of distinct UPCs marked.
func (d *Deduplicator) Len() int {
	return len(d.seen)
}

// RunContext carries the mutable state of one ingestion run: the dimension
// cache seeded from the store and the set of processed UPCs. A new one is
// created for every run and it must only be used from one goroutine.
type RunContext struct {
	ID    uuid.UUID
	dims  map[Kind]map[string]int64
	dedup *Deduplicator
}

// NewRunContext seeds the dimension cache with the persisted rows.
func NewRunContext(id uuid.UUID, dims catalog.Dimensions) *RunContext {
	rc := &RunContext{
		ID: id,
		dims: map[Kind]map[string]int64{
			KindCategory:    make(map[string]int64, len(dims.Categories)),
			KindProductType: make(map[string]int64, len(dims.ProductTypes)),
			KindTax:         make(map[string]int64, len(dims.Taxes)),
		},
		dedup: NewDeduplicator(),
	}
	for _, c := range dims.Categories {
		rc.dims[KindCategory][c.Name] = c.ID
	}
	for _, p := range dims.ProductTypes {
		rc.dims[KindProductType][p.Name] = p.ID
	}
	for _, t := range dims.Taxes {
		rc.dims[KindTax][TaxKey(t.Amount)] = t.ID
	}
	return rc
}

// Seen reports whether the UPC was already processed in this run.
func (rc *RunContext) Seen(upc string) bool {
	return rc.dedup.Seen(upc)
}

// Mark records the UPC as processed.
func (rc *RunContext) Mark(upc string) {
	rc.dedup.Mark(upc)
}

// Processed returns how many distinct UPCs were committed in this run.
func (rc *RunContext) Processed() int {
	return rc.dedup.Len()
}

// CachedID returns the cached id for a dimension key.
func (rc *RunContext) CachedID(kind Kind, key string) (int64, bool) {
	id, ok := rc.dims[kind][key]
	return id, ok
}

// CacheSize returns the number of cached keys for kind.
func (rc *RunContext) CacheSize(kind Kind) int {
	return len(rc.dims[kind])
}

func (rc *RunContext) cache(kind Kind, key string, id int64) {
	rc.dims[kind][key] = id
}

// taxScale matches the NUMERIC(10,2) taxes.amount column.
const taxScale = 2

// TaxKey is the canonical cache key of a tax amount: rounded to the stored
// scale, so 2.50 and 2.5 match, as do 2.555 and 2.56.
func TaxKey(amount decimal.Decimal) string {
	return amount.Round(taxScale).String()
}

func labelKey(label string) string {
	return strings.TrimSpace(label)
}
