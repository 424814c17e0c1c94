package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
)

// CatalogStore is an in-memory catalog used in tests and local runs without
// Postgres. Transactions work on a copy of the state that replaces the live
// state on commit.
type CatalogStore struct {
	mu    sync.RWMutex
	state catalogState
	// PingErr, when set, is returned by Ping.
	PingErr error
}

type catalogState struct {
	nextID       int64
	categories   map[int64]catalog.Category
	productTypes map[int64]catalog.ProductType
	taxes        map[int64]catalog.Tax
	books        map[int64]catalog.Book
	snapshots    map[int64]catalog.BookSnapshot
}

// NewCatalogStore returns an empty store.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{state: newCatalogState()}
}

func newCatalogState() catalogState {
	return catalogState{
		categories:   map[int64]catalog.Category{},
		productTypes: map[int64]catalog.ProductType{},
		taxes:        map[int64]catalog.Tax{},
		books:        map[int64]catalog.Book{},
		snapshots:    map[int64]catalog.BookSnapshot{},
	}
}

func (s catalogState) clone() catalogState {
	out := newCatalogState()
	out.nextID = s.nextID
	for k, v := range s.categories {
		out.categories[k] = v
	}
	for k, v := range s.productTypes {
		out.productTypes[k] = v
	}
	for k, v := range s.taxes {
		out.taxes[k] = v
	}
	for k, v := range s.books {
		out.books[k] = v
	}
	for k, v := range s.snapshots {
		out.snapshots[k] = v
	}
	return out
}

func (s *catalogState) id() int64 {
	s.nextID++
	return s.nextID
}

// Ping returns PingErr.
func (c *CatalogStore) Ping(context.Context) error {
	return c.PingErr
}

// LoadDimensions returns every dimension row ordered by id.
func (c *CatalogStore) LoadDimensions(context.Context) (catalog.Dimensions, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var dims catalog.Dimensions
	for _, v := range c.state.categories {
		dims.Categories = append(dims.Categories, v)
	}
	for _, v := range c.state.productTypes {
		dims.ProductTypes = append(dims.ProductTypes, v)
	}
	for _, v := range c.state.taxes {
		dims.Taxes = append(dims.Taxes, v)
	}
	sort.Slice(dims.Categories, func(i, j int) bool { return dims.Categories[i].ID < dims.Categories[j].ID })
	sort.Slice(dims.ProductTypes, func(i, j int) bool { return dims.ProductTypes[i].ID < dims.ProductTypes[j].ID })
	sort.Slice(dims.Taxes, func(i, j int) bool { return dims.Taxes[i].ID < dims.Taxes[j].ID })
	return dims, nil
}

// WithinTx runs fn against a copy of the state and publishes it on success.
func (c *CatalogStore) WithinTx(ctx context.Context, fn func(context.Context, catalog.Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx := &memTx{state: c.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	c.state = tx.state
	return nil
}

type memTx struct {
	state catalogState
}

func (t *memTx) InsertCategory(_ context.Context, name string) (int64, error) {
	for _, v := range t.state.categories {
		if v.Name == name {
			return 0, catalog.ErrDimensionRace
		}
	}
	id := t.state.id()
	t.state.categories[id] = catalog.Category{ID: id, Name: name}
	return id, nil
}

func (t *memTx) InsertProductType(_ context.Context, name string) (int64, error) {
	for _, v := range t.state.productTypes {
		if v.Name == name {
			return 0, catalog.ErrDimensionRace
		}
	}
	id := t.state.id()
	t.state.productTypes[id] = catalog.ProductType{ID: id, Name: name}
	return id, nil
}

func (t *memTx) InsertTax(_ context.Context, amount decimal.Decimal) (int64, error) {
	for _, v := range t.state.taxes {
		if v.Amount.Equal(amount) {
			return 0, catalog.ErrDimensionRace
		}
	}
	id := t.state.id()
	t.state.taxes[id] = catalog.Tax{ID: id, Amount: amount}
	return id, nil
}

func (t *memTx) FindBookByUPC(_ context.Context, upc string) (catalog.Book, error) {
	for _, b := range t.state.books {
		if b.UPC == upc {
			return b, nil
		}
	}
	return catalog.Book{}, catalog.ErrNotFound
}

func (t *memTx) InsertBook(_ context.Context, b catalog.Book) (int64, error) {
	if err := checkRating(b.Rating); err != nil {
		return 0, err
	}
	for _, existing := range t.state.books {
		if existing.UPC == b.UPC {
			return 0, catalog.ErrPersistence
		}
	}
	b.ID = t.state.id()
	t.state.books[b.ID] = b
	return b.ID, nil
}

func (t *memTx) UpdateBook(_ context.Context, b catalog.Book) error {
	if err := checkRating(b.Rating); err != nil {
		return err
	}
	if _, ok := t.state.books[b.ID]; !ok {
		return catalog.ErrNotFound
	}
	t.state.books[b.ID] = b
	return nil
}

// checkRating mirrors the books.rating CHECK constraint.
func checkRating(rating int) error {
	if rating < 0 || rating > 5 {
		return fmt.Errorf("%w: rating %d outside 0..5", catalog.ErrPersistence, rating)
	}
	return nil
}

func (t *memTx) InsertSnapshot(_ context.Context, s catalog.BookSnapshot) (int64, error) {
	if _, ok := t.state.books[s.BookID]; !ok {
		return 0, catalog.ErrNotFound
	}
	s.ID = t.state.id()
	t.state.snapshots[s.ID] = s
	return s.ID, nil
}

func (t *memTx) PruneSnapshots(_ context.Context, bookID int64, keep int) (int64, error) {
	history := snapshotsNewestFirst(t.state, bookID)
	if len(history) <= keep {
		return 0, nil
	}
	var removed int64
	for _, s := range history[keep:] {
		delete(t.state.snapshots, s.ID)
		removed++
	}
	return removed, nil
}

func snapshotsNewestFirst(state catalogState, bookID int64) []catalog.BookSnapshot {
	out := make([]catalog.BookSnapshot, 0)
	for _, s := range state.snapshots {
		if s.BookID == bookID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScrapedAt.Equal(out[j].ScrapedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].ScrapedAt.After(out[j].ScrapedAt)
	})
	return out
}

// ListBooks returns books ordered by id.
func (c *CatalogStore) ListBooks(_ context.Context, page catalog.Page) ([]catalog.BookDetail, error) {
	return c.filterBooks(page, func(catalog.BookDetail) bool { return true }), nil
}

// GetBook returns the book or catalog.ErrNotFound.
func (c *CatalogStore) GetBook(_ context.Context, id int64) (catalog.BookDetail, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.state.books[id]
	if !ok {
		return catalog.BookDetail{}, catalog.ErrNotFound
	}
	return c.detail(b), nil
}

// BooksByCategory filters on the category name.
func (c *CatalogStore) BooksByCategory(
	_ context.Context,
	name string,
	exact bool,
	page catalog.Page,
) ([]catalog.BookDetail, error) {
	needle := strings.ToLower(name)
	return c.filterBooks(page, func(d catalog.BookDetail) bool {
		if exact {
			return d.Category.Name == name
		}
		return strings.Contains(strings.ToLower(d.Category.Name), needle)
	}), nil
}

// BooksByCategoryID filters on the category id.
func (c *CatalogStore) BooksByCategoryID(
	_ context.Context,
	categoryID int64,
	page catalog.Page,
) ([]catalog.BookDetail, error) {
	return c.filterBooks(page, func(d catalog.BookDetail) bool {
		return d.CategoryID == categoryID
	}), nil
}

// BooksByTitle filters on a case-insensitive title substring.
func (c *CatalogStore) BooksByTitle(_ context.Context, fragment string, page catalog.Page) ([]catalog.BookDetail, error) {
	needle := strings.ToLower(fragment)
	return c.filterBooks(page, func(d catalog.BookDetail) bool {
		return strings.Contains(strings.ToLower(d.Title), needle)
	}), nil
}

// BooksByRating filters on an inclusive rating range.
func (c *CatalogStore) BooksByRating(
	_ context.Context,
	minRating, maxRating int,
	page catalog.Page,
) ([]catalog.BookDetail, error) {
	return c.filterBooks(page, func(d catalog.BookDetail) bool {
		return d.Rating >= minRating && d.Rating <= maxRating
	}), nil
}

// ListCategories returns categories ordered by name.
func (c *CatalogStore) ListCategories(context.Context) ([]catalog.Category, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]catalog.Category, 0, len(c.state.categories))
	for _, v := range c.state.categories {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Snapshots returns the newest snapshots first; limit <= 0 means all.
func (c *CatalogStore) Snapshots(_ context.Context, bookID int64, limit int) ([]catalog.BookSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := snapshotsNewestFirst(c.state, bookID)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PriceHistory returns snapshot prices oldest first.
func (c *CatalogStore) PriceHistory(_ context.Context, bookID int64) ([]catalog.PricePoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	history := snapshotsNewestFirst(c.state, bookID)
	out := make([]catalog.PricePoint, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, catalog.PricePoint{
			ScrapedAt:    history[i].ScrapedAt,
			PriceExclTax: history[i].PriceExclTax,
			PriceInclTax: history[i].PriceInclTax,
		})
	}
	return out, nil
}

// RatingHistory returns snapshot ratings oldest first.
func (c *CatalogStore) RatingHistory(_ context.Context, bookID int64) ([]catalog.RatingPoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	history := snapshotsNewestFirst(c.state, bookID)
	out := make([]catalog.RatingPoint, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, catalog.RatingPoint{ScrapedAt: history[i].ScrapedAt, Rating: history[i].Rating})
	}
	return out, nil
}

// SnapshotPriceStats aggregates snapshot prices.
func (c *CatalogStore) SnapshotPriceStats(_ context.Context, bookID int64) (catalog.PriceStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	history := snapshotsNewestFirst(c.state, bookID)
	if len(history) == 0 {
		return catalog.PriceStats{}, catalog.ErrNotFound
	}
	stats := catalog.PriceStats{
		BookID:    bookID,
		Snapshots: len(history),
		Min:       history[0].PriceInclTax,
		Max:       history[0].PriceInclTax,
	}
	sum := decimal.Zero
	for _, s := range history {
		stats.Min = decimal.Min(stats.Min, s.PriceInclTax)
		stats.Max = decimal.Max(stats.Max, s.PriceInclTax)
		sum = sum.Add(s.PriceInclTax)
	}
	stats.Avg = sum.Div(decimal.NewFromInt(int64(len(history))))
	return stats, nil
}

// AveragePrice averages the incl. tax price over the catalog.
func (c *CatalogStore) AveragePrice(context.Context) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.state.books) == 0 {
		return decimal.Zero, catalog.ErrNotFound
	}
	sum := decimal.Zero
	for _, b := range c.state.books {
		sum = sum.Add(b.PriceInclTax)
	}
	return sum.Div(decimal.NewFromInt(int64(len(c.state.books)))), nil
}

// AveragePriceByCategory averages prices per category, ordered by name.
func (c *CatalogStore) AveragePriceByCategory(context.Context) ([]catalog.CategoryAverage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sums := map[string]decimal.Decimal{}
	counts := map[string]int64{}
	for _, b := range c.state.books {
		name := c.state.categories[b.CategoryID].Name
		sums[name] = sums[name].Add(b.PriceInclTax)
		counts[name]++
	}
	out := make([]catalog.CategoryAverage, 0, len(sums))
	for name, sum := range sums {
		out = append(out, catalog.CategoryAverage{
			Category: name,
			Average:  sum.Div(decimal.NewFromInt(counts[name])),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

// TopCategories ranks categories by book count.
func (c *CatalogStore) TopCategories(_ context.Context, limit int) ([]catalog.CategoryCount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counts := map[string]int{}
	for _, b := range c.state.books {
		counts[c.state.categories[b.CategoryID].Name]++
	}
	out := make([]catalog.CategoryCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, catalog.CategoryCount{Category: name, Books: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Books == out[j].Books {
			return out[i].Category < out[j].Category
		}
		return out[i].Books > out[j].Books
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TopExpensiveBooks ranks books by incl. tax price.
func (c *CatalogStore) TopExpensiveBooks(_ context.Context, limit int) ([]catalog.BookPrice, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]catalog.BookPrice, 0, len(c.state.books))
	for _, b := range c.state.books {
		out = append(out, catalog.BookPrice{BookID: b.ID, UPC: b.UPC, Title: b.Title, Price: b.PriceInclTax})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price.Equal(out[j].Price) {
			return out[i].BookID < out[j].BookID
		}
		return out[i].Price.GreaterThan(out[j].Price)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TaxByProductType sums price_incl_tax * tax / 100 per product type.
func (c *CatalogStore) TaxByProductType(context.Context) ([]catalog.ProductTypeTax, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hundred := decimal.NewFromInt(100)
	totals := map[string]decimal.Decimal{}
	for _, b := range c.state.books {
		name := c.state.productTypes[b.ProductTypeID].Name
		amount := c.state.taxes[b.TaxID].Amount
		totals[name] = totals[name].Add(b.PriceInclTax.Mul(amount).Div(hundred))
	}
	out := make([]catalog.ProductTypeTax, 0, len(totals))
	for name, total := range totals {
		out = append(out, catalog.ProductTypeTax{ProductType: name, TotalTax: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductType < out[j].ProductType })
	return out, nil
}

// ExportBooks returns every book ordered by UPC.
func (c *CatalogStore) ExportBooks(context.Context) ([]catalog.BookDetail, error) {
	all := c.filterBooks(catalog.Page{}, func(catalog.BookDetail) bool { return true })
	sort.Slice(all, func(i, j int) bool { return all[i].UPC < all[j].UPC })
	return all, nil
}

func (c *CatalogStore) filterBooks(page catalog.Page, keep func(catalog.BookDetail) bool) []catalog.BookDetail {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]catalog.BookDetail, 0)
	for _, b := range c.state.books {
		d := c.detail(b)
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if page.Offset > 0 {
		if page.Offset >= len(out) {
			return make([]catalog.BookDetail, 0)
		}
		out = out[page.Offset:]
	}
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out
}

func (c *CatalogStore) detail(b catalog.Book) catalog.BookDetail {
	return catalog.BookDetail{
		Book:        b,
		Category:    c.state.categories[b.CategoryID],
		ProductType: c.state.productTypes[b.ProductTypeID],
		Tax:         c.state.taxes[b.TaxID],
	}
}
