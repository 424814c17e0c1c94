package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
	"github.com/JakeFAU/book-catalog-pipeline/internal/storage/memory"
)

// countingReader counts analytics calls that reach the store.
type countingReader struct {
	*memory.CatalogStore
	topCategories int
}

func (r *countingReader) TopCategories(ctx context.Context, limit int) ([]catalog.CategoryCount, error) {
	r.topCategories++
	return r.CatalogStore.TopCategories(ctx, limit)
}

func seedStore(t *testing.T) (*memory.CatalogStore, int64) {
	t.Helper()
	store := memory.NewCatalogStore()
	var bookID int64
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		poetry, err := tx.InsertCategory(ctx, "Poetry")
		if err != nil {
			return err
		}
		travel, err := tx.InsertCategory(ctx, "Travel")
		if err != nil {
			return err
		}
		books, err := tx.InsertProductType(ctx, "Books")
		if err != nil {
			return err
		}
		tax, err := tx.InsertTax(ctx, decimal.Zero)
		if err != nil {
			return err
		}
		for _, b := range []catalog.Book{
			{UPC: "AAA111", Title: "A Light in the Attic", PriceInclTax: decimal.NewFromInt(51), Rating: 3, CategoryID: poetry},
			{UPC: "BBB222", Title: "Shakespeare's Sonnets", PriceInclTax: decimal.NewFromInt(20), Rating: 4, CategoryID: poetry},
			{UPC: "CCC333", Title: "Full Moon over Noah's Ark", PriceInclTax: decimal.NewFromInt(49), Rating: 1, CategoryID: travel},
		} {
			b.ProductTypeID, b.TaxID = books, tax
			id, err := tx.InsertBook(ctx, b)
			if err != nil {
				return err
			}
			if b.UPC == "AAA111" {
				bookID = id
			}
		}
		at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i, price := range []int64{40, 45} {
			if _, err := tx.InsertSnapshot(ctx, catalog.BookSnapshot{
				BookID: bookID, ScrapedAt: at.Add(time.Duration(i) * time.Hour),
				PriceInclTax: decimal.NewFromInt(price), Rating: 2 + i,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return store, bookID
}

func newTestService(t *testing.T, reader catalog.Reader, cache Cache) *Service {
	t.Helper()
	svc, err := NewService(reader, cache, nil)
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresReader(t *testing.T) {
	t.Parallel()

	_, err := NewService(nil, nil, nil)
	require.Error(t, err)
}

func TestBookLookups(t *testing.T) {
	t.Parallel()

	store, bookID := seedStore(t)
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	all, err := svc.AllBooks(ctx, catalog.Page{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	book, err := svc.BookByID(ctx, bookID)
	require.NoError(t, err)
	require.Equal(t, "Poetry", book.Category.Name)

	_, err = svc.BookByID(ctx, 9999)
	require.ErrorIs(t, err, catalog.ErrNotFound)

	exact, err := svc.BooksByCategory(ctx, "Poetry", true, catalog.Page{})
	require.NoError(t, err)
	require.Len(t, exact, 2)

	fuzzy, err := svc.BooksByCategory(ctx, "trav", false, catalog.Page{})
	require.NoError(t, err)
	require.Len(t, fuzzy, 1)

	byTitle, err := svc.BooksByTitle(ctx, "sonnets", catalog.Page{})
	require.NoError(t, err)
	require.Len(t, byTitle, 1)

	none, err := svc.BooksByTitle(ctx, "nothing like this", catalog.Page{})
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)
}

func TestBooksByRatingValidation(t *testing.T) {
	t.Parallel()

	store, _ := seedStore(t)
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	for _, r := range [][2]int{{-1, 3}, {0, 6}, {4, 2}} {
		_, err := svc.BooksByRating(ctx, r[0], r[1], catalog.Page{})
		require.ErrorIs(t, err, ErrInvalidArgument, "range %v", r)
	}

	books, err := svc.BooksByRating(ctx, 3, 5, catalog.Page{})
	require.NoError(t, err)
	require.Len(t, books, 2)
}

func TestInvalidInputs(t *testing.T) {
	t.Parallel()

	store, _ := seedStore(t)
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	_, err := svc.BooksByCategory(ctx, "  ", true, catalog.Page{})
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = svc.BooksByTitle(ctx, "", catalog.Page{})
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = svc.AllBooks(ctx, catalog.Page{Limit: -1})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestHistoryQueries(t *testing.T) {
	t.Parallel()

	store, bookID := seedStore(t)
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	history, err := svc.BookHistory(ctx, bookID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.True(t, history[0].PriceInclTax.Equal(decimal.NewFromInt(45)))

	prices, err := svc.PriceEvolution(ctx, bookID)
	require.NoError(t, err)
	require.True(t, prices[0].PriceInclTax.Equal(decimal.NewFromInt(40)))

	ratings, err := svc.RatingEvolution(ctx, bookID)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, []int{ratings[0].Rating, ratings[1].Rating})

	stats, err := svc.SnapshotPriceStats(ctx, bookID)
	require.NoError(t, err)
	require.True(t, stats.Avg.Equal(decimal.RequireFromString("42.5")))

	empty, err := svc.BookHistory(ctx, 9999, 5)
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestAnalyticsAreCachedUntilInvalidated(t *testing.T) {
	t.Parallel()

	store, _ := seedStore(t)
	reader := &countingReader{CatalogStore: store}
	cache := NewMemoryCache(time.Minute, 0)
	svc := newTestService(t, reader, cache)
	ctx := context.Background()

	first, err := svc.TopCategories(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []catalog.CategoryCount{{Category: "Poetry", Books: 2}}, first)

	second, err := svc.TopCategories(ctx, -5)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, reader.topCategories)

	require.NoError(t, svc.Invalidate(ctx))
	_, err = svc.TopCategories(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, reader.topCategories)
}

func TestAnalytics(t *testing.T) {
	t.Parallel()

	store, _ := seedStore(t)
	svc := newTestService(t, store, NewMemoryCache(0, 0))
	ctx := context.Background()

	avg, err := svc.AveragePrice(ctx)
	require.NoError(t, err)
	require.True(t, avg.Equal(decimal.NewFromInt(40)))

	// A second read is served from cache and must decode to the same value.
	avg, err = svc.AveragePrice(ctx)
	require.NoError(t, err)
	require.True(t, avg.Equal(decimal.NewFromInt(40)))

	perCategory, err := svc.AveragePricePerCategory(ctx)
	require.NoError(t, err)
	require.Len(t, perCategory, 2)

	top, err := svc.TopExpensiveBooks(ctx, 500)
	require.NoError(t, err)
	require.Len(t, top, 3)
	require.Equal(t, "AAA111", top[0].UPC)

	taxes, err := svc.TaxPerProductType(ctx)
	require.NoError(t, err)
	require.Len(t, taxes, 1)
	require.True(t, taxes[0].TotalTax.IsZero())
}

func TestAveragePriceEmptyCatalog(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, memory.NewCatalogStore(), nil)
	_, err := svc.AveragePrice(context.Background())
	require.True(t, errors.Is(err, catalog.ErrNotFound))
}

func TestMemoryCacheExpires(t *testing.T) {
	t.Parallel()

	cache := NewMemoryCache(50*time.Millisecond, 0)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []string{"v"}))
	var got []string
	hit, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []string{"v"}, got)

	require.Eventually(t, func() bool {
		hit, err := cache.Get(ctx, "k", &got)
		return err == nil && !hit
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryCacheEvictsOldestBeyondSize(t *testing.T) {
	t.Parallel()

	cache := NewMemoryCache(time.Minute, 2)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, cache.Set(ctx, key, key))
	}
	require.Equal(t, 2, cache.Len())

	var got string
	hit, err := cache.Get(ctx, "a", &got)
	require.NoError(t, err)
	require.False(t, hit)
	hit, err = cache.Get(ctx, "c", &got)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "c", got)

	require.NoError(t, cache.Invalidate(ctx))
	require.Zero(t, cache.Len())
}
