package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
)

var detailCols = []string{
	"id", "upc", "title", "price_excl_tax", "price_incl_tax", "availability",
	"number_of_reviews", "rating", "description", "image_url",
	"category_id", "name", "product_type_id", "type_name", "tax_id", "amount",
}

func TestListBooksJoinsDimensions(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	desc := "A dark tale."
	mock.ExpectQuery("JOIN categories c ON c.id = b.category_id").
		WithArgs(10, 20).
		WillReturnRows(pgxmock.NewRows(detailCols).AddRow(
			int64(1), "AAA111", "X", decimal.NewFromInt(9), decimal.NewFromInt(10), 5, 0, 3,
			&desc, nil, int64(4), "Fiction", int64(5), "Books", int64(6), decimal.Zero,
		))

	books, err := store.ListBooks(context.Background(), catalog.Page{Limit: 10, Offset: 20})
	require.NoError(t, err)
	require.Len(t, books, 1)
	require.Equal(t, "Fiction", books[0].Category.Name)
	require.Equal(t, int64(4), books[0].CategoryID)
	require.Equal(t, "Books", books[0].ProductType.Name)
	require.Equal(t, int64(6), books[0].TaxID)
	require.Equal(t, desc, *books[0].Description)
	require.Nil(t, books[0].ImageURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBookNotFound(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("WHERE b.id = ").
		WithArgs(int64(99)).
		WillReturnRows(pgxmock.NewRows(detailCols))

	_, err := store.GetBook(context.Background(), 99)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBooksByCategoryExactAndFuzzy(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery(`WHERE c.name = \$1`).
		WithArgs("Poetry", nil, 0).
		WillReturnRows(pgxmock.NewRows(detailCols))
	mock.ExpectQuery(`WHERE c.name ILIKE`).
		WithArgs("poe", nil, 0).
		WillReturnRows(pgxmock.NewRows(detailCols))

	exact, err := store.BooksByCategory(context.Background(), "Poetry", true, catalog.Page{})
	require.NoError(t, err)
	require.NotNil(t, exact)
	require.Empty(t, exact)

	_, err = store.BooksByCategory(context.Background(), "poe", false, catalog.Page{})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchEscapesLikeWildcards(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery(`WHERE b.title ILIKE .* ESCAPE`).
		WithArgs(`50\%\_off\\now`, nil, 0).
		WillReturnRows(pgxmock.NewRows(detailCols))
	mock.ExpectQuery(`WHERE c.name ILIKE .* ESCAPE`).
		WithArgs(`sci\_fi`, nil, 0).
		WillReturnRows(pgxmock.NewRows(detailCols))

	_, err := store.BooksByTitle(context.Background(), `50%_off\now`, catalog.Page{})
	require.NoError(t, err)
	_, err = store.BooksByCategory(context.Background(), "sci_fi", false, catalog.Page{})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEscapeLike(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "Attic", want: "Attic"},
		{in: "100%", want: `100\%`},
		{in: "a_b", want: `a\_b`},
		{in: `back\slash`, want: `back\\slash`},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, escapeLike(tt.in), tt.in)
	}
}

func TestSnapshotsNewestFirst(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	t1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Hour)
	cols := []string{
		"id", "book_id", "scraped_at", "title", "price_excl_tax", "price_incl_tax",
		"availability", "number_of_reviews", "rating",
	}
	mock.ExpectQuery("ORDER BY scraped_at DESC, id DESC").
		WithArgs(int64(1), 2).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(11), int64(1), t1, "X", decimal.NewFromInt(11), decimal.NewFromInt(12), 1, 0, 3).
			AddRow(int64(10), int64(1), t0, "X", decimal.NewFromInt(9), decimal.NewFromInt(10), 1, 0, 3))

	snaps, err := store.Snapshots(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.True(t, snaps[0].ScrapedAt.After(snaps[1].ScrapedAt))
	require.True(t, snaps[1].PriceInclTax.Equal(decimal.NewFromInt(10)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotPriceStats(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	cols := []string{"count", "min", "max", "avg"}
	mock.ExpectQuery("FROM book_snapshots").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			2,
			decimal.NewNullDecimal(decimal.NewFromInt(10)),
			decimal.NewNullDecimal(decimal.NewFromInt(12)),
			decimal.NewNullDecimal(decimal.NewFromInt(11)),
		))
	mock.ExpectQuery("FROM book_snapshots").
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(0, nil, nil, nil))

	stats, err := store.SnapshotPriceStats(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Snapshots)
	require.True(t, stats.Avg.Equal(decimal.NewFromInt(11)))

	_, err = store.SnapshotPriceStats(context.Background(), 2)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalyticsQueries(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("SELECT AVG").
		WillReturnRows(pgxmock.NewRows([]string{"avg"}).AddRow(decimal.NewNullDecimal(decimal.RequireFromString("25.5"))))
	mock.ExpectQuery("GROUP BY c.name ORDER BY COUNT").
		WithArgs(3).
		WillReturnRows(pgxmock.NewRows([]string{"name", "count"}).AddRow("Poetry", 2).AddRow("Travel", 1))
	mock.ExpectQuery("ORDER BY price_incl_tax DESC").
		WithArgs(1).
		WillReturnRows(pgxmock.NewRows([]string{"id", "upc", "title", "price_incl_tax"}).
			AddRow(int64(8), "Z1", "Pricey", decimal.NewFromInt(59)))
	mock.ExpectQuery("SUM").
		WillReturnRows(pgxmock.NewRows([]string{"type_name", "total"}).AddRow("Books", decimal.RequireFromString("1.25")))

	ctx := context.Background()
	avg, err := store.AveragePrice(ctx)
	require.NoError(t, err)
	require.Equal(t, "25.5", avg.String())

	top, err := store.TopCategories(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, []catalog.CategoryCount{{Category: "Poetry", Books: 2}, {Category: "Travel", Books: 1}}, top)

	expensive, err := store.TopExpensiveBooks(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "Z1", expensive[0].UPC)

	taxes, err := store.TaxByProductType(ctx)
	require.NoError(t, err)
	require.Equal(t, "Books", taxes[0].ProductType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAveragePriceEmptyCatalog(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("SELECT AVG").WillReturnRows(pgxmock.NewRows([]string{"avg"}).AddRow(nil))

	_, err := store.AveragePrice(context.Background())
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	id := uuid.New()
	started := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	counters := catalog.RunCounters{Seen: 3, Inserted: 2, Updated: 1}

	mock.ExpectExec("INSERT INTO ingest_runs").
		WithArgs(id, started, catalog.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE ingest_runs").
		WithArgs(finished, catalog.RunSuccess, int64(3), int64(2), int64(1), int64(0), int64(0), int64(0), int64(0),
			(*string)(nil), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("FROM ingest_runs WHERE id = ").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "started_at", "finished_at", "status", "seen", "inserted", "updated",
			"malformed", "duplicates", "failed", "snapshots_pruned", "error_message",
		}).AddRow(id, started, &finished, catalog.RunSuccess,
			int64(3), int64(2), int64(1), int64(0), int64(0), int64(0), int64(0), nil))

	ctx := context.Background()
	require.NoError(t, store.StartRun(ctx, id, started))
	require.NoError(t, store.FinishRun(ctx, id, finished, catalog.RunSuccess, counters, nil))

	run, err := store.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, catalog.RunSuccess, run.Status)
	require.Equal(t, counters, run.Counters)
	require.Equal(t, finished, *run.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishUnknownRun(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	id := uuid.New()
	mock.ExpectExec("UPDATE ingest_runs").
		WithArgs(pgxmock.AnyArg(), catalog.RunError, int64(0), int64(0), int64(0), int64(0), int64(0), int64(0), int64(0),
			pgxmock.AnyArg(), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	msg := "boom"
	err := store.FinishRun(context.Background(), id, time.Now(), catalog.RunError, catalog.RunCounters{}, &msg)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestListRunsFiltersByStatus(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	status := catalog.RunError
	mock.ExpectQuery(`WHERE \(\$1::text IS NULL OR status = \$1\)`).
		WithArgs(&status, 5, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "started_at", "finished_at", "status", "seen", "inserted", "updated",
			"malformed", "duplicates", "failed", "snapshots_pruned", "error_message",
		}))

	runs, err := store.ListRuns(context.Background(), &status, 5, 0)
	require.NoError(t, err)
	require.Empty(t, runs)
	require.NoError(t, mock.ExpectationsWereMet())
}
