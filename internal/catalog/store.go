package catalog

import (
	"context"

	"github.com/shopspring/decimal"
)

// Tx is the write surface available inside one record's transaction.
type Tx interface {
	// InsertCategory creates a category row and returns its id.
	InsertCategory(ctx context.Context, name string) (int64, error)
	// InsertProductType creates a product type row and returns its id.
	InsertProductType(ctx context.Context, name string) (int64, error)
	// InsertTax creates a tax row and returns its id.
	InsertTax(ctx context.Context, amount decimal.Decimal) (int64, error)
	// FindBookByUPC returns the live book or ErrNotFound.
	FindBookByUPC(ctx context.Context, upc string) (Book, error)
	// InsertBook creates the book row and returns its id.
	InsertBook(ctx context.Context, b Book) (int64, error)
	// UpdateBook overwrites every mutable column of the row with b.ID.
	UpdateBook(ctx context.Context, b Book) error
	// InsertSnapshot appends a snapshot and returns its id.
	InsertSnapshot(ctx context.Context, s BookSnapshot) (int64, error)
	// PruneSnapshots keeps the keep most recent snapshots of the book and
	// deletes the rest, returning how many rows were removed.
	PruneSnapshots(ctx context.Context, bookID int64, keep int) (int64, error)
}

// Writer is the store seen by the ingestion pipeline.
type Writer interface {
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
	// LoadDimensions returns every persisted dimension row.
	LoadDimensions(ctx context.Context) (Dimensions, error)
	// WithinTx runs fn in one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

// Reader is the read-only query surface. Every list method returns an empty
// slice when nothing matches. Book reads always include the dimension rows.
type Reader interface {
	Ping(ctx context.Context) error

	ListBooks(ctx context.Context, page Page) ([]BookDetail, error)
	GetBook(ctx context.Context, id int64) (BookDetail, error)
	// BooksByCategory matches the category name exactly when exact is true
	// and as a case-insensitive substring otherwise.
	BooksByCategory(ctx context.Context, name string, exact bool, page Page) ([]BookDetail, error)
	BooksByCategoryID(ctx context.Context, categoryID int64, page Page) ([]BookDetail, error)
	// BooksByTitle matches a case-insensitive title substring.
	BooksByTitle(ctx context.Context, fragment string, page Page) ([]BookDetail, error)
	BooksByRating(ctx context.Context, minRating, maxRating int, page Page) ([]BookDetail, error)
	ListCategories(ctx context.Context) ([]Category, error)

	// Snapshots returns the book's history, newest first.
	Snapshots(ctx context.Context, bookID int64, limit int) ([]BookSnapshot, error)
	// PriceHistory and RatingHistory return the history oldest first.
	PriceHistory(ctx context.Context, bookID int64) ([]PricePoint, error)
	RatingHistory(ctx context.Context, bookID int64) ([]RatingPoint, error)
	// SnapshotPriceStats returns ErrNotFound when the book has no snapshots.
	SnapshotPriceStats(ctx context.Context, bookID int64) (PriceStats, error)

	// AveragePrice returns ErrNotFound when the catalog is empty.
	AveragePrice(ctx context.Context) (decimal.Decimal, error)
	AveragePriceByCategory(ctx context.Context) ([]CategoryAverage, error)
	TopCategories(ctx context.Context, limit int) ([]CategoryCount, error)
	TopExpensiveBooks(ctx context.Context, limit int) ([]BookPrice, error)
	TaxByProductType(ctx context.Context) ([]ProductTypeTax, error)

	// ExportBooks returns every book ordered by UPC.
	ExportBooks(ctx context.Context) ([]BookDetail, error)
}
