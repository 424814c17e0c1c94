// Package catalog declares the book catalog entities and the storage
// interfaces the ingestion pipeline and the read API are written against.
package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Default labels applied when a new book arrives without dimension data.
const (
	UnknownLabel = "Unknown"
	UnknownTitle = "Unknown"
)

// Book is the live catalog row for one UPC.
type Book struct {
	// ID is the surrogate key assigned by the store.
	ID int64
	// UPC is the natural key; at most one live Book exists per UPC.
	UPC             string
	Title           string
	PriceExclTax    decimal.Decimal
	PriceInclTax    decimal.Decimal
	Availability    int
	NumberOfReviews int
	// Rating is on a 0..5 scale.
	Rating      int
	Description *string
	ImageURL    *string

	CategoryID    int64
	ProductTypeID int64
	TaxID         int64
}

// BookDetail is a Book joined with its dimension rows.
type BookDetail struct {
	Book
	Category    Category
	ProductType ProductType
	Tax         Tax
}

// BookSnapshot captures the mutable fields of a Book as they were right before
// an update overwrote them.
type BookSnapshot struct {
	ID              int64
	BookID          int64
	ScrapedAt       time.Time
	Title           string
	PriceExclTax    decimal.Decimal
	PriceInclTax    decimal.Decimal
	Availability    int
	NumberOfReviews int
	Rating          int
}

// SnapshotOf builds the snapshot of b taken at the given instant.
func SnapshotOf(b Book, at time.Time) BookSnapshot {
	return BookSnapshot{
		BookID:          b.ID,
		ScrapedAt:       at,
		Title:           b.Title,
		PriceExclTax:    b.PriceExclTax,
		PriceInclTax:    b.PriceInclTax,
		Availability:    b.Availability,
		NumberOfReviews: b.NumberOfReviews,
		Rating:          b.Rating,
	}
}

// Category is a book category dimension row.
type Category struct {
	ID   int64
	Name string
}

// ProductType is a product type dimension row.
type ProductType struct {
	ID   int64
	Name string
}

// Tax is a tax amount dimension row.
type Tax struct {
	ID     int64
	Amount decimal.Decimal
}

// Dimensions holds every dimension row known to the store.
type Dimensions struct {
	Categories   []Category
	ProductTypes []ProductType
	Taxes        []Tax
}

// PricePoint is one entry of a book's price history.
type PricePoint struct {
	ScrapedAt    time.Time
	PriceExclTax decimal.Decimal
	PriceInclTax decimal.Decimal
}

// RatingPoint is one entry of a book's rating history.
type RatingPoint struct {
	ScrapedAt time.Time
	Rating    int
}

// PriceStats summarizes the incl. tax prices recorded in a book's snapshots.
type PriceStats struct {
	BookID    int64
	Snapshots int
	Min       decimal.Decimal
	Max       decimal.Decimal
	Avg       decimal.Decimal
}

// CategoryAverage is the average incl. tax price of one category.
type CategoryAverage struct {
	Category string
	Average  decimal.Decimal
}

// CategoryCount is the number of books in one category.
type CategoryCount struct {
	Category string
	Books    int
}

// BookPrice pairs a book with its incl. tax price.
type BookPrice struct {
	BookID int64
	UPC    string
	Title  string
	Price  decimal.Decimal
}

// ProductTypeTax is the total tax collected for one product type.
type ProductTypeTax struct {
	ProductType string
	TotalTax    decimal.Decimal
}
