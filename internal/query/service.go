// Package query is the read side of the catalog: book lookups, snapshot
// history and aggregate analytics, with analytics results cached.
package query

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
)

// ErrInvalidArgument marks caller input the service refuses to run.
var ErrInvalidArgument = errors.New("invalid query argument")

const (
	// MaxTopN caps top-N analytics queries.
	MaxTopN = 100
	// MaxPageSize caps list queries.
	MaxPageSize = 1000
	// DefaultHistoryLimit applies when BookHistory gets a non-positive limit.
	DefaultHistoryLimit = 10

	minRating = 0
	maxRating = 5
)

// Service answers catalog read queries.
type Service struct {
	reader catalog.Reader
	cache  Cache
	logger *zap.Logger
}

// NewService builds a Service. A nil cache disables analytics caching.
func NewService(reader catalog.Reader, cache Cache, logger *zap.Logger) (*Service, error) {
	if reader == nil {
		return nil, errors.New("query: reader is required")
	}
	if cache == nil {
		cache = noCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{reader: reader, cache: cache, logger: logger}, nil
}

// Ping reports whether the store answers.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.reader.Ping(ctx); err != nil {
		return fmt.Errorf("ping catalog store: %w", err)
	}
	return nil
}

// AllBooks lists books with their dimensions.
func (s *Service) AllBooks(ctx context.Context, page catalog.Page) ([]catalog.BookDetail, error) {
	page, err := normalizePage(page)
	if err != nil {
		return nil, err
	}
	books, err := s.reader.ListBooks(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return nonNil(books), nil
}

// BookByID returns catalog.ErrNotFound for unknown ids.
func (s *Service) BookByID(ctx context.Context, id int64) (catalog.BookDetail, error) {
	book, err := s.reader.GetBook(ctx, id)
	if err != nil {
		return catalog.BookDetail{}, fmt.Errorf("get book %d: %w", id, err)
	}
	return book, nil
}

// BooksByCategory matches the name exactly or as a case-insensitive substring.
func (s *Service) BooksByCategory(ctx context.Context, name string, exact bool, page catalog.Page) ([]catalog.BookDetail, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: category name is required", ErrInvalidArgument)
	}
	page, err := normalizePage(page)
	if err != nil {
		return nil, err
	}
	books, err := s.reader.BooksByCategory(ctx, name, exact, page)
	if err != nil {
		return nil, fmt.Errorf("books by category %q: %w", name, err)
	}
	return nonNil(books), nil
}

// BooksByCategoryID lists the books of one category row.
func (s *Service) BooksByCategoryID(ctx context.Context, categoryID int64, page catalog.Page) ([]catalog.BookDetail, error) {
	page, err := normalizePage(page)
	if err != nil {
		return nil, err
	}
	books, err := s.reader.BooksByCategoryID(ctx, categoryID, page)
	if err != nil {
		return nil, fmt.Errorf("books by category id %d: %w", categoryID, err)
	}
	return nonNil(books), nil
}

// BooksByTitle searches titles case-insensitively.
func (s *Service) BooksByTitle(ctx context.Context, fragment string, page catalog.Page) ([]catalog.BookDetail, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}
	page, err := normalizePage(page)
	if err != nil {
		return nil, err
	}
	books, err := s.reader.BooksByTitle(ctx, fragment, page)
	if err != nil {
		return nil, fmt.Errorf("books by title %q: %w", fragment, err)
	}
	return nonNil(books), nil
}

// BooksByRating lists books whose rating lies in [lo, hi].
func (s *Service) BooksByRating(ctx context.Context, lo, hi int, page catalog.Page) ([]catalog.BookDetail, error) {
	if lo < minRating || hi > maxRating || lo > hi {
		return nil, fmt.Errorf("%w: rating range must satisfy 0 <= min <= max <= 5, got %d..%d",
			ErrInvalidArgument, lo, hi)
	}
	page, err := normalizePage(page)
	if err != nil {
		return nil, err
	}
	books, err := s.reader.BooksByRating(ctx, lo, hi, page)
	if err != nil {
		return nil, fmt.Errorf("books by rating: %w", err)
	}
	return nonNil(books), nil
}

// Categories lists every category.
func (s *Service) Categories(ctx context.Context) ([]catalog.Category, error) {
	cats, err := s.reader.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return nonNil(cats), nil
}

// BookHistory returns up to limit snapshots, newest first.
func (s *Service) BookHistory(ctx context.Context, bookID int64, limit int) ([]catalog.BookSnapshot, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	snaps, err := s.reader.Snapshots(ctx, bookID, min(limit, MaxPageSize))
	if err != nil {
		return nil, fmt.Errorf("book %d history: %w", bookID, err)
	}
	return nonNil(snaps), nil
}

// PriceEvolution returns the snapshot prices oldest first.
func (s *Service) PriceEvolution(ctx context.Context, bookID int64) ([]catalog.PricePoint, error) {
	points, err := s.reader.PriceHistory(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("book %d price history: %w", bookID, err)
	}
	return nonNil(points), nil
}

// RatingEvolution returns the snapshot ratings oldest first.
func (s *Service) RatingEvolution(ctx context.Context, bookID int64) ([]catalog.RatingPoint, error) {
	points, err := s.reader.RatingHistory(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("book %d rating history: %w", bookID, err)
	}
	return nonNil(points), nil
}

// SnapshotPriceStats returns catalog.ErrNotFound when the book has no snapshots.
func (s *Service) SnapshotPriceStats(ctx context.Context, bookID int64) (catalog.PriceStats, error) {
	stats, err := s.reader.SnapshotPriceStats(ctx, bookID)
	if err != nil {
		return catalog.PriceStats{}, fmt.Errorf("book %d price stats: %w", bookID, err)
	}
	return stats, nil
}

// AveragePrice returns catalog.ErrNotFound when the catalog is empty.
func (s *Service) AveragePrice(ctx context.Context) (decimal.Decimal, error) {
	return cached(ctx, s, "average-price", func(ctx context.Context) (decimal.Decimal, error) {
		return s.reader.AveragePrice(ctx)
	})
}

// AveragePricePerCategory returns the average incl. tax price per category.
func (s *Service) AveragePricePerCategory(ctx context.Context) ([]catalog.CategoryAverage, error) {
	avgs, err := cached(ctx, s, "average-price-by-category", s.reader.AveragePriceByCategory)
	if err != nil {
		return nil, err
	}
	return nonNil(avgs), nil
}

// TopCategories returns the n categories with the most books; n is clamped to 1..MaxTopN.
func (s *Service) TopCategories(ctx context.Context, n int) ([]catalog.CategoryCount, error) {
	n = clampTopN(n)
	top, err := cached(ctx, s, "top-categories:"+strconv.Itoa(n), func(ctx context.Context) ([]catalog.CategoryCount, error) {
		return s.reader.TopCategories(ctx, n)
	})
	if err != nil {
		return nil, err
	}
	return nonNil(top), nil
}

// TopExpensiveBooks returns the n priciest books; n is clamped to 1..MaxTopN.
func (s *Service) TopExpensiveBooks(ctx context.Context, n int) ([]catalog.BookPrice, error) {
	n = clampTopN(n)
	top, err := cached(ctx, s, "top-expensive:"+strconv.Itoa(n), func(ctx context.Context) ([]catalog.BookPrice, error) {
		return s.reader.TopExpensiveBooks(ctx, n)
	})
	if err != nil {
		return nil, err
	}
	return nonNil(top), nil
}

// TaxPerProductType returns SUM(price_incl_tax * tax / 100) per product type.
func (s *Service) TaxPerProductType(ctx context.Context) ([]catalog.ProductTypeTax, error) {
	taxes, err := cached(ctx, s, "tax-by-product-type", s.reader.TaxByProductType)
	if err != nil {
		return nil, err
	}
	return nonNil(taxes), nil
}

// Invalidate drops cached analytics.
func (s *Service) Invalidate(ctx context.Context) error {
	if err := s.cache.Invalidate(ctx); err != nil {
		return fmt.Errorf("invalidate analytics cache: %w", err)
	}
	return nil
}

// cached serves key from the cache or computes and stores it. Cache failures
// are logged and never fail the query.
func cached[T any](ctx context.Context, s *Service, key string, load func(context.Context) (T, error)) (T, error) {
	var out T
	hit, err := s.cache.Get(ctx, key, &out)
	if err != nil {
		s.logger.Warn("analytics cache read failed", zap.String("key", key), zap.Error(err))
	}
	if hit {
		return out, nil
	}
	out, err = load(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("analytics %s: %w", key, err)
	}
	if err := s.cache.Set(ctx, key, out); err != nil {
		s.logger.Warn("analytics cache write failed", zap.String("key", key), zap.Error(err))
	}
	return out, nil
}

func normalizePage(page catalog.Page) (catalog.Page, error) {
	if page.Limit < 0 || page.Offset < 0 {
		return page, fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidArgument)
	}
	if page.Limit > MaxPageSize {
		page.Limit = MaxPageSize
	}
	return page, nil
}

func clampTopN(n int) int {
	return max(1, min(n, MaxTopN))
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
