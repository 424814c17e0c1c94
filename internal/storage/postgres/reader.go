package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
)

// bookDetailSelect joins every dimension a book read returns.
const bookDetailSelect = `
	SELECT b.id, b.upc, b.title, b.price_excl_tax, b.price_incl_tax, b.availability,
		b.number_of_reviews, b.rating, b.description, b.image_url,
		c.id, c.name, p.id, p.type_name, t.id, t.amount
	FROM books b
	JOIN categories c ON c.id = b.category_id
	JOIN product_types p ON p.id = b.product_type_id
	JOIN taxes t ON t.id = b.tax_id
`

func scanBookDetail(row pgx.CollectableRow) (catalog.BookDetail, error) {
	var d catalog.BookDetail
	err := row.Scan(
		&d.ID,
		&d.UPC,
		&d.Title,
		&d.PriceExclTax,
		&d.PriceInclTax,
		&d.Availability,
		&d.NumberOfReviews,
		&d.Rating,
		&d.Description,
		&d.ImageURL,
		&d.Category.ID,
		&d.Category.Name,
		&d.ProductType.ID,
		&d.ProductType.Name,
		&d.Tax.ID,
		&d.Tax.Amount,
	)
	d.CategoryID = d.Category.ID
	d.ProductTypeID = d.ProductType.ID
	d.TaxID = d.Tax.ID
	return d, err
}

func (s *CatalogStore) queryBooks(ctx context.Context, query string, args ...any) ([]catalog.BookDetail, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	books, err := pgx.CollectRows(rows, scanBookDetail)
	if err != nil {
		return nil, fmt.Errorf("failed to scan book row: %w", err)
	}
	return books, nil
}

// ListBooks returns books ordered by id.
func (s *CatalogStore) ListBooks(ctx context.Context, page catalog.Page) ([]catalog.BookDetail, error) {
	return s.queryBooks(ctx, bookDetailSelect+`ORDER BY b.id LIMIT $1 OFFSET $2;`, limitArg(page.Limit), page.Offset)
}

// GetBook returns one book or catalog.ErrNotFound.
func (s *CatalogStore) GetBook(ctx context.Context, id int64) (catalog.BookDetail, error) {
	books, err := s.queryBooks(ctx, bookDetailSelect+`WHERE b.id = $1;`, id)
	if err != nil {
		return catalog.BookDetail{}, err
	}
	if len(books) == 0 {
		return catalog.BookDetail{}, catalog.ErrNotFound
	}
	return books[0], nil
}

// BooksByCategory matches the category name exactly or with ILIKE.
func (s *CatalogStore) BooksByCategory(
	ctx context.Context,
	name string,
	exact bool,
	page catalog.Page,
) ([]catalog.BookDetail, error) {
	if exact {
		return s.queryBooks(ctx, bookDetailSelect+`WHERE c.name = $1 ORDER BY b.id LIMIT $2 OFFSET $3;`,
			name, limitArg(page.Limit), page.Offset)
	}
	return s.queryBooks(ctx, bookDetailSelect+`WHERE c.name ILIKE '%' || $1 || '%' ESCAPE '\' ORDER BY b.id LIMIT $2 OFFSET $3;`,
		escapeLike(name), limitArg(page.Limit), page.Offset)
}

// BooksByCategoryID filters on the category key.
func (s *CatalogStore) BooksByCategoryID(
	ctx context.Context,
	categoryID int64,
	page catalog.Page,
) ([]catalog.BookDetail, error) {
	return s.queryBooks(ctx, bookDetailSelect+`WHERE b.category_id = $1 ORDER BY b.id LIMIT $2 OFFSET $3;`,
		categoryID, limitArg(page.Limit), page.Offset)
}

// BooksByTitle matches a case-insensitive title fragment.
func (s *CatalogStore) BooksByTitle(ctx context.Context, fragment string, page catalog.Page) ([]catalog.BookDetail, error) {
	return s.queryBooks(ctx, bookDetailSelect+`WHERE b.title ILIKE '%' || $1 || '%' ESCAPE '\' ORDER BY b.id LIMIT $2 OFFSET $3;`,
		escapeLike(fragment), limitArg(page.Limit), page.Offset)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes a search fragment match literally inside an ILIKE pattern.
func escapeLike(fragment string) string {
	return likeEscaper.Replace(fragment)
}

// BooksByRating filters on an inclusive rating range.
func (s *CatalogStore) BooksByRating(
	ctx context.Context,
	minRating, maxRating int,
	page catalog.Page,
) ([]catalog.BookDetail, error) {
	return s.queryBooks(ctx, bookDetailSelect+`WHERE b.rating BETWEEN $1 AND $2 ORDER BY b.id LIMIT $3 OFFSET $4;`,
		minRating, maxRating, limitArg(page.Limit), page.Offset)
}

// ExportBooks returns the whole catalog ordered by upc.
func (s *CatalogStore) ExportBooks(ctx context.Context) ([]catalog.BookDetail, error) {
	return s.queryBooks(ctx, bookDetailSelect+`ORDER BY b.upc;`)
}

// ListCategories returns categories ordered by name.
func (s *CatalogStore) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM categories ORDER BY name;`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	categories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Category, error) {
		var c catalog.Category
		return c, row.Scan(&c.ID, &c.Name)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan category row: %w", err)
	}
	return categories, nil
}

// Snapshots returns the book's history newest first.
func (s *CatalogStore) Snapshots(ctx context.Context, bookID int64, limit int) ([]catalog.BookSnapshot, error) {
	query := `
		SELECT id, book_id, scraped_at, title, price_excl_tax, price_incl_tax,
			availability, number_of_reviews, rating
		FROM book_snapshots
		WHERE book_id = $1
		ORDER BY scraped_at DESC, id DESC
		LIMIT $2;
	`
	rows, err := s.pool.Query(ctx, query, bookID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	snaps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.BookSnapshot, error) {
		var snap catalog.BookSnapshot
		err := row.Scan(
			&snap.ID,
			&snap.BookID,
			&snap.ScrapedAt,
			&snap.Title,
			&snap.PriceExclTax,
			&snap.PriceInclTax,
			&snap.Availability,
			&snap.NumberOfReviews,
			&snap.Rating,
		)
		return snap, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
	}
	return snaps, nil
}

// PriceHistory returns snapshot prices oldest first.
func (s *CatalogStore) PriceHistory(ctx context.Context, bookID int64) ([]catalog.PricePoint, error) {
	query := `
		SELECT scraped_at, price_excl_tax, price_incl_tax
		FROM book_snapshots
		WHERE book_id = $1
		ORDER BY scraped_at ASC, id ASC;
	`
	rows, err := s.pool.Query(ctx, query, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.PricePoint, error) {
		var p catalog.PricePoint
		return p, row.Scan(&p.ScrapedAt, &p.PriceExclTax, &p.PriceInclTax)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan price point: %w", err)
	}
	return points, nil
}

// RatingHistory returns snapshot ratings oldest first.
func (s *CatalogStore) RatingHistory(ctx context.Context, bookID int64) ([]catalog.RatingPoint, error) {
	query := `
		SELECT scraped_at, rating
		FROM book_snapshots
		WHERE book_id = $1
		ORDER BY scraped_at ASC, id ASC;
	`
	rows, err := s.pool.Query(ctx, query, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rating history: %w", err)
	}
	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.RatingPoint, error) {
		var p catalog.RatingPoint
		return p, row.Scan(&p.ScrapedAt, &p.Rating)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan rating point: %w", err)
	}
	return points, nil
}

// SnapshotPriceStats aggregates the incl. tax price over the book's snapshots.
func (s *CatalogStore) SnapshotPriceStats(ctx context.Context, bookID int64) (catalog.PriceStats, error) {
	query := `
		SELECT COUNT(*), MIN(price_incl_tax), MAX(price_incl_tax), AVG(price_incl_tax)
		FROM book_snapshots
		WHERE book_id = $1;
	`
	var (
		count       int
		lo, hi, avg decimal.NullDecimal
	)
	if err := s.pool.QueryRow(ctx, query, bookID).Scan(&count, &lo, &hi, &avg); err != nil {
		return catalog.PriceStats{}, fmt.Errorf("failed to aggregate snapshot prices: %w", err)
	}
	if count == 0 {
		return catalog.PriceStats{}, catalog.ErrNotFound
	}
	return catalog.PriceStats{
		BookID:    bookID,
		Snapshots: count,
		Min:       lo.Decimal,
		Max:       hi.Decimal,
		Avg:       avg.Decimal,
	}, nil
}

// AveragePrice averages price_incl_tax over every book.
func (s *CatalogStore) AveragePrice(ctx context.Context) (decimal.Decimal, error) {
	var avg decimal.NullDecimal
	if err := s.pool.QueryRow(ctx, `SELECT AVG(price_incl_tax) FROM books;`).Scan(&avg); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, catalog.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to average prices: %w", err)
	}
	if !avg.Valid {
		return decimal.Zero, catalog.ErrNotFound
	}
	return avg.Decimal, nil
}

// AveragePriceByCategory averages prices per category name.
func (s *CatalogStore) AveragePriceByCategory(ctx context.Context) ([]catalog.CategoryAverage, error) {
	query := `
		SELECT c.name, AVG(b.price_incl_tax)
		FROM books b
		JOIN categories c ON c.id = b.category_id
		GROUP BY c.name
		ORDER BY c.name;
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to average prices by category: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.CategoryAverage, error) {
		var a catalog.CategoryAverage
		return a, row.Scan(&a.Category, &a.Average)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan category average: %w", err)
	}
	return out, nil
}

// TopCategories ranks categories by number of books.
func (s *CatalogStore) TopCategories(ctx context.Context, limit int) ([]catalog.CategoryCount, error) {
	query := `
		SELECT c.name, COUNT(b.id)
		FROM books b
		JOIN categories c ON c.id = b.category_id
		GROUP BY c.name
		ORDER BY COUNT(b.id) DESC, c.name
		LIMIT $1;
	`
	rows, err := s.pool.Query(ctx, query, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to rank categories: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.CategoryCount, error) {
		var c catalog.CategoryCount
		return c, row.Scan(&c.Category, &c.Books)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan category count: %w", err)
	}
	return out, nil
}

// TopExpensiveBooks ranks books by incl. tax price.
func (s *CatalogStore) TopExpensiveBooks(ctx context.Context, limit int) ([]catalog.BookPrice, error) {
	query := `
		SELECT id, upc, title, price_incl_tax
		FROM books
		ORDER BY price_incl_tax DESC, id
		LIMIT $1;
	`
	rows, err := s.pool.Query(ctx, query, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to rank books by price: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.BookPrice, error) {
		var b catalog.BookPrice
		return b, row.Scan(&b.BookID, &b.UPC, &b.Title, &b.Price)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan book price: %w", err)
	}
	return out, nil
}

// TaxByProductType sums price_incl_tax * amount / 100 per product type.
func (s *CatalogStore) TaxByProductType(ctx context.Context) ([]catalog.ProductTypeTax, error) {
	query := `
		SELECT p.type_name, COALESCE(SUM(b.price_incl_tax * t.amount / 100), 0)
		FROM books b
		JOIN product_types p ON p.id = b.product_type_id
		JOIN taxes t ON t.id = b.tax_id
		GROUP BY p.type_name
		ORDER BY p.type_name;
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to total tax by product type: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.ProductTypeTax, error) {
		var p catalog.ProductTypeTax
		return p, row.Scan(&p.ProductType, &p.TotalTax)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan product type tax: %w", err)
	}
	return out, nil
}
