package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
)

// pgTx implements catalog.Tx on top of one pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) insertDimension(ctx context.Context, what, query string, arg any) (int64, error) {
	var id int64
	if err := t.tx.QueryRow(ctx, query, arg).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("failed to insert %s: %w", what, errors.Join(catalog.ErrDimensionRace, err))
		}
		return 0, fmt.Errorf("failed to insert %s: %w", what, err)
	}
	return id, nil
}

// InsertCategory creates a category row.
func (t *pgTx) InsertCategory(ctx context.Context, name string) (int64, error) {
	return t.insertDimension(ctx, "category", `INSERT INTO categories (name) VALUES ($1) RETURNING id;`, name)
}

// InsertProductType creates a product type row.
func (t *pgTx) InsertProductType(ctx context.Context, name string) (int64, error) {
	return t.insertDimension(ctx, "product type", `INSERT INTO product_types (type_name) VALUES ($1) RETURNING id;`, name)
}

// InsertTax creates a tax row.
func (t *pgTx) InsertTax(ctx context.Context, amount decimal.Decimal) (int64, error) {
	return t.insertDimension(ctx, "tax", `INSERT INTO taxes (amount) VALUES ($1) RETURNING id;`, amount)
}

// FindBookByUPC locks and returns the live row for upc.
func (t *pgTx) FindBookByUPC(ctx context.Context, upc string) (catalog.Book, error) {
	query := `
		SELECT id, upc, title, price_excl_tax, price_incl_tax, availability,
			number_of_reviews, rating, description, image_url,
			category_id, product_type_id, tax_id
		FROM books
		WHERE upc = $1
		FOR UPDATE;
	`
	var b catalog.Book
	err := t.tx.QueryRow(ctx, query, upc).Scan(
		&b.ID,
		&b.UPC,
		&b.Title,
		&b.PriceExclTax,
		&b.PriceInclTax,
		&b.Availability,
		&b.NumberOfReviews,
		&b.Rating,
		&b.Description,
		&b.ImageURL,
		&b.CategoryID,
		&b.ProductTypeID,
		&b.TaxID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Book{}, catalog.ErrNotFound
		}
		return catalog.Book{}, fmt.Errorf("failed to find book: %w", err)
	}
	return b, nil
}

// InsertBook creates the book row.
func (t *pgTx) InsertBook(ctx context.Context, b catalog.Book) (int64, error) {
	query := `
		INSERT INTO books (upc, title, price_excl_tax, price_incl_tax, availability,
			number_of_reviews, rating, description, image_url,
			category_id, product_type_id, tax_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id;
	`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		b.UPC,
		b.Title,
		b.PriceExclTax,
		b.PriceInclTax,
		b.Availability,
		b.NumberOfReviews,
		b.Rating,
		b.Description,
		b.ImageURL,
		b.CategoryID,
		b.ProductTypeID,
		b.TaxID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert book: %w", err)
	}
	return id, nil
}

// UpdateBook overwrites the mutable columns of b.ID.
func (t *pgTx) UpdateBook(ctx context.Context, b catalog.Book) error {
	query := `
		UPDATE books
		SET title = $2, price_excl_tax = $3, price_incl_tax = $4, availability = $5,
			number_of_reviews = $6, rating = $7, description = $8, image_url = $9,
			category_id = $10, product_type_id = $11, tax_id = $12
		WHERE id = $1;
	`
	tag, err := t.tx.Exec(ctx, query,
		b.ID,
		b.Title,
		b.PriceExclTax,
		b.PriceInclTax,
		b.Availability,
		b.NumberOfReviews,
		b.Rating,
		b.Description,
		b.ImageURL,
		b.CategoryID,
		b.ProductTypeID,
		b.TaxID,
	)
	if err != nil {
		return fmt.Errorf("failed to update book: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// InsertSnapshot appends a history row.
func (t *pgTx) InsertSnapshot(ctx context.Context, s catalog.BookSnapshot) (int64, error) {
	query := `
		INSERT INTO book_snapshots (book_id, scraped_at, title, price_excl_tax, price_incl_tax,
			availability, number_of_reviews, rating)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id;
	`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		s.BookID,
		s.ScrapedAt,
		s.Title,
		s.PriceExclTax,
		s.PriceInclTax,
		s.Availability,
		s.NumberOfReviews,
		s.Rating,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return id, nil
}

// PruneSnapshots keeps the newest keep snapshots of the book in one statement.
func (t *pgTx) PruneSnapshots(ctx context.Context, bookID int64, keep int) (int64, error) {
	query := `
		DELETE FROM book_snapshots
		WHERE id IN (
			SELECT id FROM book_snapshots
			WHERE book_id = $1
			ORDER BY scraped_at DESC, id DESC
			OFFSET $2
		);
	`
	tag, err := t.tx.Exec(ctx, query, bookID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
