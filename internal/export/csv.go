// Package export writes the live catalog as a CSV file to a blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
	"github.com/JakeFAU/book-catalog-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/book-catalog-pipeline/internal/metrics"
)

// ContentType is attached to every uploaded export.
const ContentType = "text/csv"

const timestampLayout = "20060102T150405Z"

// Header lists the CSV columns in output order.
var Header = []string{
	"upc",
	"title",
	"price_excl_tax",
	"price_incl_tax",
	"tax",
	"availability",
	"number_of_reviews",
	"rating",
	"category",
	"product_type",
	"description",
	"image_url",
}

// BlobStore persists an exported object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Result describes one finished export.
type Result struct {
	URI  string
	Path string
	Rows int
	// SHA256 is the hex digest of the uploaded bytes.
	SHA256 string
	Bytes  int64
}

// Exporter reads the catalog and uploads it as CSV.
type Exporter struct {
	reader catalog.Reader
	blobs  BlobStore
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewExporter wires the catalog reader and blob destination. Objects are
// written under prefix; an empty prefix writes at the store root.
func NewExporter(reader catalog.Reader, blobs BlobStore, prefix string, logger *zap.Logger) (*Exporter, error) {
	if reader == nil {
		return nil, errors.New("catalog reader is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		reader: reader,
		blobs:  blobs,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
		now:    time.Now,
	}, nil
}

// ObjectPath returns the object name used for an export taken at t.
func (e *Exporter) ObjectPath(t time.Time) string {
	name := "books_" + t.UTC().Format(timestampLayout) + ".csv"
	if e.prefix == "" {
		return name
	}
	return path.Join(e.prefix, name)
}

// Export snapshots the catalog into CSV and uploads it.
func (e *Exporter) Export(ctx context.Context) (Result, error) {
	books, err := e.reader.ExportBooks(ctx)
	if err != nil {
		metrics.ObserveExport("error", 0)
		return Result{}, fmt.Errorf("load books: %w", err)
	}

	var buf bytes.Buffer
	digest := sha256.NewWriter()
	rows, err := WriteCSV(io.MultiWriter(&buf, digest), books)
	if err != nil {
		metrics.ObserveExport("error", 0)
		return Result{}, err
	}

	objectPath := e.ObjectPath(e.now())
	uri, err := e.blobs.PutObject(ctx, objectPath, ContentType, &buf)
	if err != nil {
		metrics.ObserveExport("error", 0)
		return Result{}, fmt.Errorf("upload %s: %w", objectPath, err)
	}
	metrics.ObserveExport("success", rows)
	e.logger.Info("Catalog exported",
		zap.String("uri", uri),
		zap.Int("rows", rows),
		zap.String("sha256", digest.Sum()),
	)
	return Result{URI: uri, Path: objectPath, Rows: rows, SHA256: digest.Sum(), Bytes: digest.Size()}, nil
}

// WriteCSV writes the header and one row per distinct UPC, keeping the first
// occurrence. It returns the number of book rows written.
func WriteCSV(w io.Writer, books []catalog.BookDetail) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	seen := make(map[string]struct{}, len(books))
	rows := 0
	for _, b := range books {
		if _, dup := seen[b.UPC]; dup {
			continue
		}
		seen[b.UPC] = struct{}{}
		if err := cw.Write(row(b)); err != nil {
			return rows, fmt.Errorf("write row %s: %w", b.UPC, err)
		}
		rows++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("flush csv: %w", err)
	}
	return rows, nil
}

func row(b catalog.BookDetail) []string {
	return []string{
		b.UPC,
		b.Title,
		b.PriceExclTax.StringFixed(2),
		b.PriceInclTax.StringFixed(2),
		b.Tax.Amount.StringFixed(2),
		strconv.Itoa(b.Availability),
		strconv.Itoa(b.NumberOfReviews),
		strconv.Itoa(b.Rating),
		b.Category.Name,
		b.ProductType.Name,
		deref(b.Description),
		deref(b.ImageURL),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
