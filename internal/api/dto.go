package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
)

type categoryDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type productTypeDTO struct {
	ID       int64  `json:"id"`
	TypeName string `json:"type_name"`
}

type taxDTO struct {
	ID     int64           `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

type bookDTO struct {
	ID              int64           `json:"id"`
	UPC             string          `json:"upc"`
	Title           string          `json:"title"`
	PriceExclTax    decimal.Decimal `json:"price_excl_tax"`
	PriceInclTax    decimal.Decimal `json:"price_incl_tax"`
	Availability    int             `json:"availability"`
	NumberOfReviews int             `json:"number_of_reviews"`
	Rating          int             `json:"rating"`
	Description     *string         `json:"description"`
	ImageURL        *string         `json:"image_url"`
	Category        categoryDTO     `json:"category"`
	ProductType     productTypeDTO  `json:"product_type"`
	Tax             taxDTO          `json:"tax"`
}

func toBookDTO(b catalog.BookDetail) bookDTO {
	return bookDTO{
		ID:              b.ID,
		UPC:             b.UPC,
		Title:           b.Title,
		PriceExclTax:    b.PriceExclTax,
		PriceInclTax:    b.PriceInclTax,
		Availability:    b.Availability,
		NumberOfReviews: b.NumberOfReviews,
		Rating:          b.Rating,
		Description:     b.Description,
		ImageURL:        b.ImageURL,
		Category:        categoryDTO{ID: b.Category.ID, Name: b.Category.Name},
		ProductType:     productTypeDTO{ID: b.ProductType.ID, TypeName: b.ProductType.Name},
		Tax:             taxDTO{ID: b.Tax.ID, Amount: b.Tax.Amount},
	}
}

func toBookDTOs(in []catalog.BookDetail) []bookDTO {
	out := make([]bookDTO, 0, len(in))
	for _, b := range in {
		out = append(out, toBookDTO(b))
	}
	return out
}

type snapshotDTO struct {
	ID              int64           `json:"id"`
	BookID          int64           `json:"book_id"`
	ScrapedAt       time.Time       `json:"scraped_at"`
	Title           string          `json:"title"`
	PriceExclTax    decimal.Decimal `json:"price_excl_tax"`
	PriceInclTax    decimal.Decimal `json:"price_incl_tax"`
	Availability    int             `json:"availability"`
	NumberOfReviews int             `json:"number_of_reviews"`
	Rating          int             `json:"rating"`
}

func toSnapshotDTOs(in []catalog.BookSnapshot) []snapshotDTO {
	out := make([]snapshotDTO, 0, len(in))
	for _, s := range in {
		out = append(out, snapshotDTO{
			ID:              s.ID,
			BookID:          s.BookID,
			ScrapedAt:       s.ScrapedAt,
			Title:           s.Title,
			PriceExclTax:    s.PriceExclTax,
			PriceInclTax:    s.PriceInclTax,
			Availability:    s.Availability,
			NumberOfReviews: s.NumberOfReviews,
			Rating:          s.Rating,
		})
	}
	return out
}

type pricePointDTO struct {
	ScrapedAt    time.Time       `json:"scraped_at"`
	PriceExclTax decimal.Decimal `json:"price_excl_tax"`
	PriceInclTax decimal.Decimal `json:"price_incl_tax"`
}

type ratingPointDTO struct {
	ScrapedAt time.Time `json:"scraped_at"`
	Rating    int       `json:"rating"`
}

type priceStatsDTO struct {
	BookID    int64           `json:"book_id"`
	Snapshots int             `json:"snapshots"`
	Min       decimal.Decimal `json:"min_price"`
	Max       decimal.Decimal `json:"max_price"`
	Avg       decimal.Decimal `json:"avg_price"`
}

type categoryAverageDTO struct {
	Category string          `json:"category"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

type categoryCountDTO struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

type bookPriceDTO struct {
	ID           int64           `json:"id"`
	UPC          string          `json:"upc"`
	Title        string          `json:"title"`
	PriceInclTax decimal.Decimal `json:"price_incl_tax"`
}

type productTypeTaxDTO struct {
	ProductType string          `json:"product_type"`
	TotalTax    decimal.Decimal `json:"total_tax"`
}

type runDTO struct {
	ID         string              `json:"id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Status     string              `json:"status"`
	Counters   catalog.RunCounters `json:"counters"`
	Error      *string             `json:"error,omitempty"`
}

func toRunDTO(run catalog.IngestRun) runDTO {
	return runDTO{
		ID:         run.ID.String(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Counters:   run.Counters,
		Error:      run.ErrorMessage,
	}
}

func toRunDTOs(in []catalog.IngestRun) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunDTO(run))
	}
	return out
}
