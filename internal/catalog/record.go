package catalog

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Record is one normalized book scraped from the catalog site. UPC is
// required; every other field is optional and nil means "not provided".
// A provided zero value is authoritative and overwrites the stored value.
type Record struct {
	UPC             string           `json:"upc"`
	Title           *string          `json:"title,omitempty"`
	PriceExclTax    *decimal.Decimal `json:"price_excl_tax,omitempty"`
	PriceInclTax    *decimal.Decimal `json:"price_incl_tax,omitempty"`
	Availability    *int             `json:"availability,omitempty"`
	NumberOfReviews *int             `json:"number_of_reviews,omitempty"`
	Rating          *int             `json:"rating,omitempty"`
	Description     *string          `json:"description,omitempty"`
	ImageURL        *string          `json:"image_url,omitempty"`
	Category        *string          `json:"category,omitempty"`
	ProductType     *string          `json:"product_type,omitempty"`
	Tax             *decimal.Decimal `json:"tax,omitempty"`
}

// Ptr returns a pointer to v. It keeps record literals short.
func Ptr[T any](v T) *T {
	return &v
}

// Key returns the trimmed UPC.
func (r Record) Key() string {
	return strings.TrimSpace(r.UPC)
}

// NewBook builds the initial Book for a UPC seen for the first time. Omitted
// fields fall back to "Unknown" or zero. Dimension ids are left to the caller.
func (r Record) NewBook() Book {
	b := Book{
		UPC:   r.Key(),
		Title: UnknownTitle,
	}
	r.ApplyTo(&b)
	return b
}

// ApplyTo overwrites the fields of b that the record provides and leaves the
// rest untouched. The UPC and dimension ids are never changed here.
func (r Record) ApplyTo(b *Book) {
	if r.Title != nil {
		b.Title = *r.Title
	}
	if r.PriceExclTax != nil {
		b.PriceExclTax = *r.PriceExclTax
	}
	if r.PriceInclTax != nil {
		b.PriceInclTax = *r.PriceInclTax
	}
	if r.Availability != nil {
		b.Availability = *r.Availability
	}
	if r.NumberOfReviews != nil {
		b.NumberOfReviews = *r.NumberOfReviews
	}
	if r.Rating != nil {
		b.Rating = *r.Rating
	}
	if r.Description != nil {
		b.Description = cloneString(r.Description)
	}
	if r.ImageURL != nil {
		b.ImageURL = cloneString(r.ImageURL)
	}
}

func cloneString(s *string) *string {
	v := *s
	return &v
}
