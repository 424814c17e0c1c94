package spider

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func mustDoc(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc.Selection
}

func TestListingLinks(t *testing.T) {
	t.Parallel()

	base, _ := url.Parse("https://books.toscrape.com/index.html")
	products, next := ListingLinks(mustDoc(t, listingPage1), base)
	require.Equal(t, []string{
		"https://books.toscrape.com/catalogue/a-light-in-the-attic_1000/index.html",
		"https://books.toscrape.com/catalogue/tipping-the-velvet_999/index.html",
	}, products)
	require.Equal(t, "https://books.toscrape.com/catalogue/page-2.html", next)

	_, next = ListingLinks(mustDoc(t, listingPage2), base)
	require.Empty(t, next)
}

func TestParseProduct(t *testing.T) {
	t.Parallel()

	pageURL, _ := url.Parse("https://books.toscrape.com/catalogue/a-light-in-the-attic_1000/index.html")
	html := productPage("a897fe39b1053632", "A Light in the Attic", "Poetry", "Three",
		"It's hard to imagine   a world\n without A Light in the Attic…")

	rec, ok := ParseProduct(mustDoc(t, html), pageURL)
	require.True(t, ok)
	require.Equal(t, "a897fe39b1053632", rec.UPC)
	require.Equal(t, "A Light in the Attic", *rec.Title)
	require.Equal(t, "Books", *rec.ProductType)
	require.True(t, rec.PriceExclTax.Equal(decimal.RequireFromString("51.77")))
	require.True(t, rec.PriceInclTax.Equal(decimal.RequireFromString("51.77")))
	require.True(t, rec.Tax.IsZero())
	require.Equal(t, 22, *rec.Availability)
	require.Equal(t, 0, *rec.NumberOfReviews)
	require.Equal(t, 3, *rec.Rating)
	require.Equal(t, "Poetry", *rec.Category)
	require.Equal(t, "It's hard to imagine a world without A Light in the Attic", *rec.Description)
	require.Equal(t, "https://books.toscrape.com/media/cache/fe/72/fe72.jpg", *rec.ImageURL)
}

func TestParseProductFallbacks(t *testing.T) {
	t.Parallel()

	rec, ok := ParseProduct(mustDoc(t, productPage("B1", "Untitled", "", "Zero", "")), nil)
	require.True(t, ok)
	require.Equal(t, "Unknown", *rec.Category)
	require.Equal(t, 0, *rec.Rating)
	require.Nil(t, rec.Description)
}

func TestParseProductRejectsListing(t *testing.T) {
	t.Parallel()

	_, ok := ParseProduct(mustDoc(t, listingPage1), nil)
	require.False(t, ok)
}

func TestFieldParsers(t *testing.T) {
	t.Parallel()

	require.True(t, parsePrice("£12.50").Equal(decimal.RequireFromString("12.5")))
	require.True(t, parsePrice("n/a").IsZero())
	require.Equal(t, 7, parseAvailability("In stock (7 available)"))
	require.Equal(t, 0, parseAvailability("Out of stock"))
	require.Equal(t, 0, parseInt("many"))
	require.Equal(t, "a b", cleanDescription("  a\t\n b  "))
	require.Empty(t, cleanDescription(" …"))
}
