package spider

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
)

var (
	digitsRE      = regexp.MustCompile(`\d+`)
	spacesRE      = regexp.MustCompile(`\s+`)
	nonPrintingRE = regexp.MustCompile(`[^\x20-\x7E]+`)

	ratingWords = map[string]int{"One": 1, "Two": 2, "Three": 3, "Four": 4, "Five": 5}
)

// Product information table rows, 1-based as on the page.
const (
	rowUPC = iota + 1
	rowProductType
	rowPriceExclTax
	rowPriceInclTax
	rowTax
	rowAvailability
	rowReviews
)

// ListingLinks returns the product detail links and the next listing page
// of a catalogue page, resolved against base.
func ListingLinks(doc *goquery.Selection, base *url.URL) (products []string, next string) {
	doc.Find("article.product_pod h3 a[href]").Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok {
			products = append(products, resolve(base, href))
		}
	})
	if href, ok := doc.Find("li.next a[href]").First().Attr("href"); ok {
		next = resolve(base, href)
	}
	return products, next
}

// ParseProduct extracts a record from a product detail page. It reports false
// when the page is not a product page.
func ParseProduct(doc *goquery.Selection, pageURL *url.URL) (catalog.Record, bool) {
	if doc.Find("article.product_page").Length() == 0 {
		return catalog.Record{}, false
	}

	rows := doc.Find("table.table-striped tr")
	cell := func(n int) string {
		return strings.TrimSpace(rows.Eq(n - 1).Find("td").First().Text())
	}

	rec := catalog.Record{
		UPC:             cell(rowUPC),
		Title:           catalog.Ptr(strings.TrimSpace(doc.Find("div.product_main h1").First().Text())),
		ProductType:     catalog.Ptr(cell(rowProductType)),
		PriceExclTax:    catalog.Ptr(parsePrice(cell(rowPriceExclTax))),
		PriceInclTax:    catalog.Ptr(parsePrice(cell(rowPriceInclTax))),
		Tax:             catalog.Ptr(parsePrice(cell(rowTax))),
		Availability:    catalog.Ptr(parseAvailability(cell(rowAvailability))),
		NumberOfReviews: catalog.Ptr(parseInt(cell(rowReviews))),
		Rating:          catalog.Ptr(parseRating(doc.Find("p.star-rating").First())),
		Category:        catalog.Ptr(parseCategory(doc)),
	}
	if desc := cleanDescription(doc.Find("#product_description + p").Text()); desc != "" {
		rec.Description = &desc
	}
	img := doc.Find("div.carousel-inner img, div.thumbnail img").First()
	if src, ok := img.Attr("src"); ok && src != "" {
		abs := resolve(pageURL, src)
		rec.ImageURL = &abs
	}
	return rec, true
}

// parsePrice strips the currency symbol; unparsable values read as zero.
func parsePrice(raw string) decimal.Decimal {
	raw = strings.NewReplacer("Â", "", "£", "").Replace(raw)
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseAvailability(raw string) int {
	return parseInt(digitsRE.FindString(raw))
}

func parseInt(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}

// parseRating maps the last class word of p.star-rating to 1..5, else 0.
func parseRating(p *goquery.Selection) int {
	class, _ := p.Attr("class")
	words := strings.Fields(class)
	if len(words) == 0 {
		return 0
	}
	return ratingWords[words[len(words)-1]]
}

// parseCategory reads the last breadcrumb link. Home and Books come first,
// so fewer than three links means the page carries no category.
func parseCategory(doc *goquery.Selection) string {
	links := doc.Find("ul.breadcrumb li a")
	if links.Length() < 3 {
		return catalog.UnknownLabel
	}
	name := strings.TrimSpace(links.Last().Text())
	if name == "" {
		return catalog.UnknownLabel
	}
	return name
}

func cleanDescription(raw string) string {
	s := strings.TrimSpace(spacesRE.ReplaceAllString(raw, " "))
	return strings.TrimSpace(nonPrintingRE.ReplaceAllString(s, ""))
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
