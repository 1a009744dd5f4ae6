package quote

import (
	"regexp"
	"strconv"
	"strings"

	"autoquote-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// Quoted totals outside this range are page noise (ids, phone numbers,
// per-unit prices) rather than the quote.
const (
	MinPrice = 10.0
	MaxPrice = 10000.0
)

var priceRegex = regexp.MustCompile(`(\d+[.,]\d+)\s*€`)

func PriceInBounds(price float64) bool {
	return price >= MinPrice && price <= MaxPrice
}

// ParsePrices returns every euro amount written in text, in order.
func ParsePrices(text string) []float64 {
	var out []float64
	for _, m := range priceRegex.FindAllStringSubmatch(text, -1) {
		price, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		if err != nil {
			continue
		}
		out = append(out, price)
	}
	return out
}

// FirstPrice returns the first in-bounds amount in text.
func FirstPrice(text string) (float64, bool) {
	for _, price := range ParsePrices(text) {
		if PriceInBounds(price) {
			return price, true
		}
	}
	return 0, false
}

// MaxPriceInHTML scans the visible text of a whole document and returns the
// greatest in-bounds amount.
func MaxPriceInHTML(markup string) (float64, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return 0, false
	}
	best := 0.0
	found := false
	for _, chunk := range htmlutil.TextChunks(doc.Get(0)) {
		for _, price := range ParsePrices(chunk) {
			if PriceInBounds(price) && (!found || price > best) {
				best = price
				found = true
			}
		}
	}
	return best, found
}
