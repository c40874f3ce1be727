package extractor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/liamvmurphy/pokestock-sub001/identity"
	"github.com/liamvmurphy/pokestock-sub001/models"
)

const marketplaceBase = "https://www.facebook.com"

// Extractor pulls listing cards out of a marketplace search results page.
// The DOM is obfuscated and changes often, so extraction anchors on the
// stable part: item permalinks. Everything else is best-effort.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// Extract parses html and returns one RawListing per distinct item link.
// Listings with a usable URL are always returned; missing titles or prices
// mark the listing Incomplete instead of dropping it. Duplicate cards for
// the same canonical URL collapse to the first occurrence.
func (e *Extractor) Extract(html string) ([]models.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	seen := make(map[string]bool)
	var listings []models.RawListing

	doc.Find(`a[href*="/marketplace/item/"]`).Each(func(_ int, card *goquery.Selection) {
		href, ok := card.Attr("href")
		if !ok || href == "" {
			return
		}

		canonical := identity.CanonicalURL(absoluteURL(href))
		if canonical == "" || seen[canonical] {
			return
		}
		seen[canonical] = true

		listing := models.RawListing{URL: canonical}
		fillCardFields(card, &listing)
		listing.Incomplete = listing.Title == "" || listing.PriceText == ""

		listings = append(listings, listing)
	})

	return listings, nil
}

// fillCardFields walks the text spans inside a card anchor. Marketplace
// cards render price first, then title, then location, each in its own
// span. Seller names only appear on detail pages, so SellerText usually
// stays empty here.
func fillCardFields(card *goquery.Selection, listing *models.RawListing) {
	var lines []string
	card.Find("span").Each(func(_ int, span *goquery.Selection) {
		if span.Children().Length() > 0 {
			return // only leaf spans carry card text
		}
		text := strings.TrimSpace(span.Text())
		if text == "" {
			return
		}
		lines = append(lines, text)
	})

	for _, line := range lines {
		switch {
		case listing.PriceText == "" && looksLikePrice(line):
			listing.PriceText = line
		case listing.Title == "":
			listing.Title = line
		case listing.LocationText == "":
			listing.LocationText = line
		}
	}
}

// looksLikePrice matches "$165", "A$40", "Free", "£1,200.50" style strings.
func looksLikePrice(s string) bool {
	if strings.EqualFold(s, "Free") {
		return true
	}
	hasCurrency := false
	hasDigit := false
	for _, r := range s {
		switch {
		case r == '$' || r == '£' || r == '€':
			hasCurrency = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == ',' || r == '.' || r == ' ':
		case r >= 'A' && r <= 'Z':
			// currency prefixes like "AU$" or "CA$"
		default:
			return false
		}
	}
	return hasCurrency && hasDigit
}

func absoluteURL(href string) string {
	if strings.HasPrefix(href, "/") {
		return marketplaceBase + href
	}
	return href
}
