package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source tag written on every persisted listing.
const SourceMarketplace = "facebook_marketplace"

type ListingStatus string

const (
	StatusAvailable   ListingStatus = "available"
	StatusUnavailable ListingStatus = "unavailable"
)

// Price is a parsed listing price. Amount is only meaningful when Valid is
// set; Raw always preserves the text the price came from.
type Price struct {
	Amount float64 `json:"amount"`
	Valid  bool    `json:"valid"`
	Raw    string  `json:"raw"`
}

// ParsePrice parses marketplace price text like "$165", "CA$1,200" or
// "1.234,50". Text without digits ("Free", "") yields an invalid price.
func ParsePrice(raw string) Price {
	p := Price{Raw: raw}

	var b strings.Builder
	for _, c := range raw {
		switch {
		case c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '.':
			b.WriteRune(c)
		}
	}
	digits := b.String()
	if digits == "" || digits == "." {
		return p
	}

	// Keep only the first dot so "1.234.56" doesn't fail outright.
	if i := strings.Index(digits, "."); i >= 0 {
		digits = digits[:i+1] + strings.ReplaceAll(digits[i+1:], ".", "")
	}

	amount, err := strconv.ParseFloat(digits, 64)
	if err != nil || amount < 0 {
		return p
	}

	p.Amount = amount
	p.Valid = true
	return p
}

// RawListing is one candidate listing extracted from a search-results page.
// Only URL and Title are guaranteed; everything else is best-effort text.
type RawListing struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	PriceText    string `json:"price_text"`
	LocationText string `json:"location_text"`
	SellerText   string `json:"seller_text"`
	Screenshot   string `json:"-"` // base64 PNG of the results page, may be empty
	Incomplete   bool   `json:"incomplete"`
}

// Classification holds the structured attributes returned by the vision
// model for a listing. Confidence is in [0,1].
type Classification struct {
	ItemName     string  `json:"item_name"`
	SetName      string  `json:"set"`
	ProductType  string  `json:"product_type"` // etb, booster_box, single, bundle, lot, other
	Condition    string  `json:"condition"`
	Language     string  `json:"language"`
	Confidence   float64 `json:"confidence"`
	Authenticity string  `json:"authenticity"` // likely_genuine, suspicious, unknown
}

// ClassifiedListing pairs a raw listing with its classification. When the
// classifier failed, Fallback is set and the classification carries the raw
// title at zero confidence.
type ClassifiedListing struct {
	Raw            RawListing
	Classification Classification
	Fallback       bool
}

// PersistedListing is the final record written to the sink. MarketplaceURL
// is the natural key; rows are never deleted, only flipped to unavailable.
type PersistedListing struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	ItemName       string        `json:"item_name" db:"item_name"`
	SetName        string        `json:"set_name" db:"set_name"`
	ProductType    string        `json:"product_type" db:"product_type"`
	Condition      string        `json:"condition" db:"condition"`
	Language       string        `json:"language" db:"language"`
	Price          Price         `json:"price" db:"price"`
	Quantity       int           `json:"quantity" db:"quantity"`
	Location       string        `json:"location" db:"location"`
	Seller         string        `json:"seller" db:"seller"`
	MarketplaceURL string        `json:"marketplace_url" db:"marketplace_url"`
	DateFound      time.Time     `json:"date_found" db:"date_found"`
	LastSeen       time.Time     `json:"last_seen" db:"last_seen"`
	Source         string        `json:"source" db:"source"`
	Status         ListingStatus `json:"status" db:"status"`
	Confidence     float64       `json:"confidence" db:"confidence"`
	Authenticity   string        `json:"authenticity" db:"authenticity"`
	NeedsReview    bool          `json:"needs_review" db:"needs_review"`
	SearchTerm     string        `json:"search_term" db:"search_term"`
	MarketPrice    *float64      `json:"market_price" db:"market_price"`
	DealRatio      *float64      `json:"deal_ratio" db:"deal_ratio"`
	ScreenshotKey  string        `json:"screenshot_key" db:"screenshot_key"`

	// Screenshot carries the captured page image from discovery to the
	// upload queue. Never stored on the listing row itself.
	Screenshot string `json:"-" db:"-"`
}

// ReviewConfidenceFloor is the confidence below which a listing is stored
// but flagged for manual review.
const ReviewConfidenceFloor = 0.5
