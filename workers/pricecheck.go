package workers

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/liamvmurphy/pokestock-sub001/config"
	"github.com/liamvmurphy/pokestock-sub001/models"
	"github.com/liamvmurphy/pokestock-sub001/storage"
)

const referencePriceMaxAge = 24 * time.Hour

// PriceCheckWorker validates marketplace asking prices against a price
// guide site. Confident classifications get a market_price and deal_ratio
// so underpriced listings surface in review.
type PriceCheckWorker struct {
	store      *storage.PostgresStore
	httpClient *http.Client
	searchURL  string
	triggerCh  chan struct{}
	logFunc    LogFunc
}

func NewPriceCheckWorker(store *storage.PostgresStore, httpClient *http.Client, cfg config.PriceGuideConfig) *PriceCheckWorker {
	return &PriceCheckWorker{
		store:      store,
		httpClient: httpClient,
		searchURL:  cfg.SearchURL,
		triggerCh:  make(chan struct{}, 1),
		logFunc:    NoOpLogger,
	}
}

func (w *PriceCheckWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run immediately
func (w *PriceCheckWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run starts the price check worker loop
func (w *PriceCheckWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	if w.searchURL == "" {
		log.Println("Price check worker disabled: no price guide URL configured")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Price check worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx, batchSize)
		case <-w.triggerCh:
			log.Println("Price check worker triggered manually")
			w.processBatch(ctx, batchSize)
		}
	}
}

func (w *PriceCheckWorker) processBatch(ctx context.Context, batchSize int) {
	listings, err := w.store.GetListingsMissingMarketPrice(ctx, batchSize)
	if err != nil {
		log.Printf("Pricecheck: query error: %v", err)
		return
	}

	if len(listings) == 0 {
		return
	}

	log.Printf("Pricecheck: valuing %d listings", len(listings))

	var priced int
	for _, listing := range listings {
		marketPrice, err := w.marketPrice(ctx, listing.ItemName, listing.SetName)
		if err != nil {
			log.Printf("Pricecheck: %q: %v", listing.ItemName, err)
			continue
		}
		if marketPrice <= 0 {
			continue
		}

		ratio := 0.0
		if listing.Price.Valid && marketPrice > 0 {
			ratio = listing.Price.Amount / marketPrice
		}

		if err := w.store.SetMarketPrice(ctx, listing.ID, marketPrice, ratio); err != nil {
			log.Printf("Pricecheck: save market price: %v", err)
			continue
		}
		priced++

		if ratio > 0 && ratio < 0.7 {
			w.logFunc(models.LogLevelInfo, "pricecheck",
				fmt.Sprintf("Deal: %s at $%.2f vs market $%.2f (%s)", listing.ItemName, listing.Price.Amount, marketPrice, listing.MarketplaceURL))
		}

		// Rate limit between guide lookups
		time.Sleep(time.Second)
	}

	if priced > 0 {
		w.logFunc(models.LogLevelInfo, "pricecheck", fmt.Sprintf("Priced %d listings", priced))
	}
}

// marketPrice resolves the guide price for a product, consulting the
// cache before scraping.
func (w *PriceCheckWorker) marketPrice(ctx context.Context, itemName, setName string) (float64, error) {
	if cached, ok, err := w.store.GetReferencePrice(ctx, itemName, setName, referencePriceMaxAge); err != nil {
		return 0, err
	} else if ok {
		return cached, nil
	}

	price, err := w.fetchGuidePrice(ctx, itemName, setName)
	if err != nil {
		return 0, err
	}

	if price > 0 {
		if err := w.store.UpsertReferencePrice(ctx, itemName, setName, price, "price_guide"); err != nil {
			log.Printf("Pricecheck: cache reference price: %v", err)
		}
	}

	return price, nil
}

func (w *PriceCheckWorker) fetchGuidePrice(ctx context.Context, itemName, setName string) (float64, error) {
	query := itemName
	if setName != "" {
		query += " " + setName
	}
	target := fmt.Sprintf(w.searchURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return parseGuidePrice(resp.Body)
}

// parseGuidePrice extracts the first result's market price from a guide
// search page. Guides differ in markup, so this matches by class keyword
// rather than exact structure.
func parseGuidePrice(r io.Reader) (float64, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return 0, fmt.Errorf("parse html: %w", err)
	}

	var price float64
	doc.Find(`[class*="price"], [class*="Price"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return true
		}
		parsed := models.ParsePrice(text)
		if parsed.Valid && parsed.Amount > 0 {
			price = parsed.Amount
			return false
		}
		return true
	})

	if price == 0 {
		return 0, fmt.Errorf("no price found in guide results")
	}
	return price, nil
}
