package workers

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/liamvmurphy/pokestock-sub001/models"
	"github.com/liamvmurphy/pokestock-sub001/storage"
)

// AvailabilityWorker re-checks stale available listings against the
// marketplace. Rows never get deleted; a dead URL just flips the status
// to unavailable.
type AvailabilityWorker struct {
	store      *storage.PostgresStore
	httpClient *http.Client
	triggerCh  chan struct{}
	logFunc    LogFunc
}

func NewAvailabilityWorker(store *storage.PostgresStore, httpClient *http.Client) *AvailabilityWorker {
	return &AvailabilityWorker{
		store:      store,
		httpClient: httpClient,
		triggerCh:  make(chan struct{}, 1),
		logFunc:    NoOpLogger,
	}
}

func (w *AvailabilityWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run immediately
func (w *AvailabilityWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// CheckResult contains the outcome of checking a listing URL
type CheckResult struct {
	IsLive     bool
	StatusCode int
	Error      error
}

// Check fetches a listing URL and determines whether it is still live.
// HEAD first; falls back to a GET so sold/removed interstitials served
// with a 200 are still caught.
func (w *AvailabilityWorker) Check(ctx context.Context, listingURL string) CheckResult {
	result := w.checkWithHEAD(ctx, listingURL)
	if result.Error == nil && !result.IsLive {
		return result
	}

	return w.checkWithGET(ctx, listingURL)
}

func (w *AvailabilityWorker) checkWithHEAD(ctx context.Context, listingURL string) CheckResult {
	req, err := http.NewRequestWithContext(ctx, "HEAD", listingURL, nil)
	if err != nil {
		return CheckResult{Error: err}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return CheckResult{Error: err}
	}
	resp.Body.Close()

	return resultFromStatus(resp.StatusCode, resp.Header.Get("Location"))
}

func (w *AvailabilityWorker) checkWithGET(ctx context.Context, listingURL string) CheckResult {
	req, err := http.NewRequestWithContext(ctx, "GET", listingURL, nil)
	if err != nil {
		return CheckResult{Error: err}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return CheckResult{Error: err}
	}
	defer resp.Body.Close()

	result := resultFromStatus(resp.StatusCode, resp.Header.Get("Location"))
	if result.IsLive && resp.StatusCode == 200 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 500*1024))
		if err == nil && isGonePage(string(body)) {
			result.IsLive = false
		}
	}

	return result
}

func resultFromStatus(statusCode int, location string) CheckResult {
	result := CheckResult{StatusCode: statusCode}

	switch statusCode {
	case 200:
		result.IsLive = true
	case 404, 410:
		result.IsLive = false
	case 301, 302:
		result.IsLive = !isGoneRedirect(location)
	default:
		// Unexpected codes (rate limits, auth walls) are inconclusive;
		// assume live rather than flip a good listing.
		result.IsLive = true
	}

	return result
}

// isGonePage checks HTML content for signs the listing was sold or removed
func isGonePage(html string) bool {
	goneIndicators := []string{
		"This listing is no longer available",
		"This content isn't available right now",
		"item has been sold",
		"listing was removed",
	}
	htmlLower := strings.ToLower(html)
	for _, indicator := range goneIndicators {
		if strings.Contains(htmlLower, strings.ToLower(indicator)) {
			return true
		}
	}
	return false
}

// isGoneRedirect checks if a redirect target indicates the listing is gone
func isGoneRedirect(location string) bool {
	gonePatterns := []string{
		"/marketplace/you",
		"/marketplace/?",
		"unavailable",
		"login",
		"notfound",
		"error",
	}

	for _, pattern := range gonePatterns {
		if strings.Contains(strings.ToLower(location), pattern) {
			return true
		}
	}
	return false
}

// Run starts the availability worker loop
func (w *AvailabilityWorker) Run(ctx context.Context, staleDuration time.Duration, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Availability worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx, staleDuration, batchSize)
		case <-w.triggerCh:
			log.Println("Availability worker triggered manually")
			w.processBatch(ctx, staleDuration, batchSize)
		}
	}
}

func (w *AvailabilityWorker) processBatch(ctx context.Context, staleDuration time.Duration, batchSize int) {
	listings, err := w.store.GetStaleAvailableListings(ctx, staleDuration, batchSize)
	if err != nil {
		log.Printf("Availability: query error: %v", err)
		return
	}

	if len(listings) == 0 {
		return
	}

	log.Printf("Availability: checking %d stale listings", len(listings))

	var checked, gone int
	for _, listing := range listings {
		if listing.MarketplaceURL == "" {
			continue
		}

		result := w.Check(ctx, listing.MarketplaceURL)
		checked++

		if result.Error != nil {
			log.Printf("Availability: error checking %s: %v", listing.MarketplaceURL, result.Error)
			w.store.TouchListing(ctx, listing.ID, time.Now())
			continue
		}

		if !result.IsLive {
			log.Printf("Availability: listing gone (status %d): %s", result.StatusCode, listing.MarketplaceURL)
			if err := w.store.MarkUnavailable(ctx, listing.ID); err != nil {
				log.Printf("Availability: failed to mark unavailable: %v", err)
			} else {
				gone++
			}
		} else {
			w.store.TouchListing(ctx, listing.ID, time.Now())
		}

		// Rate limit between requests
		time.Sleep(500 * time.Millisecond)
	}

	if gone > 0 {
		w.logFunc(models.LogLevelInfo, "availability", fmt.Sprintf("Checked %d listings, %d now unavailable", checked, gone))
	}
}
