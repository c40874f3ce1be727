package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/liamvmurphy/pokestock-sub001/models"
	"github.com/liamvmurphy/pokestock-sub001/storage"
)

// ErrPersistence wraps failures writing to the primary listing store.
var ErrPersistence = errors.New("persistence failed")

// ListingService is the persistence gateway for discovered listings.
// Postgres is the primary store and the de-dup authority; the spreadsheet
// append is a best-effort mirror and never fails an Append.
type ListingService struct {
	db     *storage.PostgresStore
	sheets *storage.SheetsStore
}

func NewListingService(db *storage.PostgresStore, sheets *storage.SheetsStore) *ListingService {
	return &ListingService{db: db, sheets: sheets}
}

// Append writes one listing. The Postgres upsert keys on marketplace_url,
// so a racing duplicate collapses into a last_seen refresh instead of a
// second row.
func (s *ListingService) Append(ctx context.Context, l models.PersistedListing) error {
	if err := s.db.UpsertListing(ctx, &l); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if l.Screenshot != "" {
		if _, err := s.db.EnqueueScreenshot(ctx, l.ID, l.Screenshot); err != nil {
			log.Printf("Listings: queue screenshot for %s: %v", l.MarketplaceURL, err)
		}
	}

	if s.sheets != nil && s.sheets.Configured() {
		if err := s.sheets.AppendListing(&l); err != nil {
			log.Printf("Listings: sheet append for %s: %v", l.MarketplaceURL, err)
		}
	}

	return nil
}

// KnownURLs returns every persisted marketplace URL for de-dup seeding.
func (s *ListingService) KnownURLs(ctx context.Context) ([]string, error) {
	return s.db.ListingURLs(ctx)
}

// BacklogURL is the spreadsheet link for the review backlog.
func (s *ListingService) BacklogURL() string {
	if s.sheets == nil {
		return ""
	}
	return s.sheets.BacklogURL()
}
