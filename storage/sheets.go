package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/liamvmurphy/pokestock-sub001/config"
	"github.com/liamvmurphy/pokestock-sub001/models"
)

// SheetsStore appends listing rows to a spreadsheet webhook. It is the
// human-facing copy of the review data; Postgres stays the source of
// truth and handles de-duplication.
type SheetsStore struct {
	appendURL  string
	backlogURL string
	serviceKey string
	client     *http.Client
}

func NewSheetsStore(cfg *config.SheetsConfig, client *http.Client) *SheetsStore {
	return &SheetsStore{
		appendURL:  cfg.AppendURL,
		backlogURL: cfg.BacklogURL,
		serviceKey: cfg.ServiceKey,
		client:     client,
	}
}

// Configured reports whether an append endpoint is set. An unconfigured
// store is a no-op sink.
func (s *SheetsStore) Configured() bool {
	return s.appendURL != ""
}

// BacklogURL is the spreadsheet link surfaced in the status API.
func (s *SheetsStore) BacklogURL() string {
	return s.backlogURL
}

type sheetRow struct {
	ItemName       string  `json:"item_name"`
	SetName        string  `json:"set_name"`
	ProductType    string  `json:"product_type"`
	Price          float64 `json:"price"`
	PriceValid     bool    `json:"price_valid"`
	PriceRaw       string  `json:"price_raw"`
	Quantity       int     `json:"quantity"`
	Location       string  `json:"location"`
	MarketplaceURL string  `json:"marketplace_url"`
	DateFound      string  `json:"date_found"`
	Source         string  `json:"source"`
	Status         string  `json:"status"`
	Confidence     float64 `json:"confidence"`
	NeedsReview    bool    `json:"needs_review"`
	SearchTerm     string  `json:"search_term"`
}

// AppendListing posts one row to the webhook.
func (s *SheetsStore) AppendListing(l *models.PersistedListing) error {
	row := sheetRow{
		ItemName:       l.ItemName,
		SetName:        l.SetName,
		ProductType:    l.ProductType,
		Price:          l.Price.Amount,
		PriceValid:     l.Price.Valid,
		PriceRaw:       l.Price.Raw,
		Quantity:       l.Quantity,
		Location:       l.Location,
		MarketplaceURL: l.MarketplaceURL,
		DateFound:      l.DateFound.Format("2006-01-02 15:04:05"),
		Source:         l.Source,
		Status:         string(l.Status),
		Confidence:     l.Confidence,
		NeedsReview:    l.NeedsReview,
		SearchTerm:     l.SearchTerm,
	}

	data, err := json.Marshal(row)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", s.appendURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.serviceKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sheets error %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
