package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liamvmurphy/pokestock-sub001/models"
)

// PostgresStore is the durable review store for discovered listings,
// reference prices and the screenshot upload queue.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id UUID PRIMARY KEY,
		item_name TEXT,
		set_name TEXT,
		product_type TEXT,
		condition TEXT,
		language TEXT,
		price NUMERIC(12,2),
		price_valid BOOLEAN DEFAULT FALSE,
		price_raw TEXT,
		quantity INTEGER DEFAULT 1,
		location TEXT,
		seller TEXT,
		marketplace_url TEXT NOT NULL UNIQUE,
		date_found TIMESTAMPTZ,
		last_seen TIMESTAMPTZ,
		source TEXT,
		status TEXT DEFAULT 'available',
		confidence REAL DEFAULT 0,
		authenticity TEXT,
		needs_review BOOLEAN DEFAULT FALSE,
		search_term TEXT,
		market_price NUMERIC(12,2),
		deal_ratio REAL,
		screenshot_key TEXT
	);

	CREATE TABLE IF NOT EXISTS reference_prices (
		id SERIAL PRIMARY KEY,
		item_name TEXT NOT NULL,
		set_name TEXT NOT NULL DEFAULT '',
		market_price NUMERIC(12,2),
		source TEXT,
		fetched_at TIMESTAMPTZ,
		UNIQUE (item_name, set_name)
	);

	CREATE TABLE IF NOT EXISTS screenshots (
		id UUID PRIMARY KEY,
		listing_id UUID REFERENCES listings(id),
		data TEXT,
		s3_key TEXT,
		status TEXT DEFAULT 'pending',
		attempts INTEGER DEFAULT 0,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_listings_status_seen ON listings(status, last_seen);
	CREATE INDEX IF NOT EXISTS idx_listings_review ON listings(needs_review) WHERE needs_review;
	CREATE INDEX IF NOT EXISTS idx_screenshots_pending ON screenshots(status) WHERE status = 'pending';
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// UpsertListing inserts a discovered listing keyed by marketplace URL. A
// re-discovered URL only refreshes last_seen and flips the row back to
// available; the original record is never rewritten.
func (s *PostgresStore) UpsertListing(ctx context.Context, l *models.PersistedListing) error {
	query := `
		INSERT INTO listings (
			id, item_name, set_name, product_type, condition, language,
			price, price_valid, price_raw, quantity, location, seller,
			marketplace_url, date_found, last_seen, source, status,
			confidence, authenticity, needs_review, search_term, screenshot_key
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)
		ON CONFLICT (marketplace_url) DO UPDATE SET
			last_seen = EXCLUDED.last_seen,
			status = 'available'
		RETURNING id`

	var price *float64
	if l.Price.Valid {
		price = &l.Price.Amount
	}

	return s.pool.QueryRow(ctx, query,
		l.ID, l.ItemName, l.SetName, l.ProductType, l.Condition, l.Language,
		price, l.Price.Valid, l.Price.Raw, l.Quantity, l.Location, l.Seller,
		l.MarketplaceURL, l.DateFound, l.LastSeen, l.Source, l.Status,
		l.Confidence, l.Authenticity, l.NeedsReview, l.SearchTerm, l.ScreenshotKey,
	).Scan(&l.ID)
}

// ListingURLs returns every stored marketplace URL. Seeds the run-level
// de-duplication set.
func (s *PostgresStore) ListingURLs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT marketplace_url FROM listings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

func (s *PostgresStore) GetListingByURL(ctx context.Context, url string) (*models.PersistedListing, error) {
	row := s.pool.QueryRow(ctx, listingSelect+` WHERE marketplace_url = $1`, url)
	l, err := scanListing(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *PostgresStore) GetRecentListings(ctx context.Context, limit int) ([]models.PersistedListing, error) {
	rows, err := s.pool.Query(ctx, listingSelect+` ORDER BY date_found DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectListings(rows)
}

func (s *PostgresStore) GetReviewListings(ctx context.Context, limit int) ([]models.PersistedListing, error) {
	rows, err := s.pool.Query(ctx, listingSelect+` WHERE needs_review ORDER BY date_found DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectListings(rows)
}

// GetStaleAvailableListings returns available listings not seen for
// staleDuration, oldest first. Input for the availability worker.
func (s *PostgresStore) GetStaleAvailableListings(ctx context.Context, staleDuration time.Duration, limit int) ([]models.PersistedListing, error) {
	staleTime := time.Now().Add(-staleDuration)
	rows, err := s.pool.Query(ctx, listingSelect+`
		WHERE status = 'available' AND last_seen < $1
		ORDER BY last_seen
		LIMIT $2`, staleTime, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectListings(rows)
}

func (s *PostgresStore) MarkUnavailable(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE listings SET status = 'unavailable' WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) TouchListing(ctx context.Context, id uuid.UUID, t time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE listings SET last_seen = $2 WHERE id = $1`, id, t)
	return err
}

func (s *PostgresStore) SetScreenshotKey(ctx context.Context, id uuid.UUID, key string) error {
	_, err := s.pool.Exec(ctx, `UPDATE listings SET screenshot_key = $2 WHERE id = $1`, id, key)
	return err
}

// GetListingsMissingMarketPrice returns listings that were classified with
// a usable item name but have no reference price yet.
func (s *PostgresStore) GetListingsMissingMarketPrice(ctx context.Context, limit int) ([]models.PersistedListing, error) {
	rows, err := s.pool.Query(ctx, listingSelect+`
		WHERE market_price IS NULL AND item_name <> '' AND confidence >= $1
		ORDER BY date_found DESC
		LIMIT $2`, models.ReviewConfidenceFloor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectListings(rows)
}

func (s *PostgresStore) SetMarketPrice(ctx context.Context, id uuid.UUID, marketPrice, dealRatio float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE listings SET market_price = $2, deal_ratio = $3 WHERE id = $1`,
		id, marketPrice, dealRatio)
	return err
}

// Reference prices cache cross-market valuations per product so the price
// check worker does not re-scrape the guide for every listing.

func (s *PostgresStore) UpsertReferencePrice(ctx context.Context, itemName, setName string, marketPrice float64, source string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reference_prices (item_name, set_name, market_price, source, fetched_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (item_name, set_name) DO UPDATE SET
			market_price = EXCLUDED.market_price,
			source = EXCLUDED.source,
			fetched_at = EXCLUDED.fetched_at`,
		itemName, setName, marketPrice, source)
	return err
}

// GetReferencePrice returns the cached market price for a product, or ok
// false when none is fresh enough.
func (s *PostgresStore) GetReferencePrice(ctx context.Context, itemName, setName string, maxAge time.Duration) (float64, bool, error) {
	var price float64
	err := s.pool.QueryRow(ctx, `
		SELECT market_price FROM reference_prices
		WHERE item_name = $1 AND set_name = $2 AND fetched_at > $3`,
		itemName, setName, time.Now().Add(-maxAge)).Scan(&price)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return price, true, nil
}

// Screenshot queue.

// Screenshot is a queued upload: Data holds the base64 PNG until the
// upload worker moves it to S3, after which the row keeps only the key.
type Screenshot struct {
	ID        uuid.UUID
	ListingID uuid.UUID
	Data      string
	S3Key     string
	Status    string
	Attempts  int
	CreatedAt time.Time
}

func (s *PostgresStore) EnqueueScreenshot(ctx context.Context, listingID uuid.UUID, data string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO screenshots (id, listing_id, data, status) VALUES ($1, $2, $3, 'pending')`,
		id, listingID, data)
	return id, err
}

func (s *PostgresStore) GetPendingScreenshots(ctx context.Context, limit int) ([]Screenshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, listing_id, COALESCE(data, ''), COALESCE(s3_key, ''), status, attempts, created_at
		FROM screenshots
		WHERE status = 'pending' AND attempts < 3
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shots []Screenshot
	for rows.Next() {
		var sh Screenshot
		if err := rows.Scan(&sh.ID, &sh.ListingID, &sh.Data, &sh.S3Key, &sh.Status, &sh.Attempts, &sh.CreatedAt); err != nil {
			return nil, err
		}
		shots = append(shots, sh)
	}
	return shots, rows.Err()
}

// UpdateScreenshotStatus records an upload attempt. Uploaded rows drop
// their inline payload.
func (s *PostgresStore) UpdateScreenshotStatus(ctx context.Context, id uuid.UUID, status, s3Key string, attempts int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE screenshots SET status = $2, s3_key = NULLIF($3, ''), attempts = $4,
			data = CASE WHEN $2 = 'uploaded' THEN NULL ELSE data END
		WHERE id = $1`,
		id, status, s3Key, attempts)
	return err
}

const listingSelect = `
	SELECT id, item_name, set_name, product_type, condition, language,
		price, price_valid, COALESCE(price_raw, ''), quantity, location, seller,
		marketplace_url, date_found, last_seen, source, status,
		confidence, authenticity, needs_review, search_term,
		market_price, deal_ratio, COALESCE(screenshot_key, '')
	FROM listings`

func scanListing(row pgx.Row) (*models.PersistedListing, error) {
	var l models.PersistedListing
	var price *float64
	if err := row.Scan(
		&l.ID, &l.ItemName, &l.SetName, &l.ProductType, &l.Condition, &l.Language,
		&price, &l.Price.Valid, &l.Price.Raw, &l.Quantity, &l.Location, &l.Seller,
		&l.MarketplaceURL, &l.DateFound, &l.LastSeen, &l.Source, &l.Status,
		&l.Confidence, &l.Authenticity, &l.NeedsReview, &l.SearchTerm,
		&l.MarketPrice, &l.DealRatio, &l.ScreenshotKey,
	); err != nil {
		return nil, err
	}
	if price != nil {
		l.Price.Amount = *price
	}
	return &l, nil
}

func collectListings(rows pgx.Rows) ([]models.PersistedListing, error) {
	var listings []models.PersistedListing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}
