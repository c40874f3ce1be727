package extractor

import (
	"os"
	"path/filepath"
	"testing"
)

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return string(data)
}

func TestExtractBasicResults(t *testing.T) {
	e := New()
	listings, err := e.Extract(loadFixture(t, "search_results_basic.html"))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	// 4 item anchors in the page, one is a duplicate card for the same item.
	if len(listings) != 3 {
		t.Fatalf("expected 3 listings, got %d", len(listings))
	}

	first := listings[0]
	if first.URL != "https://www.facebook.com/marketplace/item/1111111111111111" {
		t.Fatalf("unexpected first url %s", first.URL)
	}
	if first.Title != "Pokemon 151 Elite Trainer Box - Sealed" {
		t.Fatalf("unexpected first title %q", first.Title)
	}
	if first.PriceText != "$165" {
		t.Fatalf("unexpected first price %q", first.PriceText)
	}
	if first.LocationText != "Sydney, NSW" {
		t.Fatalf("unexpected first location %q", first.LocationText)
	}
	if first.Incomplete {
		t.Fatal("first listing has all fields, should not be incomplete")
	}

	second := listings[1]
	if second.URL != "https://www.facebook.com/marketplace/item/2222222222222222" {
		t.Fatalf("unexpected second url %s", second.URL)
	}
	if second.PriceText != "A$480" {
		t.Fatalf("unexpected second price %q", second.PriceText)
	}

	third := listings[2]
	if third.URL != "https://www.facebook.com/marketplace/item/3333333333333333" {
		t.Fatalf("unexpected third url %s", third.URL)
	}
	if third.Title != "Charizard PSA 9 Base Set" {
		t.Fatalf("unexpected third title %q", third.Title)
	}
	if third.PriceText != "" {
		t.Fatalf("third card has no price, got %q", third.PriceText)
	}
	if !third.Incomplete {
		t.Fatal("missing price must mark the listing incomplete, not drop it")
	}
}

func TestExtractEmptyPage(t *testing.T) {
	e := New()
	listings, err := e.Extract("<html><body><div>No results</div></body></html>")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(listings) != 0 {
		t.Fatalf("expected no listings, got %d", len(listings))
	}
}

func TestLooksLikePrice(t *testing.T) {
	for _, s := range []string{"$165", "A$480", "CA$1,200", "Free", "£99.50"} {
		if !looksLikePrice(s) {
			t.Fatalf("%q should look like a price", s)
		}
	}
	for _, s := range []string{"Sydney, NSW", "Pokemon 151 Elite Trainer Box", "", "Sealed!"} {
		if looksLikePrice(s) {
			t.Fatalf("%q should not look like a price", s)
		}
	}
}
