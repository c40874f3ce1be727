package models

import "testing"

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw    string
		amount float64
		valid  bool
	}{
		{"$165", 165, true},
		{"$165.50", 165.50, true},
		{"CA$1,200", 1200, true},
		{"A$40", 40, true},
		{"£1,234.56", 1234.56, true},
		{"165", 165, true},
		{"$0", 0, true},
		{"Free", 0, false},
		{"", 0, false},
		{"price on request", 0, false},
		{".", 0, false},
	}

	for _, tt := range tests {
		p := ParsePrice(tt.raw)
		if p.Valid != tt.valid {
			t.Fatalf("ParsePrice(%q): valid = %v, want %v", tt.raw, p.Valid, tt.valid)
		}
		if p.Valid && p.Amount != tt.amount {
			t.Fatalf("ParsePrice(%q): amount = %v, want %v", tt.raw, p.Amount, tt.amount)
		}
		if p.Raw != tt.raw {
			t.Fatalf("ParsePrice(%q): raw text not preserved, got %q", tt.raw, p.Raw)
		}
	}
}

func TestParsePriceNeverPanicsOnJunk(t *testing.T) {
	for _, raw := range []string{"$$$", "...", "$-5", "1.2.3.4", "\x00\xff"} {
		_ = ParsePrice(raw)
	}
}
