package identity

import "testing"

func TestCanonicalURLStripsTracking(t *testing.T) {
	raw := "https://WWW.Facebook.com/marketplace/item/123456789/?ref=search&utm_source=feed&fbclid=abc123"
	want := "https://www.facebook.com/marketplace/item/123456789"

	if got := CanonicalURL(raw); got != want {
		t.Fatalf("CanonicalURL(%q) = %q, want %q", raw, got, want)
	}
}

func TestCanonicalURLKeepsMeaningfulQuery(t *testing.T) {
	raw := "https://www.facebook.com/marketplace/item/42?variant=jp"
	got := CanonicalURL(raw)
	if got != "https://www.facebook.com/marketplace/item/42?variant=jp" {
		t.Fatalf("meaningful query dropped: %q", got)
	}
}

func TestCanonicalURLStableForDuplicates(t *testing.T) {
	a := CanonicalURL("https://www.facebook.com/marketplace/item/99/?ref=browse_tab")
	b := CanonicalURL("https://www.facebook.com/marketplace/item/99?fbclid=zzz")
	if a != b {
		t.Fatalf("same item canonicalized differently: %q vs %q", a, b)
	}
}

func TestCanonicalURLMalformedInputRoundTrips(t *testing.T) {
	raw := "  not a url at all  "
	got := CanonicalURL(raw)
	if got != "not a url at all" {
		t.Fatalf("malformed input should be returned trimmed, got %q", got)
	}
	if CanonicalURL("") != "" {
		t.Fatal("empty input should stay empty")
	}
}

func TestFingerprintStable(t *testing.T) {
	url := "https://www.facebook.com/marketplace/item/123"
	a, b := Fingerprint(url), Fingerprint(url)
	if a != b {
		t.Fatalf("fingerprint not stable: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %d (%q)", len(a), a)
	}
	if Fingerprint("https://www.facebook.com/marketplace/item/124") == a {
		t.Fatal("different urls must not collide on the happy path")
	}
}
