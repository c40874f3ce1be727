package browser

import "testing"

func TestContentBlocked(t *testing.T) {
	blocked := []string{
		`<html><body>You must log in to continue.</body></html>`,
		`<div>Sorry, you're Temporarily Blocked</div>`,
		`<span>we limit how often you can do certain things</span>`,
	}
	for _, html := range blocked {
		if !ContentBlocked(html) {
			t.Fatalf("expected block detection for %q", html)
		}
	}

	clean := []string{
		`<html><body><a href="/marketplace/item/1">Pokemon ETB $165</a></body></html>`,
		``,
	}
	for _, html := range clean {
		if ContentBlocked(html) {
			t.Fatalf("false positive block detection for %q", html)
		}
	}
}
