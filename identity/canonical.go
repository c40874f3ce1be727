package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Marketplace item URLs carry tracking junk that varies between visits of
// the same listing. The canonical form is what the de-dup set and the
// sink's natural key use.

var trackedParams = map[string]bool{
	"ref":           true,
	"referral_code": true,
	"tracking":      true,
	"utm_source":    true,
	"utm_medium":    true,
	"utm_campaign":  true,
	"fbclid":        true,
}

// CanonicalURL normalizes a marketplace listing URL: lowercased scheme and
// host, tracking query params stripped, no trailing slash, no fragment.
// Unparseable input is returned trimmed rather than dropped so a malformed
// URL still de-duplicates against itself.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")

	q := u.Query()
	for param := range q {
		if trackedParams[strings.ToLower(param)] {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// Fingerprint returns a stable short hash for a canonical URL, used for
// screenshot object keys and log correlation.
func Fingerprint(canonicalURL string) string {
	hash := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(hash[:8])
}
