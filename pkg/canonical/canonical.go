// Package canonical normalizes merchant URLs so identical offers collapse to
// one key, and classifies URLs by marketplace.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"unicode"
)

var trackingParams = map[string]struct{}{
	"lptag":     {},
	"traceid":   {},
	"requestid": {},
	"subid":     {},
}

// IsTrackingParam reports whether key is stripped during canonicalization.
func IsTrackingParam(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := trackingParams[k]
	return ok
}

// URL returns host + path + sorted query with tracking parameters removed.
// It never fails: malformed input falls back to a plain string strip.
// URL(URL(u)) == URL(u) for every u.
func URL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, ok := parseHost(raw)
	if !ok {
		s := strip(raw)
		if u, ok = parseHost(s); !ok {
			return s
		}
	}
	return format(u)
}

func format(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host += ":" + port
	}
	path := strings.TrimRight(u.EscapedPath(), "/")

	query := u.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		if IsTrackingParam(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(host)
	b.WriteString(path)
	for i, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		for j, v := range vals {
			if i == 0 && j == 0 {
				b.WriteByte('?')
			} else {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// hasScheme reports whether raw starts with a scheme followed by "://".
func hasScheme(raw string) bool {
	i := strings.Index(raw, "://")
	return i > 0 && !strings.ContainsAny(raw[:i], "/?#")
}

func parse(raw string) (*url.URL, error) {
	if !hasScheme(raw) {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}
	return url.Parse(raw)
}

// parseHost parses raw and requires a host that survives re-parsing.
func parseHost(raw string) (*url.URL, bool) {
	u, err := parse(raw)
	if err != nil || u.Hostname() == "" || strings.Contains(u.Host, "%") || strings.ContainsFunc(u.Host, unicode.IsSpace) {
		return nil, false
	}
	return u, true
}

// strip lowercases raw, cuts the fragment and trims schemes, whitespace and
// trailing separators until nothing changes.
func strip(raw string) string {
	s := strings.ToLower(raw)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	for {
		prev := s
		s = strings.TrimSpace(s)
		for _, scheme := range []string{"https://", "http://", "//"} {
			s = strings.TrimPrefix(s, scheme)
		}
		s = strings.TrimRight(s, "/:")
		if s == prev {
			return s
		}
	}
}

// Hostname returns the lowercase hostname of raw, or "" when it has none.
func Hostname(raw string) string {
	u, err := parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func hostHasSuffix(raw string, suffixes ...string) bool {
	host := Hostname(raw)
	if host == "" {
		return false
	}
	for _, s := range suffixes {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

// IsNaverURL reports whether raw points at a Naver Shopping property.
func IsNaverURL(raw string) bool {
	return hostHasSuffix(raw, "naver.com", "naver.net")
}

// IsCoupangURL reports whether raw points at a Coupang property.
func IsCoupangURL(raw string) bool {
	return hostHasSuffix(raw, "coupang.com")
}

// OfferID derives the stable identifier of an offer.
func OfferID(productID, storeName, canonicalURL string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		strings.TrimSpace(productID),
		strings.ToLower(strings.TrimSpace(storeName)),
		canonicalURL,
	}, "\x1f")))
	return "of_" + hex.EncodeToString(sum[:10])
}

var redirectHosts = []string{"link.coupang.com", "cr.shopping.naver.com", "cr2.shopping.naver.com", "adcr.naver.com"}

// Quality ranks a source URL when duplicates are merged: direct https
// merchant links beat affiliate redirects and tracked URLs.
func Quality(raw string) int {
	u, err := parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return -10
	}
	score := 0
	if u.Scheme == "https" {
		score += 2
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range redirectHosts {
		if host == h {
			score -= 3
			break
		}
	}
	for k := range u.Query() {
		if IsTrackingParam(k) {
			score--
		}
	}
	return score
}
