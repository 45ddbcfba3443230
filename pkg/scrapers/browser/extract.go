package browser

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractConfig bounds price extraction. The ratio band is empirically tuned.
type ExtractConfig struct {
	MaxMatchesPerPattern int     `yaml:"max_matches_per_pattern"`
	RatioLow             float64 `yaml:"ratio_low"`
	RatioHigh            float64 `yaml:"ratio_high"`
	MinPrice             int64   `yaml:"min_price"`
}

func DefaultExtractConfig() ExtractConfig {
	return ExtractConfig{
		MaxMatchesPerPattern: 20,
		RatioLow:             0.4,
		RatioHigh:            2.5,
		MinPrice:             100,
	}
}

var pricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`"salePrice"\s*:\s*"?([0-9][0-9,]*(?:\.[0-9]+)?)`),
	regexp.MustCompile(`"lowPrice"\s*:\s*"?([0-9][0-9,]*(?:\.[0-9]+)?)`),
	regexp.MustCompile(`"price"\s*:\s*"?([0-9][0-9,]*(?:\.[0-9]+)?)`),
	regexp.MustCompile(`([0-9]{1,3}(?:,[0-9]{3})+|[0-9]{4,})\s*원`),
}

var jsonPriceKeys = map[string]bool{
	"price":     true,
	"lowPrice":  true,
	"salePrice": true,
}

// personalizationMarkers are phrases that put the real price behind a
// login, membership or coupon.
var personalizationMarkers = []string{
	"회원가",
	"회원 전용",
	"멤버십",
	"멤버십가",
	"쿠폰가",
	"쿠폰 적용가",
	"쿠폰적용가",
	"로그인 후",
	"로그인후",
	"와우회원",
	"와우할인가",
	"member price",
	"members only",
	"coupon price",
	"login to see",
	"sign in to see",
}

// Candidates collects every positive price found on page, structured data
// first, then the raw-text patterns. Each source is capped at
// MaxMatchesPerPattern hits; zero or less means no cap.
func (cfg ExtractConfig) Candidates(page string) []int64 {
	limit := cfg.MaxMatchesPerPattern
	if limit <= 0 {
		limit = -1
	}
	var out []int64
	// capped returns an adder that stops after limit hits.
	capped := func() (func(string), func() bool) {
		hits := 0
		full := func() bool { return limit >= 0 && hits >= limit }
		return func(raw string) {
			if full() {
				return
			}
			hits++
			out = appendPrice(out, raw, cfg.MinPrice)
		}, full
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err == nil {
		add, full := capped()
		doc.Find(`meta[property="og:price:amount"], meta[property="og:price"], meta[property="product:price:amount"], meta[property="product:sale_price:amount"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			add(s.AttrOr("content", ""))
			return !full()
		})

		add, full = capped()
		doc.Find(`[itemprop="price"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if v, ok := s.Attr("content"); ok {
				add(v)
			} else {
				add(s.Text())
			}
			return !full()
		})

		add, full = capped()
		doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			var v any
			if json.Unmarshal([]byte(s.Text()), &v) == nil {
				walkPrices(v, add)
			}
			return !full()
		})
	}

	for _, re := range pricePatterns {
		for _, m := range re.FindAllStringSubmatch(page, limit) {
			out = appendPrice(out, m[1], cfg.MinPrice)
		}
	}
	return out
}

func appendPrice(out []int64, raw string, floor int64) []int64 {
	if v, ok := parsePrice(raw); ok && v >= floor {
		return append(out, v)
	}
	return out
}

// Select picks the candidate closest to rawPrice inside the ratio band.
// With no candidate in the band it returns the smallest candidate
// and inBand=false.
func (cfg ExtractConfig) Select(candidates []int64, rawPrice int64) (price int64, inBand bool, ok bool) {
	if len(candidates) == 0 {
		return 0, false, false
	}
	if rawPrice > 0 {
		lo := float64(rawPrice) * cfg.RatioLow
		hi := float64(rawPrice) * cfg.RatioHigh
		best, bestDist := int64(0), math.MaxFloat64
		for _, c := range candidates {
			f := float64(c)
			if f < lo || f > hi {
				continue
			}
			if d := math.Abs(f - float64(rawPrice)); d < bestDist {
				best, bestDist = c, d
			}
		}
		if best > 0 {
			return best, true, true
		}
	}
	smallest := candidates[0]
	for _, c := range candidates[1:] {
		if c < smallest {
			smallest = c
		}
	}
	return smallest, false, true
}

// Personalized reports whether page shows a viewer-dependent price marker.
func Personalized(page string) bool {
	text := strings.ToLower(page)
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(page)); err == nil {
		doc.Find("script, style").Remove()
		text = strings.ToLower(doc.Text())
	}
	for _, m := range personalizationMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func walkPrices(v any, add func(string)) {
	switch t := v.(type) {
	case map[string]any:
		for k, vv := range t {
			if jsonPriceKeys[k] {
				switch p := vv.(type) {
				case string:
					add(p)
					continue
				case float64:
					add(strconv.FormatFloat(p, 'f', -1, 64))
					continue
				}
			}
			walkPrices(vv, add)
		}
	case []any:
		for _, vv := range t {
			walkPrices(vv, add)
		}
	}
}

// parsePrice reads "1,050,000", "1050000.00" or "₩ 1,050,000원" as whole won.
func parsePrice(raw string) (int64, bool) {
	var b strings.Builder
	seenDot := false
scan:
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ',' && b.Len() > 0:
		case r == '.' && !seenDot && b.Len() > 0:
			seenDot = true
			b.WriteRune(r)
		case b.Len() == 0:
			// leading currency sign or space
		default:
			break scan
		}
	}
	s := strings.TrimSuffix(b.String(), ".")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return int64(math.Round(f)), true
}
