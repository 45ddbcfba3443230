package browser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1,050,000", 1050000, true},
		{"1050000.00", 1050000, true},
		{"₩ 1,050,000원", 1050000, true},
		{"  89000 ", 89000, true},
		{"0", 0, false},
		{"가격문의", 0, false},
	}
	for _, tt := range tests {
		got, ok := parsePrice(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCandidates(t *testing.T) {
	cfg := DefaultExtractConfig()
	page := `<html><head>
		<meta property="og:price:amount" content="1200000">
		<script type="application/ld+json">{"@type":"Product","offers":{"@type":"AggregateOffer","lowPrice":"1150000","highPrice":"1300000"}}</script>
	</head><body><b>1,190,000 원</b></body></html>`

	got := cfg.Candidates(page)
	assert.Contains(t, got, int64(1200000))
	assert.Contains(t, got, int64(1150000))
	assert.Contains(t, got, int64(1190000))
	assert.NotContains(t, got, int64(1300000))
}

func TestCandidatesBoundedPerPattern(t *testing.T) {
	cfg := DefaultExtractConfig()
	var b strings.Builder
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&b, "<li>%d원</li>", 10000+i)
	}
	got := cfg.Candidates(b.String())
	assert.Len(t, got, cfg.MaxMatchesPerPattern)
}

func TestCandidatesBoundedPerSelector(t *testing.T) {
	cfg := DefaultExtractConfig()
	cfg.MaxMatchesPerPattern = 5

	var meta, items strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&meta, `<meta property="og:price:amount" content="%d">`, 20000+i)
		fmt.Fprintf(&items, `<span itemprop="price" content="%d"></span>`, 30000+i)
	}
	got := cfg.Candidates("<html><head>" + meta.String() + "</head><body>" + items.String() + "</body></html>")
	assert.Len(t, got, 10)
	assert.Contains(t, got, int64(20004))
	assert.NotContains(t, got, int64(20005))
	assert.Contains(t, got, int64(30004))
	assert.NotContains(t, got, int64(30005))

	var offers []string
	for i := 0; i < 30; i++ {
		offers = append(offers, fmt.Sprintf(`{"@type":"Offer","price":%d}`, 40000+i))
	}
	ld := `<script type="application/ld+json">{"@type":"Product","offers":[` + strings.Join(offers, ",") + `]}</script>`
	got = cfg.Candidates("<html><head>" + ld + ld + "</head></html>")
	// five from the structured pass, five from the "price" text pattern
	assert.Len(t, got, 10)
}

func TestCandidatesUncappedWhenLimitUnset(t *testing.T) {
	cfg := DefaultExtractConfig()
	cfg.MaxMatchesPerPattern = 0

	var items strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&items, `<span itemprop="price" content="%d"></span>`, 30000+i)
	}
	assert.Len(t, cfg.Candidates(items.String()), 30)
}

func TestSelect(t *testing.T) {
	cfg := DefaultExtractConfig()

	price, inBand, ok := cfg.Select([]int64{39900, 1050000, 990000, 5000000}, 1000000)
	assert.True(t, ok)
	assert.True(t, inBand)
	assert.EqualValues(t, 990000, price)

	price, inBand, ok = cfg.Select([]int64{99000, 89000, 99000}, 1000000)
	assert.True(t, ok)
	assert.False(t, inBand)
	assert.EqualValues(t, 89000, price)

	_, _, ok = cfg.Select(nil, 1000000)
	assert.False(t, ok)
}

func TestPersonalized(t *testing.T) {
	assert.True(t, Personalized(`<div>쿠폰 적용가 보기</div>`))
	assert.True(t, Personalized(`<p>Member Price available</p>`))
	assert.False(t, Personalized(`<div>무료배송</div><script>var t="회원가";</script>`))
}
