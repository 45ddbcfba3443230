package scrapers

import (
	"context"
	"errors"
	"testing"

	"price-guard/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	gram  = &models.Product{ID: "p1", Name: "LG 그램 16 16Z90S-GA5CK 노트북", Brand: "LG", Model: "16Z90S-GA5CK"}
	offer = &models.Offer{
		OfferID:         "of_1",
		StoreName:       "쿠팡",
		SourceProductID: "7788",
		SourceURL:       "https://www.coupang.com/vp/products/7788?itemId=1",
		CanonicalURL:    "www.coupang.com/vp/products/7788?itemId=1",
		RawPrice:        1000000,
	}
)

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "lg 그램 16z90s ga5ck", NormalizeTitle("<b>LG</b> 그램　１６Z90S-GA5CK!"))
	assert.Equal(t, "", NormalizeTitle(" -- "))
}

func TestTitleOverlap(t *testing.T) {
	assert.Equal(t, 1.0, TitleOverlap("LG 그램 16Z90S", "[특가] LG 그램 16Z90S 2024"))
	assert.InDelta(t, 0.5, TitleOverlap("LG 그램 16Z90S 화이트", "LG 16Z90S 블랙"), 0.001)
	assert.Zero(t, TitleOverlap("", "anything"))
}

func TestScore(t *testing.T) {
	m := NewMatcher(DefaultMatchConfig())

	exact := m.Score(Candidate{ID: "7788", Title: "LG 그램 16 16Z90S-GA5CK 노트북", Store: "쿠팡", Price: 950000}, offer, gram)
	assert.Equal(t, 100.0, exact)

	byURL := m.Score(Candidate{URL: "https://www.coupang.com/vp/products/7788?utm_source=x&itemId=1", Price: 1}, offer, gram)
	assert.Equal(t, 75.0, byURL)

	titleOnly := m.Score(Candidate{Title: "LG 그램 16 16Z90S-GA5CK 노트북"}, offer, gram)
	assert.Equal(t, 30.0, titleOnly)
}

func TestResolveStopsOnStrongMatch(t *testing.T) {
	m := NewMatcher(DefaultMatchConfig())
	var calls []string
	search := func(ctx context.Context, q string) ([]Candidate, error) {
		calls = append(calls, q)
		return []Candidate{{ID: "7788", Title: "LG 그램", Price: 950000}}, nil
	}

	match, err := m.Resolve(context.Background(), "coupang", []string{"LG 16Z90S-GA5CK", "LG 그램 16"}, offer, gram, search)
	require.NoError(t, err)
	assert.EqualValues(t, 950000, match.Price)
	assert.Equal(t, models.MethodAPI, match.Method)
	assert.Equal(t, "7788", match.SourceProductID)
	assert.Len(t, calls, 1)
}

func TestResolveFailures(t *testing.T) {
	m := NewMatcher(DefaultMatchConfig())
	ctx := context.Background()

	weak := func(ctx context.Context, q string) ([]Candidate, error) {
		return []Candidate{{ID: "x", Title: "전혀 다른 상품", Price: 10}}, nil
	}
	_, err := m.Resolve(ctx, "naver", []string{"a"}, offer, gram, weak)
	assert.Equal(t, models.CodeNoConfidentMatch, models.CodeOf(err))

	free := func(ctx context.Context, q string) ([]Candidate, error) {
		return []Candidate{{ID: "7788", Price: 0}}, nil
	}
	_, err = m.Resolve(ctx, "naver", []string{"a"}, offer, gram, free)
	assert.Equal(t, models.CodePriceMissing, models.CodeOf(err))

	down := models.NewVerifyError(models.MethodAPI, models.CodeHTTPError, "http status 503")
	broken := func(ctx context.Context, q string) ([]Candidate, error) { return nil, down }
	_, err = m.Resolve(ctx, "naver", []string{"a", "b"}, offer, gram, broken)
	assert.True(t, errors.Is(err, down))

	empty := func(ctx context.Context, q string) ([]Candidate, error) { return nil, nil }
	_, err = m.Resolve(ctx, "naver", []string{"a"}, offer, gram, empty)
	assert.Equal(t, models.CodeNoConfidentMatch, models.CodeOf(err))
}

func TestBuildQueries(t *testing.T) {
	m := NewMatcher(DefaultMatchConfig())

	qs := m.BuildQueries(gram, offer)
	assert.Equal(t, []string{"LG 16Z90S-GA5CK", "LG 그램 16 16Z90S-GA5CK 노트북"}, qs)

	long := &models.Product{Name: "a b c d e f g h i j"}
	assert.Equal(t, []string{"a b c d e f g"}, m.BuildQueries(long, offer))

	same := &models.Product{Name: "Dell U2723QE", Model: "Dell U2723QE", Brand: "Dell"}
	assert.Equal(t, []string{"Dell U2723QE"}, m.BuildQueries(same, offer))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, ok := r.For(offer)
	assert.False(t, ok)
	assert.Empty(t, r.Names())
}
