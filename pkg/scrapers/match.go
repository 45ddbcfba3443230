package scrapers

import (
	"context"
	"html"
	"regexp"
	"strings"
	"unicode"

	"price-guard/pkg/canonical"
	"price-guard/pkg/models"

	"golang.org/x/text/unicode/norm"
)

// MatchConfig holds the candidate scoring weights and thresholds. They are
// empirically tuned and may be overridden from the tuning file.
type MatchConfig struct {
	ExactIDWeight  float64 `yaml:"exact_id_weight"`
	URLWeight      float64 `yaml:"url_weight"`
	TitleWeight    float64 `yaml:"title_weight"`
	StoreWeight    float64 `yaml:"store_weight"`
	PriceWeight    float64 `yaml:"price_weight"`
	StrongMatch    float64 `yaml:"strong_match"`
	MinAccept      float64 `yaml:"min_accept"`
	MaxQueryTokens int     `yaml:"max_query_tokens"`
}

func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		ExactIDWeight:  100,
		URLWeight:      70,
		TitleWeight:    30,
		StoreWeight:    10,
		PriceWeight:    5,
		StrongMatch:    95,
		MinAccept:      45,
		MaxQueryTokens: 7,
	}
}

// Candidate is one search hit from a marketplace API.
type Candidate struct {
	ID    string
	Title string
	URL   string
	Store string
	Price int64
}

type Matcher struct {
	cfg MatchConfig
}

func NewMatcher(cfg MatchConfig) *Matcher {
	return &Matcher{cfg: cfg}
}

// Score rates how likely c is the listed offer, from 0 to 100.
func (m *Matcher) Score(c Candidate, o *models.Offer, p *models.Product) float64 {
	var score float64
	if o.SourceProductID != "" && strings.TrimSpace(c.ID) == o.SourceProductID {
		score += m.cfg.ExactIDWeight
	}
	if c.URL != "" {
		want := o.CanonicalURL
		if want == "" {
			want = canonical.URL(o.SourceURL)
		}
		if want != "" && canonical.URL(c.URL) == want {
			score += m.cfg.URLWeight
		}
	}
	if p != nil {
		score += m.cfg.TitleWeight * TitleOverlap(p.Name, c.Title)
	}
	if storeOverlap(o.StoreName, c.Store) {
		score += m.cfg.StoreWeight
	}
	if c.Price > 0 {
		score += m.cfg.PriceWeight
	}
	if score > 100 {
		score = 100
	}
	return score
}

// SearchFunc runs one search query against a platform.
type SearchFunc func(ctx context.Context, query string) ([]Candidate, error)

// Resolve runs queries in order and keeps the best-scoring candidate,
// stopping early on a strong match. A best score under MinAccept is
// NO_CONFIDENT_MATCH and a non-positive price PRICE_MISSING. If every query
// failed the first failure is returned.
func (m *Matcher) Resolve(ctx context.Context, source string, queries []string, o *models.Offer, p *models.Product, search SearchFunc) (*models.Match, error) {
	var (
		best      Candidate
		bestScore = -1.0
		firstErr  error
		succeeded bool
	)
	for _, q := range queries {
		cands, err := search(ctx, q)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		succeeded = true
		for _, c := range cands {
			if s := m.Score(c, o, p); s > bestScore {
				best, bestScore = c, s
			}
		}
		if bestScore >= m.cfg.StrongMatch {
			break
		}
	}
	if !succeeded && firstErr != nil {
		return nil, firstErr
	}
	if bestScore < m.cfg.MinAccept {
		return nil, models.NewVerifyError(models.MethodAPI, models.CodeNoConfidentMatch,
			"%s: best candidate score %.0f below %.0f", source, max(bestScore, 0), m.cfg.MinAccept)
	}
	if best.Price <= 0 {
		return nil, models.NewVerifyError(models.MethodAPI, models.CodePriceMissing,
			"%s: matched candidate %q has no price", source, best.ID)
	}
	return &models.Match{
		Price:           best.Price,
		Method:          models.MethodAPI,
		Source:          source,
		Title:           best.Title,
		URL:             best.URL,
		SourceProductID: best.ID,
		Score:           bestScore,
	}, nil
}

// BuildQueries returns the model query and a name query truncated to the
// configured token count, deduplicated.
func (m *Matcher) BuildQueries(p *models.Product, o *models.Offer) []string {
	var out []string
	add := func(q string) {
		q = strings.Join(strings.Fields(q), " ")
		if q == "" {
			return
		}
		for _, existing := range out {
			if strings.EqualFold(existing, q) {
				return
			}
		}
		out = append(out, q)
	}

	if p != nil && p.Model != "" {
		if p.Brand != "" && !strings.Contains(strings.ToLower(p.Model), strings.ToLower(p.Brand)) {
			add(p.Brand + " " + p.Model)
		} else {
			add(p.Model)
		}
	}
	name := ""
	if p != nil {
		name = p.Name
	}
	if name == "" && o != nil {
		name = o.Title
	}
	add(truncateTokens(name, m.cfg.MaxQueryTokens))
	return out
}

func truncateTokens(s string, n int) string {
	fields := strings.Fields(s)
	if n > 0 && len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripTags removes markup such as the <b> highlights search APIs return.
func StripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(s, "")))
}

// NormalizeTitle folds width and case and keeps letters and digits,
// separating words by single spaces.
func NormalizeTitle(s string) string {
	s = norm.NFKC.String(StripTags(s))
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

// TitleOverlap is 1 when one normalized title contains the other, else the
// share of the product's tokens present in the candidate title.
func TitleOverlap(productName, candidateTitle string) float64 {
	a, b := NormalizeTitle(productName), NormalizeTitle(candidateTitle)
	if a == "" || b == "" {
		return 0
	}
	ca, cb := strings.ReplaceAll(a, " ", ""), strings.ReplaceAll(b, " ", "")
	if strings.Contains(cb, ca) || strings.Contains(ca, cb) {
		return 1
	}
	tokens := strings.Fields(a)
	hits := 0
	for _, t := range tokens {
		if strings.Contains(cb, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

func storeOverlap(a, b string) bool {
	a, b = NormalizeTitle(a), NormalizeTitle(b)
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
