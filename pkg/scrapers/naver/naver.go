// Package naver verifies offers against the Naver Shopping search API.
package naver

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"price-guard/pkg/canonical"
	"price-guard/pkg/models"
	"price-guard/pkg/scrapers"
	"price-guard/pkg/throttle"
)

const (
	Source          = "naver"
	DefaultEndpoint = "https://openapi.naver.com/v1/search/shop.json"
	displayCount    = 20
)

type Options struct {
	ClientID     string
	ClientSecret string
	Endpoint     string
	Client       *http.Client
	Throttle     *throttle.Throttle
	Matcher      *scrapers.Matcher
	Logger       *slog.Logger
}

type Adapter struct {
	clientID     string
	clientSecret string
	endpoint     string
	client       *http.Client
	throttle     *throttle.Throttle
	matcher      *scrapers.Matcher
	logger       *slog.Logger
}

func New(opts Options) *Adapter {
	a := &Adapter{
		clientID:     strings.TrimSpace(opts.ClientID),
		clientSecret: strings.TrimSpace(opts.ClientSecret),
		endpoint:     opts.Endpoint,
		client:       opts.Client,
		throttle:     opts.Throttle,
		matcher:      opts.Matcher,
		logger:       opts.Logger,
	}
	if a.endpoint == "" {
		a.endpoint = DefaultEndpoint
	}
	if a.client == nil {
		a.client = http.DefaultClient
	}
	if a.matcher == nil {
		a.matcher = scrapers.NewMatcher(scrapers.DefaultMatchConfig())
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "naver")
	return a
}

func (a *Adapter) Name() string { return scrapers.PlatformNaver }

func (a *Adapter) Supports(o *models.Offer) bool {
	if canonical.IsNaverURL(o.SourceURL) {
		return true
	}
	store := strings.ToLower(o.StoreName)
	return strings.Contains(store, "naver") || strings.Contains(store, "네이버")
}

type searchResponse struct {
	Total int          `json:"total"`
	Items []searchItem `json:"items"`
}

type searchItem struct {
	ProductID string `json:"productId"`
	Title     string `json:"title"`
	Link      string `json:"link"`
	LowPrice  string `json:"lprice"`
	MallName  string `json:"mallName"`
}

func (a *Adapter) Verify(ctx context.Context, o *models.Offer, p *models.Product) (*models.Match, error) {
	if a.clientID == "" || a.clientSecret == "" {
		return nil, models.NewVerifyError(models.MethodAPI, models.CodeAPIKeyMissing, "naver client id/secret not configured")
	}
	queries := a.matcher.BuildQueries(p, o)
	return a.matcher.Resolve(ctx, Source, queries, o, p, a.search)
}

func (a *Adapter) search(ctx context.Context, query string) ([]scrapers.Candidate, error) {
	if err := a.throttle.Wait(ctx, scrapers.PlatformNaver); err != nil {
		return nil, models.NewVerifyError(models.MethodAPI, models.CodeTimeout, "throttle wait: %v", err)
	}

	u, err := url.Parse(a.endpoint)
	if err != nil {
		return nil, models.NewVerifyError(models.MethodAPI, models.CodeTransportError, "endpoint: %v", err)
	}
	q := u.Query()
	q.Set("query", query)
	q.Set("display", strconv.Itoa(displayCount))
	u.RawQuery = q.Encode()

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, models.NewVerifyError(models.MethodAPI, models.CodeTransportError, "build request: %v", err)
	}
	req.Header.Set("X-Naver-Client-Id", a.clientID)
	req.Header.Set("X-Naver-Client-Secret", a.clientSecret)

	var resp searchResponse
	if _, err := scrapers.FetchJSON(ctx, a.client, req, &resp); err != nil {
		a.logger.Debug("search failed", "query", query, "error", err)
		return nil, err
	}

	out := make([]scrapers.Candidate, 0, len(resp.Items))
	for _, it := range resp.Items {
		price, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(it.LowPrice), ",", ""), 10, 64)
		if err != nil {
			price = 0
		}
		out = append(out, scrapers.Candidate{
			ID:    it.ProductID,
			Title: scrapers.StripTags(it.Title),
			URL:   it.Link,
			Store: it.MallName,
			Price: price,
		})
	}
	a.logger.Debug("search", "query", query, "total", resp.Total, "items", len(out))
	return out, nil
}
