// Package coupang verifies offers against the Coupang Partners product
// search API.
package coupang

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"price-guard/pkg/canonical"
	"price-guard/pkg/models"
	"price-guard/pkg/scrapers"
	"price-guard/pkg/throttle"
)

const (
	Source         = "coupang"
	DefaultBaseURL = "https://api-gateway.coupang.com"
	searchPath     = "/v2/providers/affiliate_open_api/apis/openapi/products/search"
	searchLimit    = 10
	signedDateFmt  = "060102T150405Z"
)

type Options struct {
	AccessKey string
	SecretKey string
	BaseURL   string
	Client    *http.Client
	Throttle  *throttle.Throttle
	Matcher   *scrapers.Matcher
	Logger    *slog.Logger
	Now       func() time.Time
}

type Adapter struct {
	accessKey string
	secretKey string
	baseURL   string
	client    *http.Client
	throttle  *throttle.Throttle
	matcher   *scrapers.Matcher
	logger    *slog.Logger
	now       func() time.Time
}

func New(opts Options) *Adapter {
	a := &Adapter{
		accessKey: strings.TrimSpace(opts.AccessKey),
		secretKey: strings.TrimSpace(opts.SecretKey),
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		client:    opts.Client,
		throttle:  opts.Throttle,
		matcher:   opts.Matcher,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if a.baseURL == "" {
		a.baseURL = DefaultBaseURL
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
	if a.now == nil {
		a.now = time.Now
	}
	a.logger = a.logger.With("component", "coupang")
	return a
}

func (a *Adapter) Name() string { return scrapers.PlatformCoupang }

func (a *Adapter) Supports(o *models.Offer) bool {
	if canonical.IsCoupangURL(o.SourceURL) {
		return true
	}
	store := strings.ToLower(o.StoreName)
	return strings.Contains(store, "coupang") || strings.Contains(store, "쿠팡")
}

type searchResponse struct {
	RCode    string `json:"rCode"`
	RMessage string `json:"rMessage"`
	Data     struct {
		ProductData []searchItem `json:"productData"`
	} `json:"data"`
}

type searchItem struct {
	ProductID    int64   `json:"productId"`
	ProductName  string  `json:"productName"`
	ProductPrice float64 `json:"productPrice"`
	ProductURL   string  `json:"productUrl"`
}

func (a *Adapter) Verify(ctx context.Context, o *models.Offer, p *models.Product) (*models.Match, error) {
	if a.accessKey == "" || a.secretKey == "" {
		return nil, models.NewVerifyError(models.MethodAPI, models.CodeAPIKeyMissing, "coupang access/secret key not configured")
	}
	queries := a.matcher.BuildQueries(p, o)
	return a.matcher.Resolve(ctx, Source, queries, o, p, a.search)
}

// Authorization builds the CEA HMAC header for method, path and raw query.
func Authorization(accessKey, secretKey, method, path, rawQuery string, at time.Time) string {
	signedDate := at.UTC().Format(signedDateFmt)
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(signedDate + method + path + rawQuery))
	return fmt.Sprintf("CEA algorithm=HmacSHA256, access-key=%s, signed-date=%s, signature=%s",
		accessKey, signedDate, hex.EncodeToString(mac.Sum(nil)))
}

func (a *Adapter) search(ctx context.Context, query string) ([]scrapers.Candidate, error) {
	if err := a.throttle.Wait(ctx, scrapers.PlatformCoupang); err != nil {
		return nil, models.NewVerifyError(models.MethodAPI, models.CodeTimeout, "throttle wait: %v", err)
	}

	q := url.Values{}
	q.Set("keyword", query)
	q.Set("limit", strconv.Itoa(searchLimit))
	rawQuery := q.Encode()

	req, err := http.NewRequest(http.MethodGet, a.baseURL+searchPath+"?"+rawQuery, nil)
	if err != nil {
		return nil, models.NewVerifyError(models.MethodAPI, models.CodeTransportError, "build request: %v", err)
	}
	req.Header.Set("Authorization", Authorization(a.accessKey, a.secretKey, http.MethodGet, searchPath, rawQuery, a.now()))
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	var resp searchResponse
	if _, err := scrapers.FetchJSON(ctx, a.client, req, &resp); err != nil {
		a.logger.Debug("search failed", "query", query, "error", err)
		return nil, err
	}
	if resp.RCode != "" && resp.RCode != "0" {
		return nil, models.NewVerifyError(models.MethodAPI, models.CodeHTTPError, "coupang rCode %s: %s", resp.RCode, resp.RMessage)
	}

	out := make([]scrapers.Candidate, 0, len(resp.Data.ProductData))
	for _, it := range resp.Data.ProductData {
		out = append(out, scrapers.Candidate{
			ID:    strconv.FormatInt(it.ProductID, 10),
			Title: it.ProductName,
			URL:   it.ProductURL,
			Store: "쿠팡",
			Price: int64(it.ProductPrice),
		})
	}
	a.logger.Debug("search", "query", query, "items", len(out))
	return out, nil
}
