// Package browser is the generic merchant-page price reader used when no
// platform API applies or the API adapter failed. It also recognises pages
// whose price depends on the viewer.
package browser

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"price-guard/pkg/models"
	"price-guard/pkg/scrapers"
	"price-guard/pkg/throttle"
)

const Source = "browser"

type Options struct {
	Fetcher  Fetcher
	Throttle *throttle.Throttle
	Config   ExtractConfig
	Logger   *slog.Logger
}

type Scraper struct {
	fetcher  Fetcher
	throttle *throttle.Throttle
	cfg      ExtractConfig
	logger   *slog.Logger
}

func NewScraper(opts Options) *Scraper {
	s := &Scraper{
		fetcher:  opts.Fetcher,
		throttle: opts.Throttle,
		cfg:      opts.Config,
		logger:   opts.Logger,
	}
	if s.fetcher == nil {
		s.fetcher = NewCollyFetcher(0)
	}
	if s.cfg.MaxMatchesPerPattern <= 0 {
		s.cfg = DefaultExtractConfig()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "browser")
	return s
}

// Verify reads the offer's merchant page. A price picked inside the ratio
// band around the raw price reports method browser; one taken from the
// smallest-candidate fallback reports method fallback.
func (s *Scraper) Verify(ctx context.Context, o *models.Offer) (*models.Match, error) {
	pageURL := strings.TrimSpace(o.SourceURL)
	if pageURL == "" {
		return nil, models.NewVerifyError(models.MethodBrowser, models.CodeFetchFailed, "offer has no source url")
	}
	if err := s.throttle.Wait(ctx, scrapers.PlatformBrowser); err != nil {
		return nil, models.NewVerifyError(models.MethodBrowser, models.CodeTimeout, "throttle wait: %v", err)
	}

	s.logger.Debug("fetching", "offer_id", o.OfferID, "url", pageURL)
	page, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, models.NewVerifyError(models.MethodBrowser, models.CodeTimeout, "page fetch timed out")
		}
		var se *StatusError
		if errors.As(err, &se) {
			return nil, models.NewVerifyError(models.MethodBrowser, models.CodeHTTPError, "page returned status %d", se.StatusCode)
		}
		return nil, models.NewVerifyError(models.MethodBrowser, models.CodeFetchFailed, "fetch page: %v", err)
	}

	candidates := s.cfg.Candidates(page)
	price, inBand, ok := s.cfg.Select(candidates, o.RawPrice)
	if !ok {
		if Personalized(page) {
			return nil, models.NewVerifyError(models.MethodBrowser, models.CodePersonalizedPrice, "page shows a member, coupon or login price")
		}
		return nil, models.NewVerifyError(models.MethodBrowser, models.CodePriceNotFound, "no price found on page")
	}

	method := models.MethodBrowser
	if !inBand {
		method = models.MethodFallback
	}
	s.logger.Debug("extracted", "offer_id", o.OfferID, "price", price, "candidates", len(candidates), "in_band", inBand)
	return &models.Match{
		Price:  price,
		Method: method,
		Source: Source,
		Title:  o.Title,
		URL:    pageURL,
		Score:  o.MatchScore,
	}, nil
}
