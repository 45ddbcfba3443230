// Package verify is the verification orchestrator. It runs the platform
// adapter then the page scraper for an offer, applies the freshness policy,
// persists the catalog and decides whether a click may redirect.
//
// Every read-modify-write of a catalog runs as a job on the single-worker
// queue, so at most one verification commits at a time.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"price-guard/pkg/eventlog"
	"price-guard/pkg/freshness"
	"price-guard/pkg/models"
	"price-guard/pkg/queue"
	"price-guard/pkg/scrapers"
	"price-guard/pkg/store"
	"price-guard/pkg/token"

	"go.opentelemetry.io/otel/metric"
)

// Triggers recorded on log entries.
const (
	TriggerClick     = "click"
	TriggerClickLate = "click_late"
	TriggerConfirm   = "confirm"
	TriggerManual    = "manual"
	TriggerSchedule  = "schedule"
	TriggerBatch     = "batch"
)

type Config struct {
	FreshTTL              time.Duration
	VerifyTimeout         time.Duration
	ClickVerifyTimeout    time.Duration
	HardMismatchPercent   float64
	AllowDegradedRedirect bool
	StrictPriceGuard      bool
	BatchLimit            int
	CatalogTypes          []string
	PublicBaseURL         string
}

type Deps struct {
	Store    store.Store
	Queue    *queue.Queue
	Adapters *scrapers.Registry
	Fallback scrapers.Fallback
	Tokens   *token.Service
	Events   *eventlog.Log
	Logger   *slog.Logger
	Meter    metric.Meter
	Now      func() time.Time
}

type Engine struct {
	cfg      Config
	store    store.Store
	queue    *queue.Queue
	adapters *scrapers.Registry
	fallback scrapers.Fallback
	tokens   *token.Service
	events   *eventlog.Log
	policy   freshness.Policy
	logger   *slog.Logger
	now      func() time.Time
	inst     *instruments
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("verify: store is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("verify: queue is required")
	}
	if cfg.FreshTTL <= 0 {
		return nil, errors.New("verify: freshness ttl must be positive")
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 8 * time.Second
	}
	if cfg.ClickVerifyTimeout <= 0 {
		cfg.ClickVerifyTimeout = 4 * time.Second
	}
	if cfg.HardMismatchPercent <= 0 {
		cfg.HardMismatchPercent = 5
	}

	e := &Engine{
		cfg:      cfg,
		store:    deps.Store,
		queue:    deps.Queue,
		adapters: deps.Adapters,
		fallback: deps.Fallback,
		tokens:   deps.Tokens,
		events:   deps.Events,
		policy:   freshness.New(cfg.FreshTTL),
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if e.adapters == nil {
		e.adapters = scrapers.NewRegistry()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "verify")
	if e.now == nil {
		e.now = time.Now
	}
	inst, err := newInstruments(deps.Meter)
	if err != nil {
		return nil, fmt.Errorf("verify: instruments: %w", err)
	}
	e.inst = inst
	return e, nil
}

type Options struct {
	Trigger string
	Force   bool

	// ListedPrice is the price the caller displayed, 0 when unknown.
	ListedPrice      int64
	ListedVerifiedAt *time.Time

	// AllowDegraded permits a redirect after a failed verification in
	// addition to the configured policy.
	AllowDegraded bool

	// Timeout bounds the whole verification; 0 means only the per-call
	// timeout applies.
	Timeout time.Duration

	// claimed is taken by whichever of the click job and the click timeout
	// answers first; the other side must not record a second click.
	claimed *atomic.Bool
}

// claim takes the click for res. A job that loses to the click timeout is
// recorded as a late verification instead.
func (o Options) claim(res *Result) {
	if o.claimed != nil && !o.claimed.CompareAndSwap(false, true) {
		res.Trigger = TriggerClickLate
	}
}

type Result struct {
	OfferID     string                    `json:"offer_id"`
	ProductID   string                    `json:"product_id,omitempty"`
	ProductType string                    `json:"product_type,omitempty"`
	Trigger     string                    `json:"trigger"`
	Success     bool                      `json:"success"`
	Skipped     bool                      `json:"skipped"`
	Code        string                    `json:"code,omitempty"`
	Message     string                    `json:"message,omitempty"`
	Method      models.VerificationMethod `json:"method,omitempty"`

	RedirectURL      string `json:"redirect_url,omitempty"`
	RedirectBlocked  bool   `json:"redirect_blocked"`
	DegradedRedirect bool   `json:"degraded_redirect"`

	PriceChanged bool    `json:"price_changed"`
	OldPrice     int64   `json:"old_price,omitempty"`
	NewPrice     int64   `json:"new_price,omitempty"`
	DeltaPercent float64 `json:"delta_percent"`
	LatencyMs    int64   `json:"latency_ms"`

	Offer      *models.Offer `json:"offer,omitempty"`
	PriceToken string        `json:"price_token,omitempty"`
}

// VerifyOfferByID verifies one offer on the queue and waits for the result.
// An unknown offer is a result with code OFFER_NOT_FOUND, not an error;
// errors are reserved for the store and the queue.
func (e *Engine) VerifyOfferByID(ctx context.Context, offerID string, opts Options) (*Result, error) {
	return e.enqueue(ctx, offerID, "", opts)
}

func (e *Engine) enqueue(ctx context.Context, offerID, productType string, opts Options) (*Result, error) {
	var res *Result
	err := e.queue.Do(ctx, func(jctx context.Context) error {
		r, err := e.verify(jctx, offerID, productType, opts)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) verify(ctx context.Context, offerID, productType string, opts Options) (*Result, error) {
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}
	start := e.now()
	res := &Result{OfferID: offerID, Trigger: opts.Trigger}

	loc, err := e.locate(ctx, offerID, productType, start)
	if errors.Is(err, models.ErrOfferNotFound) {
		res.Code = models.CodeOfferNotFound
		res.Message = "offer not found"
		res.RedirectBlocked = true
		opts.claim(res)
		e.record(ctx, res, nil, eventlog.State{}, start)
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	o := loc.offer()
	res.ProductID = loc.product.ID
	res.ProductType = loc.productType
	before := snapshot(o)

	if !opts.Force && e.canSkip(o, opts, start) {
		res.Success = true
		res.Skipped = true
		res.Method = o.VerificationMethod
		res.NewPrice = o.VerifiedPrice
		e.finish(res, o, opts)
		opts.claim(res)
		e.record(ctx, res, o, before, start)
		return res, nil
	}

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	match, verr := e.check(runCtx, o, loc.product)
	now := e.now()
	latency := now.Sub(start).Milliseconds()

	if verr == nil {
		e.applySuccess(res, o, match, opts, now)
	} else {
		e.applyFailure(res, o, verr, now)
	}
	o.LastCheckedAt = &now
	o.LastVerifyLatencyMs = latency
	res.LatencyMs = latency
	recomputePrices(loc.product, e.policy, now)
	loc.product.UpdatedAt = now
	loc.catalog.UpdatedAt = now

	if err := e.store.Save(ctx, loc.productType, loc.catalog); err != nil {
		e.logger.Error("catalog save failed, verification discarded", "offer_id", offerID, "product_type", loc.productType, "error", err)
		return nil, models.NewVerifyError("", models.CodeStoreError, "save catalog %s: %v", loc.productType, err)
	}

	e.finish(res, o, opts)
	opts.claim(res)
	e.record(ctx, res, o, before, start)
	return res, nil
}

// canSkip reports whether a fresh verification still covers what the caller
// displayed.
func (e *Engine) canSkip(o *models.Offer, opts Options, now time.Time) bool {
	if !e.policy.IsFresh(o, now) || !o.IsActive {
		return false
	}
	if opts.ListedPrice > 0 && opts.ListedPrice != o.VerifiedPrice {
		return false
	}
	if opts.ListedVerifiedAt != nil && o.VerifiedAt != nil && opts.ListedVerifiedAt.After(*o.VerifiedAt) {
		return false
	}
	return true
}

// check runs the platform adapter and, when it fails, the page scraper.
func (e *Engine) check(ctx context.Context, o *models.Offer, p *models.Product) (*models.Match, error) {
	adapter, ok := e.adapters.For(o)
	if !ok {
		return nil, models.NewVerifyError("", models.CodeUnsupportedStore, "no adapter supports store %q", o.StoreName)
	}

	match, primaryErr := e.call(ctx, func(ctx context.Context) (*models.Match, error) {
		return adapter.Verify(ctx, o, p)
	})
	if primaryErr == nil {
		return match, nil
	}
	e.logger.Debug("adapter failed", "offer_id", o.OfferID, "adapter", adapter.Name(), "code", models.CodeOf(primaryErr), "error", primaryErr)
	if e.fallback == nil {
		return nil, primaryErr
	}

	match, fallbackErr := e.call(ctx, func(ctx context.Context) (*models.Match, error) {
		return e.fallback.Verify(ctx, o)
	})
	if fallbackErr == nil {
		return match, nil
	}
	e.logger.Debug("fallback failed", "offer_id", o.OfferID, "code", models.CodeOf(fallbackErr), "error", fallbackErr)

	// personalization is a property of the page and decides the price state
	if models.IsPersonalized(models.CodeOf(fallbackErr)) {
		return nil, fallbackErr
	}
	return nil, primaryErr
}

func (e *Engine) call(ctx context.Context, fn func(context.Context) (*models.Match, error)) (*models.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.VerifyTimeout)
	defer cancel()
	m, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil || m.Price <= 0 {
		return nil, models.NewVerifyError("", models.CodePriceMissing, "verification returned no price")
	}
	return m, nil
}

func (e *Engine) applySuccess(res *Result, o *models.Offer, m *models.Match, opts Options, now time.Time) {
	baseline := opts.ListedPrice
	if baseline <= 0 {
		baseline = o.VerifiedPrice
	}
	if baseline <= 0 {
		baseline = o.RawPrice
	}

	o.VerificationStatus = models.StatusVerified
	o.VerificationMethod = m.Method
	o.VerifiedPrice = m.Price
	o.VerifiedAt = &now
	freshUntil := now.Add(e.cfg.FreshTTL)
	o.FreshUntil = &freshUntil
	o.Personalized = false
	o.IsActive = true
	o.LastErrorCode = ""
	o.LastErrorMessage = ""
	if m.Method == models.MethodAPI && m.Score > 0 {
		o.MatchScore = math.Min(m.Score, 100)
	}
	if o.SourceProductID == "" && m.SourceProductID != "" {
		o.SourceProductID = m.SourceProductID
	}
	if o.Title == "" && m.Title != "" {
		o.Title = m.Title
	}

	o.LastDeltaPercent = 0
	if baseline > 0 && baseline != m.Price {
		o.MismatchCount++
		o.LastDeltaPercent = deltaPercent(baseline, m.Price)
		res.PriceChanged = true
	}
	e.policy.Apply(o, now)

	res.Success = true
	res.Method = m.Method
	res.OldPrice = baseline
	res.NewPrice = m.Price
	res.DeltaPercent = o.LastDeltaPercent
}

func (e *Engine) applyFailure(res *Result, o *models.Offer, err error, now time.Time) {
	code := models.CodeOf(err)
	message := err.Error()
	var ve *models.VerifyError
	if errors.As(err, &ve) {
		message = ve.Message
		res.Method = ve.Method
	}

	o.VerificationStatus = models.StatusFailed
	o.IsActive = false
	o.Personalized = models.IsPersonalized(code)
	o.LastErrorCode = code
	o.LastErrorMessage = message
	e.policy.Apply(o, now)

	res.Code = code
	res.Message = message
}

// finish attaches the redirect decision and a fresh price token.
func (e *Engine) finish(res *Result, o *models.Offer, opts Options) {
	switch {
	case res.Success:
		res.RedirectURL = o.SourceURL
	case res.Code != models.CodeOfferNotFound && (opts.AllowDegraded || e.cfg.AllowDegradedRedirect) && o.SourceURL != "":
		res.RedirectURL = o.SourceURL
		res.DegradedRedirect = true
	}
	res.RedirectBlocked = res.RedirectURL == ""

	copied := *o
	res.Offer = &copied
	if e.tokens != nil && o.PriceState == models.PriceVerifiedFresh {
		tok, err := e.tokens.IssuePrice(o)
		if err != nil {
			e.logger.Warn("issue price token", "offer_id", o.OfferID, "error", err)
			return
		}
		res.PriceToken = tok
	}
}

func (e *Engine) record(ctx context.Context, res *Result, o *models.Offer, before eventlog.State, start time.Time) {
	entry := eventlog.Entry{
		Timestamp:       e.now(),
		Trigger:         res.Trigger,
		OfferID:         res.OfferID,
		ProductID:       res.ProductID,
		ProductType:     res.ProductType,
		Before:          before,
		Success:         res.Success,
		Skipped:         res.Skipped,
		Code:            res.Code,
		Message:         res.Message,
		Method:          string(res.Method),
		Mismatch:        res.PriceChanged,
		HardMismatch:    res.PriceChanged && math.Abs(res.DeltaPercent) >= e.cfg.HardMismatchPercent,
		DeltaPercent:    res.DeltaPercent,
		OldPrice:        res.OldPrice,
		NewPrice:        res.NewPrice,
		LatencyMs:       res.LatencyMs,
		RedirectBlocked: res.RedirectBlocked,
		Degraded:        res.DegradedRedirect,
		ClickTimeout:    res.Trigger == TriggerClick && res.Code == models.CodeTimeout,
	}
	if o != nil {
		entry.StoreName = o.StoreName
		entry.After = snapshot(o)
	}
	e.inst.observe(ctx, entry, e.now().Sub(start))

	if e.events == nil {
		return
	}
	if err := e.events.Append(entry); err != nil {
		e.logger.Warn("event log append failed", "offer_id", res.OfferID, "error", err)
	}
}

func snapshot(o *models.Offer) eventlog.State {
	s := eventlog.State{
		Status:     string(o.VerificationStatus),
		PriceState: string(o.PriceState),
		Price:      o.VerifiedPrice,
		IsActive:   o.IsActive,
	}
	if o.DisplayPrice != nil {
		v := *o.DisplayPrice
		s.DisplayPrice = &v
	}
	return s
}

// deltaPercent is the signed change from old to new, rounded to two decimals.
func deltaPercent(old, next int64) float64 {
	d := float64(next-old) / float64(old) * 100
	return math.Round(d*100) / 100
}

type location struct {
	productType string
	catalog     *models.Catalog
	product     *models.Product
	index       int
}

func (l *location) offer() *models.Offer { return &l.product.Offers[l.index] }

// locate loads and normalizes catalogs until one holds offerID. A non-empty
// productType restricts the search to that catalog.
func (e *Engine) locate(ctx context.Context, offerID, productType string, now time.Time) (*location, error) {
	types := []string{productType}
	if productType == "" {
		var err error
		types, err = e.catalogTypes(ctx)
		if err != nil {
			return nil, err
		}
	}
	for _, t := range types {
		c, err := e.store.Load(ctx, t)
		if errors.Is(err, models.ErrCatalogNotFound) {
			continue
		}
		if err != nil {
			return nil, models.NewVerifyError("", models.CodeStoreError, "load catalog %s: %v", t, err)
		}
		normalizeCatalog(c, e.policy, now)
		if p, idx, ok := c.FindOffer(offerID); ok {
			return &location{productType: t, catalog: c, product: p, index: idx}, nil
		}
	}
	return nil, models.ErrOfferNotFound
}

// catalogTypes merges the configured types with those the store knows.
func (e *Engine) catalogTypes(ctx context.Context) ([]string, error) {
	stored, err := e.store.Types(ctx)
	if err != nil {
		return nil, models.NewVerifyError("", models.CodeStoreError, "list catalogs: %v", err)
	}
	seen := make(map[string]bool)
	var types []string
	for _, t := range append(append([]string(nil), e.cfg.CatalogTypes...), stored...) {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		types = append(types, t)
	}
	return types, nil
}

// offerURL is the click-through link for an offer, carrying tok when set.
func (e *Engine) offerURL(offerID, tok string) string {
	u := e.cfg.PublicBaseURL + "/go/" + offerID
	if tok != "" {
		u += "?t=" + tok
	}
	return u
}
