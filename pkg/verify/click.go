package verify

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"price-guard/pkg/eventlog"
	"price-guard/pkg/models"
	"price-guard/pkg/token"
)

// ClickResult is a click-time verification. NeedsConfirm means the live
// price moved away from the listed one and the redirect waits for the user
// to accept ConfirmToken.
type ClickResult struct {
	*Result
	TokenError   string `json:"token_error,omitempty"`
	NeedsConfirm bool   `json:"needs_confirm"`
	ConfirmToken string `json:"confirm_token,omitempty"`
}

// Click re-verifies an offer before redirecting to it. An expired price
// token is reported and verification proceeds without a listed price; any
// other token failure is returned as a *token.Error.
func (e *Engine) Click(ctx context.Context, offerID, priceToken string) (*ClickResult, error) {
	out := &ClickResult{}
	opts := Options{
		Trigger: TriggerClick,
		Timeout: e.cfg.ClickVerifyTimeout,
		claimed: new(atomic.Bool),
	}
	if strings.TrimSpace(priceToken) != "" && e.tokens != nil {
		p, err := e.tokens.VerifyPrice(priceToken, offerID)
		switch {
		case err == nil:
			opts.ListedPrice = p.ListedPrice
			at := time.Unix(p.VerifiedAt, 0)
			opts.ListedVerifiedAt = &at
		case token.CodeOf(err) == token.CodeExpired:
			out.TokenError = token.CodeExpired
		default:
			return nil, err
		}
	}

	// one click timeout to get through the queue, one to verify
	waitCtx, cancel := context.WithTimeout(ctx, 2*e.cfg.ClickVerifyTimeout)
	defer cancel()
	var jobRes *Result
	fut := e.queue.Enqueue(func(jctx context.Context) error {
		r, err := e.verify(jctx, offerID, "", opts)
		jobRes = r
		return err
	})
	var res *Result
	err := fut.Wait(waitCtx)
	switch {
	case err == nil:
		res = jobRes
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		if opts.claimed.CompareAndSwap(false, true) {
			res = e.clickTimeout(ctx, offerID, opts)
			break
		}
		// the job answered just as the wait ran out
		if err := fut.Wait(ctx); err != nil {
			return nil, err
		}
		res = jobRes
	default:
		return nil, err
	}
	out.Result = res

	if res.Success && opts.ListedPrice > 0 && res.NewPrice != opts.ListedPrice && e.cfg.StrictPriceGuard && e.tokens != nil {
		tok, err := e.tokens.IssueConfirm(offerID, opts.ListedPrice, res.NewPrice)
		if err != nil {
			return nil, err
		}
		out.NeedsConfirm = true
		out.ConfirmToken = tok
	}
	return out, nil
}

// clickTimeout answers a click whose verification did not finish in time.
// The offer is read without the queue only to decide on a degraded redirect.
func (e *Engine) clickTimeout(ctx context.Context, offerID string, opts Options) *Result {
	start := e.now()
	res := &Result{
		OfferID: offerID,
		Trigger: TriggerClick,
		Code:    models.CodeTimeout,
		Message: "click verification did not finish in time",
	}
	var (
		o      *models.Offer
		before eventlog.State
	)
	if loc, err := e.locate(ctx, offerID, "", start); err == nil {
		o = loc.offer()
		before = snapshot(o)
		res.ProductID = loc.product.ID
		res.ProductType = loc.productType
		e.finish(res, o, opts)
		res.PriceToken = ""
	} else {
		res.RedirectBlocked = true
	}
	res.LatencyMs = (2 * e.cfg.ClickVerifyTimeout).Milliseconds()
	e.record(ctx, res, o, before, start)
	return res
}

// Confirm completes a click after the user accepted a price change. The
// offer must still be verified_fresh at the confirmed price.
func (e *Engine) Confirm(ctx context.Context, offerID, confirmToken string) (*ClickResult, error) {
	if e.tokens == nil {
		return nil, &token.Error{Code: token.CodeMissing}
	}
	p, err := e.tokens.VerifyConfirm(confirmToken, offerID)
	if err != nil {
		return nil, err
	}

	var res *Result
	err = e.queue.Do(ctx, func(jctx context.Context) error {
		r, err := e.confirm(jctx, offerID, p)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ClickResult{Result: res}, nil
}

func (e *Engine) confirm(ctx context.Context, offerID string, p *token.ConfirmPayload) (*Result, error) {
	start := e.now()
	res := &Result{OfferID: offerID, Trigger: TriggerConfirm, OldPrice: p.OldPrice, NewPrice: p.NewPrice}

	loc, err := e.locate(ctx, offerID, "", start)
	if errors.Is(err, models.ErrOfferNotFound) {
		res.Code = models.CodeOfferNotFound
		res.Message = "offer not found"
		res.RedirectBlocked = true
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
	if o.PriceState == models.PriceVerifiedFresh && o.DisplayPrice != nil && *o.DisplayPrice == p.NewPrice {
		res.Success = true
		res.Skipped = true
		res.Method = o.VerificationMethod
		res.RedirectURL = o.SourceURL
		res.RedirectBlocked = res.RedirectURL == ""
		copied := *o
		res.Offer = &copied
	} else {
		res.Code = models.CodePriceChanged
		res.Message = "offer price changed again since confirmation was requested"
		res.RedirectBlocked = true
	}
	e.record(ctx, res, o, before, start)
	return res, nil
}
