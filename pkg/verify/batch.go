package verify

import (
	"context"
	"errors"
	"time"

	"price-guard/pkg/logger"
	"price-guard/pkg/models"
)

type BatchOptions struct {
	Trigger string
	Force   bool
	// Limit caps the offers verified over the network; 0 uses the
	// configured batch limit.
	Limit int
}

// Summary counts what a batch run did. Stale counts offers that still need
// verification but were left for a later run by the limit.
type Summary struct {
	ProductTypes []string  `json:"product_types"`
	Attempted    int       `json:"attempted"`
	Verified     int       `json:"verified"`
	Failed       int       `json:"failed"`
	Stale        int       `json:"stale"`
	Skipped      int       `json:"skipped"`
	Limited      bool      `json:"limited"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// VerifyCatalogOffers verifies every offer of one catalog, one queued job
// per offer, so click verifications interleave with the run.
func (e *Engine) VerifyCatalogOffers(ctx context.Context, productType string, opts BatchOptions) (*Summary, error) {
	s := e.newSummary()
	err := e.runBatch(ctx, productType, opts, s)
	s.FinishedAt = e.now()
	if errors.Is(err, models.ErrCatalogNotFound) {
		return nil, err
	}
	return s, err
}

// VerifyAllOffers runs VerifyCatalogOffers over every known catalog under a
// single shared limit.
func (e *Engine) VerifyAllOffers(ctx context.Context, opts BatchOptions) (*Summary, error) {
	s := e.newSummary()
	types, err := e.catalogTypes(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		err := e.runBatch(ctx, t, opts, s)
		if errors.Is(err, models.ErrCatalogNotFound) {
			continue
		}
		if err != nil {
			s.FinishedAt = e.now()
			return s, err
		}
	}
	s.FinishedAt = e.now()
	e.logger.Info("batch verification finished",
		"trigger", opts.Trigger,
		"catalogs", len(s.ProductTypes),
		"attempted", s.Attempted,
		"verified", s.Verified,
		"failed", s.Failed,
		"stale", s.Stale,
		"skipped", s.Skipped,
		"took", s.FinishedAt.Sub(s.StartedAt).String(),
	)
	return s, nil
}

func (e *Engine) newSummary() *Summary {
	return &Summary{ProductTypes: []string{}, StartedAt: e.now()}
}

func (e *Engine) runBatch(ctx context.Context, productType string, opts BatchOptions, s *Summary) error {
	if opts.Trigger == "" {
		opts.Trigger = TriggerBatch
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.BatchLimit
	}

	c, err := e.store.Load(ctx, productType)
	if err != nil {
		return err
	}
	s.ProductTypes = append(s.ProductTypes, productType)
	now := e.now()
	normalizeCatalog(c, e.policy, now)

	for i := range c.Products {
		for j := range c.Products[i].Offers {
			o := &c.Products[i].Offers[j]
			if err := ctx.Err(); err != nil {
				return err
			}
			fresh := e.policy.IsFresh(o, now)
			if limit > 0 && s.Attempted >= limit {
				s.Limited = true
				if fresh && !opts.Force {
					s.Skipped++
				} else {
					s.Stale++
				}
				continue
			}

			res, err := e.enqueue(ctx, o.OfferID, productType, Options{Trigger: opts.Trigger, Force: opts.Force})
			if err != nil {
				return err
			}
			switch {
			case res.Skipped:
				s.Skipped++
				logger.Dedup("offer still fresh, skipping (%s)", productType)
			case res.Code == models.CodeOfferNotFound:
				// removed by ingestion since the snapshot
			case res.Success:
				s.Attempted++
				s.Verified++
			default:
				s.Attempted++
				s.Failed++
			}
		}
	}
	logger.FlushDedup()
	return nil
}
