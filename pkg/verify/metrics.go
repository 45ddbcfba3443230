package verify

import (
	"context"
	"errors"
	"math"
	"time"

	"price-guard/pkg/eventlog"
	"price-guard/pkg/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "price-guard/verify"

type instruments struct {
	verifications metric.Int64Counter
	mismatches    metric.Int64Counter
	blocked       metric.Int64Counter
	duration      metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	var (
		inst instruments
		err  error
	)
	inst.verifications, err = meter.Int64Counter("price_guard.verifications.total",
		metric.WithDescription("Verification attempts by outcome"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		return nil, err
	}
	inst.mismatches, err = meter.Int64Counter("price_guard.price_mismatches.total",
		metric.WithDescription("Verifications whose live price differed from the displayed price"),
		metric.WithUnit("{mismatch}"),
	)
	if err != nil {
		return nil, err
	}
	inst.blocked, err = meter.Int64Counter("price_guard.redirects.blocked.total",
		metric.WithDescription("Click-throughs refused a redirect"),
		metric.WithUnit("{redirect}"),
	)
	if err != nil {
		return nil, err
	}
	inst.duration, err = meter.Float64Histogram("price_guard.verification.duration",
		metric.WithDescription("Verification duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16),
	)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (i *instruments) observe(ctx context.Context, entry eventlog.Entry, took time.Duration) {
	outcome := "failed"
	switch {
	case entry.Skipped:
		outcome = "skipped"
	case entry.Success:
		outcome = "verified"
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", entry.Trigger),
		attribute.String("outcome", outcome),
		attribute.String("method", entry.Method),
		attribute.String("code", entry.Code),
	)
	i.verifications.Add(ctx, 1, attrs)
	if !entry.Skipped {
		i.duration.Record(ctx, took.Seconds(), attrs)
	}
	if entry.Mismatch {
		i.mismatches.Add(ctx, 1, metric.WithAttributes(
			attribute.String("trigger", entry.Trigger),
			attribute.Bool("hard", entry.HardMismatch),
		))
	}
	if entry.IsClick() && entry.RedirectBlocked {
		i.blocked.Add(ctx, 1, metric.WithAttributes(attribute.String("code", entry.Code)))
	}
}

// Metrics are rolling-window rates over the event log. Every rate is 0 when
// its denominator is empty.
type Metrics struct {
	WindowHours int       `json:"window_hours"`
	Since       time.Time `json:"since"`

	Attempted     int `json:"attempted"`
	Successful    int `json:"successful"`
	Mismatched    int `json:"mismatched"`
	HardMismatch  int `json:"hard_mismatched"`
	Clicks        int `json:"clicks"`
	Blocked       int `json:"redirects_blocked"`
	ClickTimeouts int `json:"click_timeouts"`
	Offers        int `json:"offers"`
	StaleOffers   int `json:"stale_offers"`

	PriceMismatchRate       float64 `json:"price_mismatch_rate"`
	HardMismatchRate        float64 `json:"hard_mismatch_rate"`
	VerificationSuccessRate float64 `json:"verification_success_rate"`
	StaleOfferRate          float64 `json:"stale_offer_rate"`
	RedirectBlockRate       float64 `json:"redirect_block_rate"`
	ClickVerifyTimeoutRate  float64 `json:"click_verify_timeout_rate"`
}

// GetVerificationMetrics computes rates over the last hours of log entries,
// rotated files included. The stale offer rate is taken from the current
// catalogs.
func (e *Engine) GetVerificationMetrics(ctx context.Context, hours int) (*Metrics, error) {
	if hours <= 0 {
		hours = 24
	}
	now := e.now()
	m := &Metrics{WindowHours: hours, Since: now.Add(-time.Duration(hours) * time.Hour)}

	if e.events != nil {
		entries, err := e.events.Since(m.Since)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			m.add(entry)
		}
	}

	types, err := e.catalogTypes(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		c, err := e.store.Load(ctx, t)
		if errors.Is(err, models.ErrCatalogNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		normalizeCatalog(c, e.policy, now)
		for _, p := range c.Products {
			for _, o := range p.Offers {
				m.Offers++
				if o.PriceState == models.PriceVerifiedStale {
					m.StaleOffers++
				}
			}
		}
	}

	m.VerificationSuccessRate = rate(m.Successful, m.Attempted)
	m.PriceMismatchRate = rate(m.Mismatched, m.Successful)
	m.HardMismatchRate = rate(m.HardMismatch, m.Successful)
	m.RedirectBlockRate = rate(m.Blocked, m.Clicks)
	m.ClickVerifyTimeoutRate = rate(m.ClickTimeouts, m.Clicks)
	m.StaleOfferRate = rate(m.StaleOffers, m.Offers)
	return m, nil
}

func (m *Metrics) add(entry eventlog.Entry) {
	if entry.IsClick() {
		m.Clicks++
		if entry.RedirectBlocked {
			m.Blocked++
		}
		if entry.ClickTimeout {
			m.ClickTimeouts++
		}
	}
	if entry.Skipped {
		return
	}
	m.Attempted++
	if !entry.Success {
		return
	}
	m.Successful++
	if entry.Mismatch {
		m.Mismatched++
	}
	if entry.HardMismatch {
		m.HardMismatch++
	}
}

func rate(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(d)*10000) / 10000
}
