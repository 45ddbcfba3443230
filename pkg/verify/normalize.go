package verify

import (
	"math"
	"slices"
	"strings"
	"time"

	"price-guard/pkg/canonical"
	"price-guard/pkg/freshness"
	"price-guard/pkg/models"
)

// normalizeCatalog repairs offer metadata in place, merges offers sharing a
// canonical URL, runs the freshness sweep and refreshes derived fields.
// Running it twice is the same as running it once.
func normalizeCatalog(c *models.Catalog, policy freshness.Policy, now time.Time) {
	for i := range c.Products {
		p := &c.Products[i]
		for j := range p.Offers {
			normalizeOffer(p.ID, &p.Offers[j], policy)
		}
		p.Offers = dedupeOffers(p.Offers)
		for j := range p.Offers {
			o := &p.Offers[j]
			policy.Sweep(o, now)
			policy.Apply(o, now)
		}
		recomputePrices(p, policy, now)
	}
}

func normalizeOffer(productID string, o *models.Offer, policy freshness.Policy) {
	o.SourceURL = strings.TrimSpace(o.SourceURL)
	o.StoreName = strings.TrimSpace(o.StoreName)
	if c := canonical.URL(o.SourceURL); c != "" {
		o.CanonicalURL = c
	} else {
		o.CanonicalURL = canonical.URL(o.CanonicalURL)
	}
	if o.OfferID == "" {
		o.OfferID = canonical.OfferID(productID, o.StoreName, o.CanonicalURL)
	}

	switch o.VerificationStatus {
	case models.StatusVerified:
		if o.VerifiedPrice <= 0 || o.VerifiedAt == nil || o.VerificationMethod == "" {
			o.VerificationStatus = models.StatusStale
			o.IsActive = false
		}
	case models.StatusFailed, models.StatusStale:
	default:
		o.VerificationStatus = models.StatusStale
		o.IsActive = false
	}
	if o.VerifiedPrice < 0 {
		o.VerifiedPrice = 0
	}
	if o.VerifiedAt != nil {
		until := o.VerifiedAt.Add(policy.TTL)
		o.FreshUntil = &until
	} else {
		o.FreshUntil = nil
	}
	o.MatchScore = math.Max(0, math.Min(o.MatchScore, 100))
}

// dedupeOffers collapses offers with the same canonical URL. The most
// recently verified record survives, taking the better-quality source URL
// and the higher match score of the pair. The merged ID stays reachable as
// an alias.
func dedupeOffers(offers []models.Offer) []models.Offer {
	index := make(map[string]int, len(offers))
	out := offers[:0:0]
	for _, o := range offers {
		key := o.CanonicalURL
		if key == "" {
			out = append(out, o)
			continue
		}
		i, dup := index[key]
		if !dup {
			index[key] = len(out)
			out = append(out, o)
			continue
		}
		out[i] = mergeOffers(out[i], o)
	}
	return out
}

func mergeOffers(a, b models.Offer) models.Offer {
	base, other := a, b
	if verifiedAfter(b, a) {
		base, other = b, a
	}
	if canonical.Quality(other.SourceURL) > canonical.Quality(base.SourceURL) {
		base.SourceURL = other.SourceURL
	}
	base.MatchScore = math.Max(base.MatchScore, other.MatchScore)
	if base.RawPrice <= 0 {
		base.RawPrice = other.RawPrice
	}
	// a verification outcome on base overrides an ingestion marker
	if other.Personalized && base.VerifiedAt == nil {
		base.Personalized = true
	}
	base.Aliases = mergeAliases(base.OfferID, base.Aliases, append([]string{other.OfferID}, other.Aliases...))
	return base
}

func mergeAliases(id string, have, add []string) []string {
	out := append([]string(nil), have...)
	for _, a := range add {
		if a == "" || a == id || slices.Contains(out, a) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func verifiedAfter(a, b models.Offer) bool {
	switch {
	case a.VerifiedAt == nil:
		return false
	case b.VerifiedAt == nil:
		return true
	default:
		return a.VerifiedAt.After(*b.VerifiedAt)
	}
}

// recomputePrices derives the product aggregates from its fresh offers.
// Original is ingestion's and is left alone.
func recomputePrices(p *models.Product, policy freshness.Policy, now time.Time) {
	var (
		sum    int64
		n      int64
		lowest int64
	)
	for i := range p.Offers {
		price := policy.DisplayPrice(&p.Offers[i], now)
		if price == nil {
			continue
		}
		sum += *price
		n++
		if lowest == 0 || *price < lowest {
			lowest = *price
		}
	}
	if n == 0 {
		p.Prices.Current = 0
		p.Prices.Average = 0
		return
	}
	p.Prices.Current = lowest
	p.Prices.Average = int64(math.Round(float64(sum) / float64(n)))
	if p.Prices.Lowest == 0 || lowest < p.Prices.Lowest {
		p.Prices.Lowest = lowest
	}
}
