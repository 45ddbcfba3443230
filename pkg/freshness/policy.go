// Package freshness maps an offer's stored verification fields to a price
// state and to the price that is safe to display. Nothing here does I/O.
package freshness

import (
	"time"

	"price-guard/pkg/models"
)

// Policy holds the freshness TTL applied to verified prices.
type Policy struct {
	TTL time.Duration
}

func New(ttl time.Duration) Policy {
	return Policy{TTL: ttl}
}

func (p Policy) hasVerifiedPrice(o *models.Offer) bool {
	return o.VerifiedPrice > 0 && o.VerifiedAt != nil
}

func (p Policy) withinTTL(o *models.Offer, now time.Time) bool {
	return o.VerifiedAt != nil && now.Sub(*o.VerifiedAt) <= p.TTL
}

// PriceState derives the price state of o at now.
//
// An offer the sweep already downgraded to stale keeps reporting
// verified_stale while it still carries a verified price.
func (p Policy) PriceState(o *models.Offer, now time.Time) models.PriceState {
	if o.Personalized {
		return models.PricePersonalized
	}
	switch o.VerificationStatus {
	case models.StatusVerified:
		if !p.hasVerifiedPrice(o) {
			return models.PriceUnverified
		}
		if p.withinTTL(o, now) {
			if o.IsActive {
				return models.PriceVerifiedFresh
			}
			return models.PriceUnverified
		}
		return models.PriceVerifiedStale
	case models.StatusStale:
		if p.hasVerifiedPrice(o) {
			return models.PriceVerifiedStale
		}
	}
	return models.PriceUnverified
}

// DisplayPrice returns the verified price iff the offer is verified_fresh.
func (p Policy) DisplayPrice(o *models.Offer, now time.Time) *int64 {
	if p.PriceState(o, now) != models.PriceVerifiedFresh {
		return nil
	}
	v := o.VerifiedPrice
	return &v
}

// Apply stores the derived state and display price on o.
func (p Policy) Apply(o *models.Offer, now time.Time) {
	o.PriceState = p.PriceState(o, now)
	o.DisplayPrice = p.DisplayPrice(o, now)
}

// Sweep downgrades o from verified to stale once its TTL has elapsed and
// clears IsActive. It touches nothing else and reports whether it flipped.
func (p Policy) Sweep(o *models.Offer, now time.Time) bool {
	if o.VerificationStatus != models.StatusVerified {
		return false
	}
	if p.withinTTL(o, now) {
		return false
	}
	o.VerificationStatus = models.StatusStale
	o.IsActive = false
	return true
}

// IsFresh reports whether o may skip re-verification at now.
func (p Policy) IsFresh(o *models.Offer, now time.Time) bool {
	return o.VerificationStatus == models.StatusVerified && o.VerifiedPrice > 0 && p.withinTTL(o, now)
}
