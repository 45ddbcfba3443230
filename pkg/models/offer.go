package models

import "time"

type VerificationStatus string

const (
	StatusVerified VerificationStatus = "verified"
	StatusFailed   VerificationStatus = "failed"
	StatusStale    VerificationStatus = "stale"
)

type VerificationMethod string

const (
	MethodAPI      VerificationMethod = "api"
	MethodBrowser  VerificationMethod = "browser"
	MethodFallback VerificationMethod = "fallback"
)

// PriceState controls what price, if any, may be shown for an offer.
type PriceState string

const (
	PriceVerifiedFresh PriceState = "verified_fresh"
	PriceVerifiedStale PriceState = "verified_stale"
	PricePersonalized  PriceState = "personalized"
	PriceUnverified    PriceState = "unverified"
)

// Offer is one merchant listing of one product. Prices are in KRW.
type Offer struct {
	OfferID         string `json:"offer_id"`
	StoreName       string `json:"store_name"`
	Title           string `json:"title,omitempty"`
	SourceProductID string `json:"source_product_id,omitempty"`
	SourceURL       string `json:"source_url"`
	CanonicalURL    string `json:"canonical_url"`

	RawPrice      int64 `json:"raw_price"`
	VerifiedPrice int64 `json:"verified_price,omitempty"`

	VerificationStatus VerificationStatus `json:"verification_status"`
	VerificationMethod VerificationMethod `json:"verification_method,omitempty"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty"`
	FreshUntil         *time.Time         `json:"fresh_until,omitempty"`

	// Personalized is the explicit marker set by ingestion or by a
	// PERSONALIZED_PRICE failure; cleared by a successful verification.
	Personalized bool       `json:"personalized,omitempty"`
	PriceState   PriceState `json:"price_state"`
	DisplayPrice *int64     `json:"display_price"`
	IsActive     bool       `json:"is_active"`

	LastErrorCode       string     `json:"last_error_code,omitempty"`
	LastErrorMessage    string     `json:"last_error_message,omitempty"`
	LastCheckedAt       *time.Time `json:"last_checked_at,omitempty"`
	MismatchCount       int        `json:"mismatch_count"`
	LastDeltaPercent    float64    `json:"last_delta_percent"`
	LastVerifyLatencyMs int64      `json:"last_verify_latency_ms"`

	MatchScore float64 `json:"match_score"`

	// Aliases are the IDs of duplicate offers merged into this one.
	Aliases []string `json:"aliases,omitempty"`
}

// HasID reports whether id names o directly or through a merged duplicate.
func (o *Offer) HasID(id string) bool {
	if o.OfferID == id {
		return true
	}
	for _, a := range o.Aliases {
		if a == id {
			return true
		}
	}
	return false
}

// Match is a live price confirmed by an adapter or the fallback scraper.
type Match struct {
	Price           int64
	Method          VerificationMethod
	Source          string
	Title           string
	URL             string
	SourceProductID string
	Score           float64
}
