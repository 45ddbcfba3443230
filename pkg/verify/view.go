package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"price-guard/pkg/models"
)

// Store visibility levels for catalog views.
const (
	VisibilityAll      = "all"
	VisibilityVerified = "verified"
	VisibilityFresh    = "fresh"
)

type ViewOptions struct {
	StoreVisibility string
}

// OfferView is an offer as a client may render it. Price is set only for
// verified_fresh offers; ReferencePrice is the unverified ingestion price.
type OfferView struct {
	OfferID            string                    `json:"offer_id"`
	StoreName          string                    `json:"store_name"`
	Title              string                    `json:"title,omitempty"`
	URL                string                    `json:"url"`
	ReferencePrice     int64                     `json:"reference_price"`
	Price              *int64                    `json:"price"`
	DisplayPrice       *int64                    `json:"display_price"`
	PriceState         models.PriceState         `json:"price_state"`
	VerificationStatus models.VerificationStatus `json:"verification_status"`
	VerificationMethod models.VerificationMethod `json:"verification_method,omitempty"`
	VerifiedAt         *time.Time                `json:"verified_at,omitempty"`
	FreshUntil         *time.Time                `json:"fresh_until,omitempty"`
	IsActive           bool                      `json:"is_active"`
	IsLowest           bool                      `json:"is_lowest"`
	MatchScore         float64                   `json:"match_score"`
}

type ProductView struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Brand    string        `json:"brand,omitempty"`
	Model    string        `json:"model,omitempty"`
	Category string        `json:"category,omitempty"`
	ImageURL string        `json:"image_url,omitempty"`
	Prices   models.Prices `json:"prices"`
	Offers   []OfferView   `json:"offers"`
}

type CatalogView struct {
	ProductType string        `json:"product_type"`
	Visibility  string        `json:"visibility"`
	GeneratedAt time.Time     `json:"generated_at"`
	Products    []ProductView `json:"products"`
}

// ParseVisibility maps a query value to a visibility level; empty means
// verified.
func ParseVisibility(s string) (string, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "":
		return VisibilityVerified, nil
	case VisibilityAll, VisibilityVerified, VisibilityFresh:
		return v, nil
	default:
		return "", fmt.Errorf("unknown visibility %q", s)
	}
}

// PrepareCatalogForResponse builds the client view of one catalog. It reads
// the store and never writes it.
func (e *Engine) PrepareCatalogForResponse(ctx context.Context, productType string, opts ViewOptions) (*CatalogView, error) {
	visibility, err := ParseVisibility(opts.StoreVisibility)
	if err != nil {
		return nil, err
	}
	c, err := e.store.Load(ctx, productType)
	if err != nil {
		return nil, err
	}
	now := e.now()
	normalizeCatalog(c, e.policy, now)

	view := &CatalogView{
		ProductType: productType,
		Visibility:  visibility,
		GeneratedAt: now,
		Products:    make([]ProductView, 0, len(c.Products)),
	}
	for i := range c.Products {
		p := &c.Products[i]
		pv := ProductView{
			ID:       p.ID,
			Name:     p.Name,
			Brand:    p.Brand,
			Model:    p.Model,
			Category: p.Category,
			ImageURL: p.ImageURL,
			Prices:   p.Prices,
			Offers:   []OfferView{},
		}
		lowest := -1
		for j := range p.Offers {
			o := &p.Offers[j]
			if !visible(o, visibility) {
				continue
			}
			ov := e.offerView(o)
			if ov.Price != nil && (lowest < 0 || *ov.Price < *pv.Offers[lowest].Price) {
				lowest = len(pv.Offers)
			}
			pv.Offers = append(pv.Offers, ov)
		}
		if lowest >= 0 {
			pv.Offers[lowest].IsLowest = true
		}
		if len(pv.Offers) == 0 && visibility != VisibilityAll {
			continue
		}
		view.Products = append(view.Products, pv)
	}
	return view, nil
}

func visible(o *models.Offer, visibility string) bool {
	switch visibility {
	case VisibilityFresh:
		return o.PriceState == models.PriceVerifiedFresh
	case VisibilityVerified:
		return o.PriceState == models.PriceVerifiedFresh || o.PriceState == models.PriceVerifiedStale
	default:
		return true
	}
}

func (e *Engine) offerView(o *models.Offer) OfferView {
	var tok string
	if e.tokens != nil && o.PriceState == models.PriceVerifiedFresh {
		if t, err := e.tokens.IssuePrice(o); err == nil {
			tok = t
		}
	}
	return OfferView{
		OfferID:            o.OfferID,
		StoreName:          o.StoreName,
		Title:              o.Title,
		URL:                e.offerURL(o.OfferID, tok),
		ReferencePrice:     o.RawPrice,
		Price:              o.DisplayPrice,
		DisplayPrice:       o.DisplayPrice,
		PriceState:         o.PriceState,
		VerificationStatus: o.VerificationStatus,
		VerificationMethod: o.VerificationMethod,
		VerifiedAt:         o.VerifiedAt,
		FreshUntil:         o.FreshUntil,
		IsActive:           o.IsActive,
		MatchScore:         o.MatchScore,
	}
}
