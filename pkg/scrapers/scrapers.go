// Package scrapers holds what the platform adapters share: the adapter
// contract, candidate matching, search-query building and a JSON fetch
// helper that turns HTTP outcomes into typed verification failures.
package scrapers

import (
	"context"

	"price-guard/pkg/models"
)

const (
	PlatformNaver   = "naver"
	PlatformCoupang = "coupang"
	PlatformBrowser = "browser"
)

// Adapter verifies an offer against one marketplace's API. Failures are
// *models.VerifyError with Method set to api.
type Adapter interface {
	Name() string
	Supports(o *models.Offer) bool
	Verify(ctx context.Context, o *models.Offer, p *models.Product) (*models.Match, error)
}

// Fallback verifies an offer by reading its merchant page.
type Fallback interface {
	Verify(ctx context.Context, o *models.Offer) (*models.Match, error)
}

// Registry picks the adapter responsible for an offer.
type Registry struct {
	adapters []Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// For returns the first adapter supporting o.
func (r *Registry) For(o *models.Offer) (Adapter, bool) {
	for _, a := range r.adapters {
		if a.Supports(o) {
			return a, true
		}
	}
	return nil, false
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for _, a := range r.adapters {
		names = append(names, a.Name())
	}
	return names
}
