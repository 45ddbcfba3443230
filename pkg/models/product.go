package models

import "time"

type Prices struct {
	Current  int64 `json:"current"`
	Original int64 `json:"original,omitempty"`
	Lowest   int64 `json:"lowest,omitempty"`
	Average  int64 `json:"average,omitempty"`
}

type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Brand     string    `json:"brand,omitempty"`
	Model     string    `json:"model,omitempty"`
	Category  string    `json:"category,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	Prices    Prices    `json:"prices"`
	Offers    []Offer   `json:"offers"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Catalog is the unit of read/write against the catalog store: every product
// of one product type.
type Catalog struct {
	ProductType string    `json:"product_type"`
	Products    []Product `json:"products"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FindOffer returns the product and offer index holding offerID, matching
// merged aliases too.
func (c *Catalog) FindOffer(offerID string) (*Product, int, bool) {
	for i := range c.Products {
		p := &c.Products[i]
		for j := range p.Offers {
			if p.Offers[j].HasID(offerID) {
				return p, j, true
			}
		}
	}
	return nil, -1, false
}
