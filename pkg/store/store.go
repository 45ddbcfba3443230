// Package store persists catalogs as whole documents keyed by product type.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"price-guard/pkg/models"
)

// Store is the whole-document catalog contract. Load of an unknown type
// returns models.ErrCatalogNotFound.
type Store interface {
	Load(ctx context.Context, productType string) (*models.Catalog, error)
	Save(ctx context.Context, productType string, c *models.Catalog) error
	Types(ctx context.Context) ([]string, error)
	Close() error
}

// Open builds the backend named by backend.
func Open(ctx context.Context, backend string, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "sqlite":
		return NewSQLite(opts.SQLitePath)
	case "postgres", "postgresql":
		return NewPostgres(ctx, opts.DatabaseURL)
	case "redis":
		return NewRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
}

type Options struct {
	SQLitePath    string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Import reads a JSON catalog (or a bare product array) from r and saves it
// under productType.
func Import(ctx context.Context, s Store, productType string, r io.Reader) (*models.Catalog, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("store: read import: %w", err)
	}
	var c models.Catalog
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(raw, &c.Products); err != nil {
			return nil, fmt.Errorf("store: decode products: %w", err)
		}
	} else if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("store: decode catalog: %w", err)
	}
	c.ProductType = productType
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	for i := range c.Products {
		if c.Products[i].Offers == nil {
			c.Products[i].Offers = []models.Offer{}
		}
	}
	if err := s.Save(ctx, productType, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func encode(c *models.Catalog) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("store: marshal catalog: %w", err)
	}
	return data, nil
}

func decode(productType string, data []byte) (*models.Catalog, error) {
	var c models.Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("store: unmarshal catalog %s: %w", productType, err)
	}
	if c.ProductType == "" {
		c.ProductType = productType
	}
	return &c, nil
}
