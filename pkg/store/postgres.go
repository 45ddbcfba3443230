package store

import (
	"context"
	"errors"
	"fmt"

	"price-guard/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if databaseURL == "" {
		return nil, errors.New("store: DATABASE_URL is required for the postgres backend")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS catalogs (
			product_type TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Load(ctx context.Context, productType string) (*models.Catalog, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM catalogs WHERE product_type = $1`, productType).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrCatalogNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(productType, data)
}

func (p *Postgres) Save(ctx context.Context, productType string, c *models.Catalog) error {
	data, err := encode(c)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO catalogs (product_type, data, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (product_type)
		DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`, productType, string(data))
	return err
}

func (p *Postgres) Types(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT product_type FROM catalogs ORDER BY product_type`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
