package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"price-guard/pkg/models"

	_ "modernc.org/sqlite"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLite, error) {
	if dbPath == "" {
		dbPath = "./catalog.db"
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one writer; the verification queue already serialises mutations
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS catalogs (
			product_type TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context, productType string) (*models.Catalog, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM catalogs WHERE product_type = ?`,
		productType,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCatalogNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(productType, []byte(data))
}

func (s *SQLite) Save(ctx context.Context, productType string, c *models.Catalog) error {
	data, err := encode(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO catalogs (product_type, data, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(product_type)
		 DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		productType, string(data), time.Now().UTC(),
	)
	return err
}

func (s *SQLite) Types(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT product_type FROM catalogs ORDER BY product_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
