package store

import (
	"context"
	"sort"
	"sync"

	"price-guard/pkg/models"
)

// Memory keeps encoded copies so callers never share catalog memory with
// the store.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Load(ctx context.Context, productType string) (*models.Catalog, error) {
	m.mu.RLock()
	data, ok := m.docs[productType]
	m.mu.RUnlock()
	if !ok {
		return nil, models.ErrCatalogNotFound
	}
	return decode(productType, data)
}

func (m *Memory) Save(ctx context.Context, productType string, c *models.Catalog) error {
	data, err := encode(c)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[productType] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Types(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.docs))
	for t := range m.docs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }
