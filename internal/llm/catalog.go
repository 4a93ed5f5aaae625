package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ModelLister fetches the models a provider offers.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Catalog caches a provider's model list for a fixed TTL. It is an explicit
// object owned by its caller; Refresh forces a reload.
type Catalog struct {
	src   ModelLister
	cache *expirable.LRU[string, []ModelInfo]
	mu    sync.Mutex // serialises fetches
}

const catalogKey = "models"

// NewCatalog creates a catalog over src. A non-positive ttl means one hour.
func NewCatalog(src ModelLister, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Catalog{
		src:   src,
		cache: expirable.NewLRU[string, []ModelInfo](1, nil, ttl),
	}
}

// Models returns the cached list, fetching it when absent or expired.
func (c *Catalog) Models(ctx context.Context) ([]ModelInfo, error) {
	if m, ok := c.cache.Get(catalogKey); ok {
		return m, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.cache.Get(catalogKey); ok {
		return m, nil
	}
	return c.fetch(ctx)
}

// Refresh drops the cached list and fetches a new one.
func (c *Catalog) Refresh(ctx context.Context) ([]ModelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(catalogKey)
	return c.fetch(ctx)
}

func (c *Catalog) fetch(ctx context.Context) ([]ModelInfo, error) {
	m, err := c.src.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	c.cache.Add(catalogKey, m)
	return m, nil
}

// Lookup returns the model with the given id.
func (c *Catalog) Lookup(ctx context.Context, id string) (ModelInfo, bool, error) {
	models, err := c.Models(ctx)
	if err != nil {
		return ModelInfo{}, false, err
	}
	for _, m := range models {
		if m.ID == id {
			return m, true, nil
		}
	}
	return ModelInfo{}, false, nil
}
