package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CatalogLoader fetches the authoritative sellable entry for a product.
type CatalogLoader interface {
	LatestSellable(ctx context.Context, productID string) (BonProduct, error)
}

// Catalog caches sellable price entries in Redis. Concurrent misses
// for the same product collapse into one repository load.
type Catalog struct {
	client *redis.Client
	loader CatalogLoader
	group  singleflight.Group
	ttl    time.Duration
	logger *slog.Logger
}

// NewCatalog constructs a Catalog.
func NewCatalog(client *redis.Client, loader CatalogLoader, ttl time.Duration, logger *slog.Logger) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{client: client, loader: loader, ttl: ttl, logger: logger}
}

func catalogKey(productID string) string {
	return fmt.Sprintf("stockline:catalog:%s", productID)
}

// Lookup returns the cached sellable entry, loading on miss. Cache
// trouble degrades to a direct repository read.
func (c *Catalog) Lookup(ctx context.Context, productID string) (BonProduct, error) {
	if c.client != nil {
		raw, err := c.client.Get(ctx, catalogKey(productID)).Bytes()
		if err == nil {
			var entry BonProduct
			if err := json.Unmarshal(raw, &entry); err == nil {
				return entry, nil
			}
		} else if err != redis.Nil && c.logger != nil {
			c.logger.Warn("catalog cache read", slog.String("product", productID), slog.Any("error", err))
		}
	}
	v, err, _ := c.group.Do(productID, func() (any, error) {
		entry, err := c.loader.LatestSellable(ctx, productID)
		if err != nil {
			return BonProduct{}, err
		}
		c.store(ctx, productID, entry)
		return entry, nil
	})
	if err != nil {
		return BonProduct{}, err
	}
	return v.(BonProduct), nil
}

// Invalidate drops the cached entry after a price change.
func (c *Catalog) Invalidate(ctx context.Context, productID string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, catalogKey(productID)).Err(); err != nil && c.logger != nil {
		c.logger.Warn("catalog cache invalidate", slog.String("product", productID), slog.Any("error", err))
	}
}

func (c *Catalog) store(ctx context.Context, productID string, entry BonProduct) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, catalogKey(productID), raw, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.Warn("catalog cache write", slog.String("product", productID), slog.Any("error", err))
	}
}
