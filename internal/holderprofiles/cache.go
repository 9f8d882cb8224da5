// Package holderprofiles implements the C6 holder-profiles cache: a
// read-through cache for token and wallet enrichment results, with atomic
// invalidation across every cache entry a given wallet or token touched.
package holderprofiles

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solwallet/orchestrator/internal/broker"
	"github.com/solwallet/orchestrator/internal/models"
)

const (
	tokenKeyPrefix  = "holder-profiles:token:"
	walletKeyPrefix = "holder-profiles:wallet:"
	walletIndexFmt  = "holder-profiles:index:wallet:%s"
	tokenIndexFmt   = "holder-profiles:index:token:%s"
)

// tokenKey builds the §4.6 token cache key, which is scoped by topN since a
// token's holder list truncated to 10 entries and truncated to 50 are
// different cached artifacts.
func tokenKey(mint string, topN int) string {
	return fmt.Sprintf("%s%s:%d", tokenKeyPrefix, mint, topN)
}

// Cache implements interfaces.HolderProfilesCache.
type Cache struct {
	client *broker.Client
}

// New constructs a holder-profiles Cache.
func New(client *broker.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) get(ctx context.Context, key string) (*models.HolderProfilesResult, bool, error) {
	res, err := c.client.Do(ctx, "cache.get", func(ctx context.Context, rdb *redis.Client) (any, error) {
		return rdb.Get(ctx, key).Result()
	})
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	var result models.HolderProfilesResult
	if err := json.Unmarshal([]byte(res.(string)), &result); err != nil {
		return nil, false, fmt.Errorf("unmarshal cache entry %s: %w", key, err)
	}
	return &result, true, nil
}

// GetToken reads a cached token enrichment result for the given topN cutoff.
func (c *Cache) GetToken(ctx context.Context, mint string, topN int) (*models.HolderProfilesResult, bool, error) {
	return c.get(ctx, tokenKey(mint, topN))
}

// GetWallet reads a cached wallet enrichment result.
func (c *Cache) GetWallet(ctx context.Context, wallet string) (*models.HolderProfilesResult, bool, error) {
	return c.get(ctx, walletKeyPrefix+wallet)
}

// set writes the cache entry and records its key in the index set indexKey
// so a later invalidation can find and delete it.
func (c *Cache) set(ctx context.Context, key, indexKey string, data map[string]any, ttl time.Duration) error {
	now := time.Now()
	entry := models.HolderProfilesResult{
		Key:       key,
		Data:      data,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry %s: %w", key, err)
	}
	_, err = c.client.Do(ctx, "cache.set", func(ctx context.Context, rdb *redis.Client) (any, error) {
		pipe := rdb.TxPipeline()
		pipe.Set(ctx, key, body, ttl)
		pipe.SAdd(ctx, indexKey, key)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// CacheToken stores a token enrichment result for the given topN cutoff,
// indexed under the token's own index so InvalidateForToken sweeps it. It is
// swept by a wallet invalidation only once IndexTokenUnderWallet links it.
func (c *Cache) CacheToken(ctx context.Context, mint string, topN int, data map[string]any, ttl time.Duration) error {
	return c.set(ctx, tokenKey(mint, topN), fmt.Sprintf(tokenIndexFmt, mint), data, ttl)
}

// CacheWallet stores a wallet enrichment result.
func (c *Cache) CacheWallet(ctx context.Context, wallet string, data map[string]any, ttl time.Duration) error {
	return c.set(ctx, walletKeyPrefix+wallet, fmt.Sprintf(walletIndexFmt, wallet), data, ttl)
}

// IndexTokenUnderWallet records that mint's cache entry (at the given topN
// cutoff) was derived from wallet's holdings, so invalidating wallet also
// clears mint.
func (c *Cache) IndexTokenUnderWallet(ctx context.Context, wallet, mint string, topN int) error {
	_, err := c.client.Do(ctx, "cache.index", func(ctx context.Context, rdb *redis.Client) (any, error) {
		return nil, rdb.SAdd(ctx, fmt.Sprintf(walletIndexFmt, wallet), tokenKey(mint, topN)).Err()
	})
	if err != nil {
		return fmt.Errorf("cache index %s/%s: %w", wallet, mint, err)
	}
	return nil
}

// InvalidateForWallet atomically deletes every cache entry indexed under
// wallet, in one Lua script round trip.
func (c *Cache) InvalidateForWallet(ctx context.Context, wallet string) error {
	_, err := c.client.EvalScript(ctx, "cache.invalidate-wallet", c.client.Scripts.CacheInvalidate,
		[]string{fmt.Sprintf(walletIndexFmt, wallet)})
	if err != nil {
		return fmt.Errorf("cache invalidate wallet %s: %w", wallet, err)
	}
	return nil
}

// InvalidateForToken atomically deletes every cache entry indexed under mint.
func (c *Cache) InvalidateForToken(ctx context.Context, mint string) error {
	_, err := c.client.EvalScript(ctx, "cache.invalidate-token", c.client.Scripts.CacheInvalidate,
		[]string{fmt.Sprintf(tokenIndexFmt, mint)})
	if err != nil {
		return fmt.Errorf("cache invalidate token %s: %w", mint, err)
	}
	return nil
}
