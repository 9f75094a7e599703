// internal/pipeline/knowledge-retrieval/cache.go
package knowledgeretrieval

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mygads/govconnect-sub008/internal/models"
)

// Cache keeps retrieval responses in Redis keyed per tenant. It can be
// switched off at runtime without a restart, for example while the
// knowledge base is being re-indexed.
type Cache struct {
	rdb     redis.Cmdable
	ttl     time.Duration
	enabled atomic.Bool
	logger  Logger
}

func NewCache(rdb redis.Cmdable, ttl time.Duration, logger Logger) *Cache {
	c := &Cache{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
	c.enabled.Store(true)
	return c
}

// Enabled reports whether the cache currently serves reads.
func (c *Cache) Enabled() bool {
	return c.enabled.Load()
}

// SetEnabled toggles the cache at runtime.
func (c *Cache) SetEnabled(on bool) {
	c.enabled.Store(on)
	c.logger.Info("Retrieval cache toggled", map[string]interface{}{
		"enabled": on,
	})
}

// Get returns a cached response, or nil on miss, disabled cache, or store
// error. Cache trouble never fails a retrieval.
func (c *Cache) Get(ctx context.Context, req *models.RetrievalRequest) *models.RetrievalResponse {
	if !c.enabled.Load() {
		return nil
	}

	raw, err := c.rdb.Get(ctx, c.key(req)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		c.logger.Warn("Retrieval cache read failed", map[string]interface{}{
			"tenant_id": req.TenantID,
			"error":     err.Error(),
		})
		return nil
	}

	var resp models.RetrievalResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		c.logger.Warn("Dropping malformed retrieval cache entry", map[string]interface{}{
			"tenant_id": req.TenantID,
		})
		return nil
	}
	return &resp
}

// Put stores a response. Degraded responses are never cached so an outage
// does not poison the cache for its TTL.
func (c *Cache) Put(ctx context.Context, req *models.RetrievalRequest, resp *models.RetrievalResponse) {
	if !c.enabled.Load() || resp == nil || resp.Degraded {
		return
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		c.logger.Warn("Retrieval cache marshal failed", map[string]interface{}{
			"tenant_id": req.TenantID,
			"error":     err.Error(),
		})
		return
	}
	if err := c.rdb.Set(ctx, c.key(req), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("Retrieval cache write failed", map[string]interface{}{
			"tenant_id": req.TenantID,
			"error":     err.Error(),
		})
	}
}

// Clear drops every cached entry for one tenant.
func (c *Cache) Clear(ctx context.Context, tenantID string) (int64, error) {
	pattern := fmt.Sprintf("retrieval:cache:%s:*", tenantID)
	var removed int64
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, fmt.Errorf("retrieval cache scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("retrieval cache delete: %w", err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// key hashes the search parameters so equivalent queries share one entry
// while tenants never see each other's results.
func (c *Cache) key(req *models.RetrievalRequest) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%.4f|%v|%v", req.Query, req.TopK, req.MinScore, req.Categories, req.SourceTypes)))
	return fmt.Sprintf("retrieval:cache:%s:%s", req.TenantID, hex.EncodeToString(sum[:]))
}
