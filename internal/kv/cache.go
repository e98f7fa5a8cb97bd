package kv

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"svc-steward.io/steward/internal/pkg/logger"
)

// Cache is a read-through cache for single-key reads and document exports,
// keyed by (service, path-or-prefix, format). It is a pure optimization:
// every failure degrades to a store read, never to an error, and consistent
// reads bypass it entirely (ADR-0005).
//
// Invalidation follows every successful write: the written path plus all
// ancestor prefixes, since a document export at any ancestor includes the
// written leaf.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

const (
	cacheGetPrefix = "kv:get:"
	cacheDocPrefix = "kv:doc:"
)

var cacheDocFormats = []DocumentFormat{FormatJSON, FormatYAML, FormatProperties}

// NewCache creates a Cache on an existing Redis client.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) getKey(serviceID, path string) string {
	return cacheGetPrefix + serviceID + ":" + path
}

func (c *Cache) docKey(serviceID, prefix string, format DocumentFormat) string {
	return cacheDocPrefix + serviceID + ":" + prefix + ":" + string(format)
}

// GetEntry returns a cached single-key read, missing on any error.
func (c *Cache) GetEntry(ctx context.Context, serviceID, path string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, c.getKey(serviceID, path)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Debug("KV cache read failed", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	return data, true
}

// SetEntry stores a single-key read. Best effort.
func (c *Cache) SetEntry(ctx context.Context, serviceID, path string, data []byte) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, c.getKey(serviceID, path), data, c.ttl).Err(); err != nil {
		logger.Debug("KV cache write failed", zap.String("path", path), zap.Error(err))
	}
}

// GetDocument returns a cached document export, missing on any error.
func (c *Cache) GetDocument(ctx context.Context, serviceID, prefix string, format DocumentFormat) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, c.docKey(serviceID, prefix, format)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Debug("KV cache read failed", zap.String("prefix", prefix), zap.Error(err))
		return nil, false
	}
	return data, true
}

// SetDocument stores a document export. Best effort.
func (c *Cache) SetDocument(ctx context.Context, serviceID, prefix string, format DocumentFormat, data []byte) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, c.docKey(serviceID, prefix, format), data, c.ttl).Err(); err != nil {
		logger.Debug("KV cache write failed", zap.String("prefix", prefix), zap.Error(err))
	}
}

// InvalidateWrite drops cache state made stale by a single-key write: the
// key's own cached read plus document exports at every ancestor prefix.
func (c *Cache) InvalidateWrite(ctx context.Context, serviceID, path string) {
	if c == nil {
		return
	}
	keys := []string{c.getKey(serviceID, path)}
	keys = append(keys, c.ancestorDocKeys(serviceID, path)...)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logger.Debug("KV cache invalidation failed", zap.String("path", path), zap.Error(err))
	}
}

// InvalidateTree drops cache state made stale by a recursive delete or a
// transactional batch under prefix: every cached read and export under the
// prefix, plus exports at the prefix's ancestors.
func (c *Cache) InvalidateTree(ctx context.Context, serviceID, prefix string) {
	if c == nil {
		return
	}
	c.scanDelete(ctx, c.getKey(serviceID, prefix)+"*")
	c.scanDelete(ctx, cacheDocPrefix+serviceID+":"+prefix+"*")

	keys := c.ancestorDocKeys(serviceID, prefix)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logger.Debug("KV cache invalidation failed", zap.String("prefix", prefix), zap.Error(err))
	}
}

// ancestorDocKeys builds document cache keys for the path itself, every
// parent prefix, and the service root.
func (c *Cache) ancestorDocKeys(serviceID, path string) []string {
	prefixes := []string{path}
	for {
		i := strings.LastIndex(path, "/")
		if i < 0 {
			break
		}
		path = path[:i]
		prefixes = append(prefixes, path)
	}
	prefixes = append(prefixes, "")

	keys := make([]string, 0, len(prefixes)*len(cacheDocFormats))
	for _, p := range prefixes {
		for _, f := range cacheDocFormats {
			keys = append(keys, c.docKey(serviceID, p, f))
		}
	}
	return keys
}

func (c *Cache) scanDelete(ctx context.Context, pattern string) {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.Debug("KV cache scan failed", zap.String("pattern", pattern), zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logger.Debug("KV cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
	}
}
