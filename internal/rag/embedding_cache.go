package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EmbeddingCache 两级向量缓存: 进程内 L1 + Redis L2。redis 为 nil 时只用本地缓存。
type EmbeddingCache struct {
	redis    redis.UniversalClient
	prefix   string
	ttl      time.Duration
	maxLocal int

	mu    sync.RWMutex
	local map[string][]float32
}

// NewEmbeddingCache 创建向量缓存
func NewEmbeddingCache(client redis.UniversalClient, prefix string, ttl time.Duration) *EmbeddingCache {
	if prefix == "" {
		prefix = "ka:emb:"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &EmbeddingCache{
		redis:    client,
		prefix:   prefix,
		ttl:      ttl,
		maxLocal: 10000,
		local:    make(map[string][]float32),
	}
}

// Get 查询缓存，Redis 命中时回填本地
func (c *EmbeddingCache) Get(ctx context.Context, text, model string) ([]float32, bool) {
	key := c.makeKey(text, model)

	c.mu.RLock()
	vec, ok := c.local[key]
	c.mu.RUnlock()
	if ok {
		return vec, true
	}

	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	vec, err = DecodeVector(data)
	if err != nil || len(vec) == 0 {
		return nil, false
	}
	c.setLocal(key, vec)
	return vec, true
}

// Set 写入缓存
func (c *EmbeddingCache) Set(ctx context.Context, text, model string, vector []float32) error {
	key := c.makeKey(text, model)
	c.setLocal(key, vector)

	if c.redis == nil {
		return nil
	}
	return c.redis.Set(ctx, key, EncodeVector(vector), c.ttl).Err()
}

// Clear 清空本地缓存和 Redis 中带前缀的键
func (c *EmbeddingCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.local = make(map[string][]float32)
	c.mu.Unlock()

	if c.redis == nil {
		return nil
	}
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if len(keys) > 0 {
		if err := c.redis.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// LocalSize 本地缓存条数
func (c *EmbeddingCache) LocalSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.local)
}

func (c *EmbeddingCache) makeKey(text, model string) string {
	hash := sha256.Sum256([]byte(text))
	return c.prefix + model + ":" + hex.EncodeToString(hash[:16])
}

func (c *EmbeddingCache) setLocal(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 满了清掉一半
	if len(c.local) >= c.maxLocal {
		drop := c.maxLocal / 2
		for k := range c.local {
			if drop <= 0 {
				break
			}
			delete(c.local, k)
			drop--
		}
	}
	c.local[key] = vec
}

// CachedEmbedder 带缓存的 Embedder 包装器，缓存失败不影响向量化结果
type CachedEmbedder struct {
	inner  Embedder
	cache  *EmbeddingCache
	logger *zap.Logger
}

// NewCachedEmbedder 创建带缓存的 Embedder
func NewCachedEmbedder(inner Embedder, cache *EmbeddingCache, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{inner: inner, cache: cache, logger: logger}
}

// Embed 单条向量化
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	model := e.inner.Model()
	if vec, ok := e.cache.Get(ctx, text, model); ok && len(vec) == e.inner.Dimension() {
		return vec, nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Set(ctx, text, model, vec); err != nil {
		e.logger.Warn("写入向量缓存失败", zap.Error(err))
	}
	return vec, nil
}

// EmbedBatch 批量向量化，只对未命中的文本请求下游
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model := e.inner.Model()
	dim := e.inner.Dimension()

	result := make([][]float32, len(texts))
	var missing []string
	var missingPos []int
	for i, text := range texts {
		if vec, ok := e.cache.Get(ctx, text, model); ok && len(vec) == dim {
			result[i] = vec
			continue
		}
		missing = append(missing, text)
		missingPos = append(missingPos, i)
	}
	if len(missing) == 0 {
		return result, nil
	}

	vectors, err := e.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, errors.New("向量化结果数量与输入不一致")
	}

	var cacheErr error
	for j, vec := range vectors {
		result[missingPos[j]] = vec
		if err := e.cache.Set(ctx, missing[j], model, vec); err != nil && cacheErr == nil {
			cacheErr = err
		}
	}
	if cacheErr != nil {
		e.logger.Warn("写入向量缓存失败", zap.Error(fmt.Errorf("batch: %w", cacheErr)))
	}
	return result, nil
}

func (e *CachedEmbedder) Model() string {
	return e.inner.Model()
}

func (e *CachedEmbedder) Dimension() int {
	return e.inner.Dimension()
}
