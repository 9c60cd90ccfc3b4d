package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	deckCacheKeyPrefix = "group:deck:"
	deckStaleKeyPrefix = "group:deck:stale:"

	// 兜底副本比新鲜副本多保留的倍数
	staleTTLFactor = 6
)

// DeckCache 群组牌组缓存，Redis String 存 JSON 数组
type DeckCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewDeckCache(redis *redis.Client, ttl time.Duration) *DeckCache {
	return &DeckCache{redis: redis, ttl: ttl}
}

func deckCacheKey(groupID string) string {
	return deckCacheKeyPrefix + groupID
}

func deckStaleKey(groupID string) string {
	return deckStaleKeyPrefix + groupID
}

// Get 命中时返回缓存的电影 ID 列表；未命中返回 ok = false
func (c *DeckCache) Get(ctx context.Context, groupID string) ([]int64, bool, error) {
	return c.get(ctx, deckCacheKey(groupID))
}

// GetStale 读取兜底副本。Invalidate 不会删除它，目录服务不可用时使用
func (c *DeckCache) GetStale(ctx context.Context, groupID string) ([]int64, bool, error) {
	return c.get(ctx, deckStaleKey(groupID))
}

func (c *DeckCache) get(ctx context.Context, key string) ([]int64, bool, error) {
	if c.redis == nil {
		return nil, false, nil
	}
	val, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var ids []int64
	if err := json.Unmarshal(val, &ids); err != nil {
		return nil, false, err
	}
	return ids, true, nil
}

// Set 写入缓存，固定 TTL；同时刷新兜底副本
func (c *DeckCache) Set(ctx context.Context, groupID string, ids []int64) error {
	if c.redis == nil {
		return nil
	}
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	pipe := c.redis.TxPipeline()
	pipe.Set(ctx, deckCacheKey(groupID), data, c.ttl)
	pipe.Set(ctx, deckStaleKey(groupID), data, c.ttl*staleTTLFactor)
	_, err = pipe.Exec(ctx)
	return err
}

// Invalidate 删除缓存，滑动与清空后调用
func (c *DeckCache) Invalidate(ctx context.Context, groupID string) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, deckCacheKey(groupID)).Err()
}
