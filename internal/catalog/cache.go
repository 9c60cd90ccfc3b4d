package catalog

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const movieCacheKeyPrefix = "movie:details:"

// CachedGateway 在 Gateway 外包一层 Redis 缓存，只缓存电影详情
type CachedGateway struct {
	Gateway
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedGateway(inner Gateway, redis *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedGateway {
	return &CachedGateway{Gateway: inner, redis: redis, ttl: ttl, logger: logger}
}

func (c *CachedGateway) MovieDetails(ctx context.Context, id int64) (*Movie, error) {
	key := movieCacheKeyPrefix + strconv.FormatInt(id, 10)

	if val, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		var movie Movie
		if json.Unmarshal(val, &movie) == nil {
			return &movie, nil
		}
	}

	movie, err := c.Gateway.MovieDetails(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(movie); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("cache movie details failed", zap.Int64("movie_id", id), zap.Error(err))
		}
	}
	return movie, nil
}
