package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"martpos/backend/internal/domain"
)

type RedisStockReportCache struct {
	client *redis.Client
}

func NewRedisStockReportCache(addr string, password string, db int) *RedisStockReportCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStockReportCache{client: client}
}

func (c *RedisStockReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStockReportCache) Close() error {
	return c.client.Close()
}

func (c *RedisStockReportCache) Get(ctx context.Context, key string) (*domain.StockReport, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report domain.StockReport
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

func (c *RedisStockReportCache) Set(ctx context.Context, key string, value *domain.StockReport, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
