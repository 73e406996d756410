package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/athebyme/catalog-feed-service/internal/ports"
	"github.com/athebyme/catalog-feed-service/internal/utils"
	"github.com/go-redis/redis/v8"
)

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(ctx context.Context, host string, port int, password string, db int) (ports.CachePort, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheWithClient создает кэш поверх готового клиента
func NewRedisCacheWithClient(client *redis.Client) ports.CachePort {
	return &RedisCache{client: client}
}

func (r *RedisCache) buildKey(key, channelToken string) string {
	if channelToken != "" {
		return fmt.Sprintf("channel:%s:%s", channelToken, key)
	}
	return key
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, utils.ErrCacheMiss
		}
		return nil, err
	}
	return val, nil
}

func (r *RedisCache) GetWithChannel(ctx context.Context, key string, channelToken string) ([]byte, error) {
	return r.Get(ctx, r.buildKey(key, channelToken))
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

func (r *RedisCache) SetWithChannel(ctx context.Context, key string, value []byte, channelToken string, expiration time.Duration) error {
	return r.Set(ctx, r.buildKey(key, channelToken), value, expiration)
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisCache) DeleteWithChannel(ctx context.Context, key string, channelToken string) error {
	return r.Delete(ctx, r.buildKey(key, channelToken))
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
