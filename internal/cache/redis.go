// Package cache はRedisを使ったキャッシュを提供する。
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache はRedisをバックエンドとするバイト列キャッシュ。
// calil.ResultCache を満たす。
type RedisCache struct {
	client *redis.Client
}

// Options はRedis接続のパラメータ。
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache はRedisクライアントを生成し、疎通を確認する。
func NewRedisCache(ctx context.Context, opts Options) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redisへの接続確認に失敗しました: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get はキーに対応する値を返す。キーが存在しない場合はfalseを返す。
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("キャッシュの取得に失敗しました: %w", err)
	}
	return data, true, nil
}

// Set は値をTTL付きで保存する。
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュの保存に失敗しました: %w", err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close は接続を閉じる。
func (c *RedisCache) Close() error {
	return c.client.Close()
}
