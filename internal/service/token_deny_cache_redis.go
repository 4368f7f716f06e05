package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisTokenDenyCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisTokenDenyCache(client redis.UniversalClient, prefix string) *RedisTokenDenyCache {
	if prefix == "" {
		prefix = "token_deny_cache"
	}
	return &RedisTokenDenyCache{client: client, prefix: prefix}
}

func (c *RedisTokenDenyCache) Contains(ctx context.Context, token string) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	_, err := c.client.Get(ctx, c.key(token)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisTokenDenyCache) Add(ctx context.Context, token string, ttl time.Duration) error {
	if c.client == nil || ttl <= 0 {
		return nil
	}
	key := c.key(token)
	index := c.indexKey()
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, "1", ttl)
	pipe.SAdd(ctx, index, key)
	pipe.Expire(ctx, index, ttl+time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisTokenDenyCache) Flush(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	index := c.indexKey()
	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := c.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, index)
	_, err = pipe.Exec(ctx)
	return err
}

// Token values are bearer credentials; only their hash touches redis.
func (c *RedisTokenDenyCache) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%s:data:%s", c.prefix, hex.EncodeToString(sum[:]))
}

func (c *RedisTokenDenyCache) indexKey() string {
	return c.prefix + ":index"
}
