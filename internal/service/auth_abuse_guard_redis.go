package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisAuthAbuseGuard struct {
	client redis.UniversalClient
	prefix string
	policy AuthAbusePolicy
}

func NewRedisAuthAbuseGuard(client redis.UniversalClient, prefix string, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	if prefix == "" {
		prefix = "auth_abuse_guard"
	}
	return &RedisAuthAbuseGuard{client: client, prefix: prefix, policy: policy}
}

func (g *RedisAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	if g.client == nil {
		return 0, nil
	}
	ttl, err := g.client.PTTL(ctx, g.cooldownKey(scope, identity, ip)).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	if ttl > 0 {
		return ttl, nil
	}
	return 0, nil
}

func (g *RedisAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	if g.client == nil {
		return 0, nil
	}
	failKey := g.failureKey(scope, identity, ip)
	pipe := g.client.TxPipeline()
	incr := pipe.Incr(ctx, failKey)
	pipe.Expire(ctx, failKey, g.policy.ResetWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	cooldown := g.policy.cooldownFor(int(incr.Val()))
	if cooldown <= 0 {
		return 0, nil
	}
	if err := g.client.Set(ctx, g.cooldownKey(scope, identity, ip), "1", cooldown).Err(); err != nil {
		return 0, err
	}
	return cooldown, nil
}

func (g *RedisAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	if g.client == nil {
		return nil
	}
	return g.client.Del(ctx,
		g.failureKey(scope, identity, ip),
		g.cooldownKey(scope, identity, ip),
	).Err()
}

func (g *RedisAuthAbuseGuard) failureKey(scope AuthAbuseScope, identity, ip string) string {
	return fmt.Sprintf("%s:failures:%s:%s", g.prefix, scope, pairHash(identity, ip))
}

func (g *RedisAuthAbuseGuard) cooldownKey(scope AuthAbuseScope, identity, ip string) string {
	return fmt.Sprintf("%s:cooldown:%s:%s", g.prefix, scope, pairHash(identity, ip))
}

func pairHash(identity, ip string) string {
	sum := sha256.Sum256([]byte(identity + "|" + ip))
	return hex.EncodeToString(sum[:16])
}
