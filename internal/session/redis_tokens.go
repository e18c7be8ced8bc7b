package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTokens shares generation tokens between instances with INCR, so an
// upload handled by one instance invalidates completions running on another.
type RedisTokens struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTokens parses redisURL and checks the connection.
func NewRedisTokens(redisURL string) (*RedisTokens, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisTokensWithClient(client), nil
}

// NewRedisTokensWithClient wraps an existing client.
func NewRedisTokensWithClient(client *redis.Client) *RedisTokens {
	return &RedisTokens{client: client, prefix: "plangen:", ttl: 7 * 24 * time.Hour}
}

func (r *RedisTokens) key(scope string) string {
	return r.prefix + scope
}

func (r *RedisTokens) Next(ctx context.Context, scope string) (uint64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, r.key(scope))
	pipe.Expire(ctx, r.key(scope), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr generation: %w", err)
	}
	return uint64(incr.Val()), nil
}

func (r *RedisTokens) Current(ctx context.Context, scope string) (uint64, error) {
	n, err := r.client.Get(ctx, r.key(scope)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get generation: %w", err)
	}
	return n, nil
}

func (r *RedisTokens) Close() error {
	return r.client.Close()
}
