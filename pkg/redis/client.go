// Package redis provides a thin wrapper around go-redis/v9 used to aggregate
// operational counters of parallel tasks into one hash per job.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/config"
)

// Client wraps a go-redis client.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewClient creates a Redis client and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb, ttl: cfg.CounterTTL}, nil
}

// IncrementHash adds every delta to the matching field of the hash at key in
// one pipelined round trip and refreshes the key's TTL.
func (c *Client) IncrementHash(ctx context.Context, key string, deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	pipe := c.rdb.TxPipeline()
	for field, delta := range deltas {
		if delta == 0 {
			continue
		}
		pipe.HIncrBy(ctx, key, field, delta)
	}
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("incrementing hash %s: %w", key, err)
	}
	return nil
}

// ReadHash returns every field of the hash at key as integers.
func (c *Client) ReadHash(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("reading hash %s: %w", key, err)
	}
	out := make(map[string]int64, len(raw))
	for field, v := range raw {
		var n int64
		if _, err := fmt.Sscan(v, &n); err != nil {
			return nil, fmt.Errorf("hash %s field %s: %w", key, field, err)
		}
		out[field] = n
	}
	return out, nil
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping sends a PING to Redis and returns any error.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
