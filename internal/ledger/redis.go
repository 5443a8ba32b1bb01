package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding one field per service.
const DefaultRedisKey = "spokevisor:pids"

// Redis keeps the ledger in a single redis hash so several supervisors on
// one host can share a redis without stepping on each other's keys.
type Redis struct {
	client *redis.Client
	hash   string
}

// NewRedis wraps client. An empty hash selects DefaultRedisKey.
func NewRedis(client *redis.Client, hash string) *Redis {
	if hash == "" {
		hash = DefaultRedisKey
	}
	return &Redis{client: client, hash: hash}
}

// DialRedis parses a redis:// URL, connects and pings.
func DialRedis(ctx context.Context, url, hash string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unavailable at %s: %w", opts.Addr, err)
	}
	return NewRedis(client, hash), nil
}

func (r *Redis) Save(ctx context.Context, key string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}
	if err := r.client.HSet(ctx, r.hash, key, data).Err(); err != nil {
		return fmt.Errorf("failed to save ledger entry: %w", err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.HDel(ctx, r.hash, key).Err(); err != nil {
		return fmt.Errorf("failed to remove ledger entry: %w", err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context) (map[string]Entry, error) {
	all, err := r.client.HGetAll(ctx, r.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	out := make(map[string]Entry, len(all))
	for k, v := range all {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			// skip entries that cannot be parsed
			continue
		}
		out[k] = e
	}
	return out, nil
}

// Close releases the redis client.
func (r *Redis) Close() error { return r.client.Close() }
