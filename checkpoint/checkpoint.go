package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces the checkpoint keys, e.g. "north:last_id:site-a".
const keyPrefix = "north:last_id:"

// Redis stores the id of the last forwarded reading in a Redis (or Valkey) key.
type Redis struct {
	client *redis.Client
	key    string
}

// Connect opens a client to the Redis server at `addr` and checks that it is reachable.
func Connect(ctx context.Context, addr, name string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, name), nil
}

func New(client *redis.Client, name string) *Redis {
	return &Redis{
		client: client,
		key:    keyPrefix + name,
	}
}

// Load returns the saved id, or zero when nothing has been saved yet.
func (r *Redis) Load(ctx context.Context) (uint64, error) {
	value, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", r.key, err)
	}
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s value '%s': %w", r.key, value, err)
	}
	return id, nil
}

// Save stores the id without expiry.
func (r *Redis) Save(ctx context.Context, id uint64) error {
	err := r.client.Set(ctx, r.key, strconv.FormatUint(id, 10), 0).Err()
	if err != nil {
		return fmt.Errorf("set %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) Key() string {
	return r.key
}

func (r *Redis) Close() error {
	return r.client.Close()
}
