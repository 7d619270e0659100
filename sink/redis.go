package sink

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"i4.energy/across/smsrx/modem"
)

// lister is the part of redis.Cmdable the sink uses.
type lister interface {
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
}

// Redis appends the JSON Envelope of every message to a list. When Max
// is positive the list is trimmed to the newest Max entries.
type Redis struct {
	client lister
	key    string
	max    int64
}

// NewRedis connects to the server at addr, e.g. "localhost:6379".
func NewRedis(addr, key string, max int64) *Redis {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &Redis{client: client, key: key, max: max}
}

func (r *Redis) Deliver(ctx context.Context, msg *modem.Message) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}
	if err := r.client.RPush(ctx, r.key, body).Err(); err != nil {
		return fmt.Errorf("redis: rpush %s: %w", r.key, err)
	}
	if r.max > 0 {
		if err := r.client.LTrim(ctx, r.key, -r.max, -1).Err(); err != nil {
			return fmt.Errorf("redis: ltrim %s: %w", r.key, err)
		}
	}
	return nil
}

func (r *Redis) Close() error {
	if c, ok := r.client.(*redis.Client); ok {
		return c.Close()
	}
	return nil
}
