package redisclient

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	redisdb *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

func New(cfg Config) *Client {
	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	return &Client{redisdb: redisdb}
}

// Ping checks redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.redisdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.redisdb.Close()
}

// Limiter is a fixed-window counter shared across instances, used to
// throttle the login endpoints.
type Limiter struct {
	client *Client
	limit  int64
	window time.Duration
	prefix string
}

func (c *Client) NewLimiter(prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{
		client: c,
		limit:  int64(limit),
		window: window,
		prefix: prefix,
	}
}

func (l *Limiter) Allow(ctx context.Context, key string) (time.Duration, bool, error) {
	rkey := l.prefix + ":" + key

	count, err := l.client.redisdb.Incr(ctx, rkey).Result()
	if err != nil {
		return 0, false, err
	}

	// first hit opens the window
	if count == 1 {
		if err := l.client.redisdb.Expire(ctx, rkey, l.window).Err(); err != nil {
			return 0, false, err
		}
	}

	if count > l.limit {
		ttl, err := l.client.redisdb.TTL(ctx, rkey).Result()
		if err != nil || ttl < 0 {
			ttl = l.window
		}
		return ttl, false, nil
	}

	return 0, true, nil
}
