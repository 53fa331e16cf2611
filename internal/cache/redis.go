// Package cache holds the Redis-backed shared state of the bot: daily XP
// counters that survive restarts and are shared between bot processes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	// Addr is the Redis server address in "host:port" format.
	Addr string

	// Password is the Redis authentication password (empty if no auth).
	Password string

	// DB is the Redis database number.
	DB int

	// PoolSize is the maximum number of socket connections.
	PoolSize int

	// MaxRetries is the maximum number of retries before giving up.
	MaxRetries int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// ErrConnection is returned when Redis cannot be reached.
var ErrConnection = errors.New("cache: connection failed")

// PrefixDaily namespaces daily XP counters.
const PrefixDaily = "voicexp:daily:"

// NewClient connects to Redis and verifies the connection.
func NewClient(cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return client, nil
}

// RedisDailyLimiter keeps per-user daily XP counters in Redis. Counters
// expire at the next local midnight.
type RedisDailyLimiter struct {
	client redis.Cmdable
	loc    *time.Location
}

// NewRedisDailyLimiter creates a limiter whose days start at midnight in loc.
func NewRedisDailyLimiter(client redis.Cmdable, loc *time.Location) *RedisDailyLimiter {
	if loc == nil {
		loc = time.UTC
	}
	return &RedisDailyLimiter{client: client, loc: loc}
}

// DailyKey returns the counter key of a user on the local day of now.
func DailyKey(guildID, userID string, now time.Time, loc *time.Location) string {
	return PrefixDaily + guildID + ":" + userID + ":" + now.In(loc).Format("2006-01-02")
}

// NextMidnight returns the first instant of the local day after now.
func NextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// Reserve claims up to amount XP from the user's allowance for today. The
// counter is incremented first; any overflow past limit is handed back so
// concurrent reservations never grant more than limit in total.
func (l *RedisDailyLimiter) Reserve(ctx context.Context, guildID, userID string, amount, limit int, now time.Time) (int, error) {
	if amount <= 0 {
		return 0, nil
	}
	if limit <= 0 {
		return amount, nil
	}

	key := DailyKey(guildID, userID, now, l.loc)

	pipe := l.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, int64(amount))
	pipe.ExpireAt(ctx, key, NextMidnight(now, l.loc))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to reserve daily xp: %w", err)
	}

	total := incr.Val()
	overflow := total - int64(limit)
	if overflow <= 0 {
		return amount, nil
	}

	refund := min(overflow, int64(amount))
	if err := l.client.DecrBy(ctx, key, refund).Err(); err != nil {
		return 0, fmt.Errorf("failed to release daily xp: %w", err)
	}
	return amount - int(refund), nil
}

// Used returns how much XP the user has been granted today.
func (l *RedisDailyLimiter) Used(ctx context.Context, guildID, userID string, now time.Time) (int, error) {
	n, err := l.client.Get(ctx, DailyKey(guildID, userID, now, l.loc)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read daily xp: %w", err)
	}
	return n, nil
}
