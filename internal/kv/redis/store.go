// Package redis provides a Redis-backed kv.Store so several stations can share
// one inventory. Stations append through Update, which retries under
// WATCH/MULTI/EXEC until its read-modify-write lands without interference.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/stockscan/internal/kv"
)

var (
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not become ready within the given time period")
)

// DefaultKeyPrefix namespaces stockscan keys inside a shared database.
const DefaultKeyPrefix = "stockscan:"

// Config describes how to reach Redis.
type Config struct {
	URL            string        // "redis://:password@localhost:6379/0"
	KeyPrefix      string        // prepended to every key
	RetryAttempts  int           // connection attempts before giving up
	RetryInterval  time.Duration // pause between attempts
	ConnectTimeout time.Duration // overall deadline for Connect
}

// Connect dials Redis and pings it, retrying RetryAttempts times with
// RetryInterval between attempts, all within ConnectTimeout.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisConnString, err)
	}

	for range cfg.RetryAttempts {
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, ErrRedisNotReady
}

// Store is a kv.Store over a Redis client.
type Store struct {
	db     redis.UniversalClient
	prefix string
}

// New wraps client. An empty prefix means DefaultKeyPrefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{db: client, prefix: prefix}
}

// Open connects using cfg and returns a Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	client, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(client, cfg.KeyPrefix), nil
}

// Get returns false for missing keys (redis.Nil is not an error).
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.db.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, true, nil
}

// Set stores value without expiration.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.db.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// maxUpdateAttempts bounds how often Update retries after another client
// changed the watched key.
const maxUpdateAttempts = 10

// ErrUpdateConflict is returned when Update keeps losing the race for a key.
var ErrUpdateConflict = errors.New("redis: update conflict")

// Update applies fn under WATCH/MULTI/EXEC. When another client writes the
// key between the read and EXEC the transaction is discarded and retried.
func (s *Store) Update(ctx context.Context, key string, fn kv.UpdateFunc) error {
	k := s.prefix + key
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Result()
		ok := true
		if errors.Is(err, redis.Nil) {
			ok = false
		} else if err != nil {
			return err
		}

		next, err := fn(current, ok)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, next, 0)
			return nil
		})
		return err
	}

	for range maxUpdateAttempts {
		err := s.db.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis update %q: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("redis update %q: %w", key, ErrUpdateConflict)
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.db.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// Close terminates the Redis connection.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ kv.Store = (*Store)(nil)
