/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides the Redis adapter shared by the AutoDJ anti-repeat
// state, harbor bans, orchestration locks, and calendar sync bookkeeping.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Reserved key namespaces.
const (
	KeyAutoDJNoRepeatIDs     = "autodj:no-repeat-ids"
	KeyAutoDJNoRepeatArtists = "autodj:no-repeat-artists"
	KeyHarborConfigContext   = "harbor:config-context"
	KeyHarborBanPrefix       = "harbor:ban:" // + user id
	KeyGCalLastSync          = "gcal:last-sync"
	KeyServiceLockPrefix     = "services:init-lock:" // + service name
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// DisableOnError disables caching after a Redis error instead of
	// hammering a dead server.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		DisableOnError: false,
	}
}

// Cache wraps a Redis client with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New creates a cache instance, pinging Redis to verify connectivity.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sublogger := logger.With().Str("component", "cache").Logger()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis unavailable at %s: %w", cfg.RedisAddr, err)
	}
	sublogger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: sublogger,
		config: cfg,
	}, nil
}

// NewFromClient wraps an existing client (tests use this with miniredis).
func NewFromClient(client *redis.Client, logger zerolog.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// GetJSON retrieves a value and unmarshals it into dest. The second return
// is false when the key is absent.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}
	return true, nil
}

// SetJSON stores a value with TTL; ttl <= 0 means no expiry.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}

// TTL returns the remaining lifetime of a key. Absent or persistent keys
// report zero.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	if !c.IsAvailable() {
		return 0, nil
	}

	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		c.handleError(err, "ttl")
		return 0, err
	}
	if ttl < 0 {
		// -2 key missing, -1 no expiry
		return 0, nil
	}
	return ttl, nil
}

// ReplaceList overwrites a Redis list with values and resets its TTL in a
// single pipeline. An empty values slice just deletes the key.
func (c *Cache) ReplaceList(ctx context.Context, key string, values []string, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(values) > 0 {
		args := make([]any, len(values))
		for i, v := range values {
			args[i] = v
		}
		pipe.RPush(ctx, key, args...)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.handleError(err, "replace_list")
		return err
	}
	return nil
}

// GetList returns the full contents of a Redis list, head first. A missing
// key yields a nil slice.
func (c *Cache) GetList(ctx context.Context, key string) ([]string, error) {
	if !c.IsAvailable() {
		return nil, nil
	}

	values, err := c.client.LRange(ctx, key, 0, -1).Result()
	if err != nil && err != redis.Nil {
		c.handleError(err, "lrange")
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

// AcquireLock grabs a named lock via SET NX. It returns false when another
// holder owns the lock.
func (c *Cache) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if !c.IsAvailable() {
		// Without Redis there is nothing to coordinate against; let the
		// caller proceed rather than deadlock single-process setups.
		return true, nil
	}

	ok, err := c.client.SetNX(ctx, name, "1", ttl).Result()
	if err != nil {
		c.handleError(err, "setnx")
		return false, err
	}
	return ok, nil
}

// ReleaseLock releases a named lock.
func (c *Cache) ReleaseLock(ctx context.Context, name string) error {
	return c.Delete(ctx, name)
}
