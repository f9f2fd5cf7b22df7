/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache keeps work-center reads in Redis so scheduling requests do
// not hit the database for every capacity lookup.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/shopfloor/internal/models"
)

const (
	DefaultWorkCenterTTL     = 10 * time.Minute
	DefaultWorkCenterListTTL = 5 * time.Minute
	DefaultRetryAfter        = 30 * time.Second
)

// Keys. List keys embed the list generation so one INCR retires every
// department list at once.
const (
	KeyPrefix         = "shopfloor:cache:"
	KeyWorkCenter     = KeyPrefix + "work_center:"     // + work_center_id
	KeyWorkCenterList = KeyPrefix + "work_centers:"    // + generation + ":" + department or "all"
	KeyListGeneration = KeyPrefix + "work_centers:gen" // INCR on every change
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	WorkCenterTTL     time.Duration
	WorkCenterListTTL time.Duration

	// RetryAfter is how long the cache stays bypassed after a Redis error.
	RetryAfter time.Duration
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:         "localhost:6379",
		WorkCenterTTL:     DefaultWorkCenterTTL,
		WorkCenterListTTL: DefaultWorkCenterListTTL,
		RetryAfter:        DefaultRetryAfter,
	}
}

// Cache is a Redis-backed read cache. Every operation degrades to a miss
// when Redis is unavailable.
type Cache struct {
	client redis.UniversalClient
	logger zerolog.Logger
	config Config
	now    func() time.Time

	mu           sync.RWMutex
	disabled     bool
	bypassedTill time.Time
}

// New connects to Redis. An unreachable server yields a disabled cache,
// not an error.
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

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
		return Disabled(cfg, logger), nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")
	return newWithClient(client, cfg, logger), nil
}

func newWithClient(client redis.UniversalClient, cfg Config, logger zerolog.Logger) *Cache {
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = DefaultRetryAfter
	}
	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
		now:    time.Now,
	}
}

// Disabled returns a cache that always misses.
func Disabled(cfg Config, logger zerolog.Logger) *Cache {
	return &Cache{
		logger:   logger.With().Str("component", "cache").Logger(),
		config:   cfg,
		now:      time.Now,
		disabled: true,
	}
}

// Open connects when enabled and returns a disabled cache otherwise.
func Open(enabled bool, cfg Config, logger zerolog.Logger) *Cache {
	if !enabled {
		return Disabled(cfg, logger)
	}
	c, err := New(cfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		return Disabled(cfg, logger)
	}
	return c
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable reports whether reads and writes currently reach Redis.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil && !c.now().Before(c.bypassedTill)
}

// fail bypasses Redis for RetryAfter so a flapping server does not add
// latency to every request.
func (c *Cache) fail(err error, operation string) {
	c.mu.Lock()
	c.bypassedTill = c.now().Add(c.config.RetryAfter)
	c.mu.Unlock()
	c.logger.Warn().Err(err).Str("operation", operation).Dur("retry_after", c.config.RetryAfter).Msg("cache bypassed after Redis error")
}

func (c *Cache) get(ctx context.Context, key string, dest any) bool {
	if !c.IsAvailable() {
		return false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.fail(err, "get")
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		return false
	}
	return true
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.fail(err, "set")
		return err
	}
	return nil
}

// generation returns the current list generation, "0" before the first change.
func (c *Cache) generation(ctx context.Context) (string, bool) {
	gen, err := c.client.Get(ctx, KeyListGeneration).Result()
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	if err != nil {
		c.fail(err, "generation")
		return "", false
	}
	return gen, true
}

// ListKey returns the list cache key for a department filter ("" for all)
// at the given generation.
func ListKey(generation string, dept models.Department) string {
	name := "all"
	if dept != "" {
		name = string(dept)
	}
	return KeyWorkCenterList + generation + ":" + name
}

// GetWorkCenter retrieves a cached work center by ID.
func (c *Cache) GetWorkCenter(ctx context.Context, id string) (*models.WorkCenter, bool) {
	var wc models.WorkCenter
	if !c.get(ctx, KeyWorkCenter+id, &wc) {
		return nil, false
	}
	c.logger.Debug().Str("work_center_id", id).Msg("work center cache hit")
	return &wc, true
}

// SetWorkCenter caches a work center.
func (c *Cache) SetWorkCenter(ctx context.Context, wc *models.WorkCenter) error {
	return c.set(ctx, KeyWorkCenter+wc.ID, wc, c.config.WorkCenterTTL)
}

// GetWorkCenterList retrieves the cached list for a department ("" for all).
// On a miss it returns the generation to pass to SetWorkCenterList, so a list
// loaded before a concurrent change is stored under the retired generation.
func (c *Cache) GetWorkCenterList(ctx context.Context, dept models.Department) ([]models.WorkCenter, string, bool) {
	if !c.IsAvailable() {
		return nil, "", false
	}
	gen, ok := c.generation(ctx)
	if !ok {
		return nil, "", false
	}
	var list []models.WorkCenter
	if !c.get(ctx, ListKey(gen, dept), &list) {
		return nil, gen, false
	}
	return list, gen, true
}

// SetWorkCenterList caches the list for a department under generation gen.
// An empty gen means the generation was unknown and nothing is stored.
func (c *Cache) SetWorkCenterList(ctx context.Context, dept models.Department, gen string, list []models.WorkCenter) error {
	if gen == "" {
		return nil
	}
	return c.set(ctx, ListKey(gen, dept), list, c.config.WorkCenterListTTL)
}

// InvalidateWorkCenter drops a work center and retires every cached list.
// Entries written under an older generation expire through their TTL.
func (c *Cache) InvalidateWorkCenter(ctx context.Context, id string) error {
	if !c.IsAvailable() {
		return nil
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, KeyWorkCenter+id)
		pipe.Incr(ctx, KeyListGeneration)
		return nil
	})
	if err != nil {
		c.fail(err, "invalidate")
		return fmt.Errorf("invalidate work center %s: %w", id, err)
	}
	c.logger.Debug().Str("work_center_id", id).Msg("work center cache invalidated")
	return nil
}
