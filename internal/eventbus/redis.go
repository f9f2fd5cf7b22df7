/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/shopfloor/internal/events"
)

// DefaultRedisChannel carries every domain event.
const DefaultRedisChannel = "shopfloor:events"

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		Channel:       DefaultRedisChannel,
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// RedisBridge relays events over a Redis pub/sub channel.
type RedisBridge struct {
	client  *redis.Client
	local   *events.Bus
	nodeID  string
	channel string
	cfg     RedisConfig
	logger  zerolog.Logger

	// Circuit breaker state
	mu        sync.Mutex
	failCount int
	openUntil time.Time
}

// NewRedisBridge connects to Redis. Events keep flowing locally when Redis
// is unreachable; remote publishing resumes once it answers again.
func NewRedisBridge(cfg RedisConfig, local *events.Bus, nodeID string, logger zerolog.Logger) *RedisBridge {
	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisChannel
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	rb := &RedisBridge{
		client:  client,
		local:   local,
		nodeID:  nodeID,
		channel: cfg.Channel,
		cfg:     cfg,
		logger:  logger.With().Str("component", "eventbus").Str("broker", "redis").Logger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		rb.logger.Warn().Err(err).Msg("Redis connection failed, events stay local until it recovers")
		rb.trip()
	} else {
		rb.logger.Info().Str("addr", cfg.Addr).Str("channel", cfg.Channel).Msg("Redis event bridge initialized")
	}
	return rb
}

// Publish delivers locally, then forwards to Redis.
func (rb *RedisBridge) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)

	if !rb.allow() {
		return
	}

	data, err := encode(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to encode event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rb.client.Publish(ctx, rb.channel, data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to Redis")
		rb.handleFailure()
		return
	}
	rb.reset()
}

// Run subscribes to the channel and replays events from other instances
// until ctx is done.
func (rb *RedisBridge) Run(ctx context.Context) error {
	pubsub := rb.client.Subscribe(ctx, rb.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	rb.logger.Debug().Str("channel", rb.channel).Msg("started Redis event receiver")

	for {
		select {
		case <-ctx.Done():
			rb.logger.Debug().Msg("stopping Redis event receiver")
			return nil

		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Msg("Redis channel closed")
				return nil
			}
			env, err := decode([]byte(msg.Payload))
			if err != nil {
				rb.logger.Error().Err(err).Msg("failed to decode Redis event")
				continue
			}
			if deliver(rb.local, rb.nodeID, env) {
				rb.logger.Debug().
					Str("event_type", string(env.EventType)).
					Str("source_node", env.NodeID).
					Msg("delivered remote event")
			}
		}
	}
}

// Close closes the Redis client.
func (rb *RedisBridge) Close() error {
	return rb.client.Close()
}

// allow reports whether the breaker lets traffic through.
func (rb *RedisBridge) allow() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return time.Now().After(rb.openUntil)
}

func (rb *RedisBridge) trip() {
	rb.mu.Lock()
	rb.openUntil = time.Now().Add(rb.cfg.CheckInterval)
	rb.mu.Unlock()
}

// handleFailure implements circuit breaker logic.
func (rb *RedisBridge) handleFailure() {
	rb.mu.Lock()
	rb.failCount++
	tripped := rb.failCount >= rb.cfg.MaxFailures
	if tripped {
		rb.failCount = 0
		rb.openUntil = time.Now().Add(rb.cfg.CheckInterval)
	}
	rb.mu.Unlock()

	if tripped {
		rb.logger.Warn().
			Dur("retry_in", rb.cfg.CheckInterval).
			Msg("Redis failure threshold reached, keeping events local")
	}
}

func (rb *RedisBridge) reset() {
	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}
