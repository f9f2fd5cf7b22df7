/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership elects one instance to run singleton background work.
package leadership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/shopfloor/internal/telemetry"
)

const (
	defaultElectionKey   = "shopfloor:leader:watchdog"
	defaultLeaseDuration = 15 * time.Second
	defaultRetryInterval = 2 * time.Second
	releaseTimeout       = 5 * time.Second
)

// Lease is a renewable, exclusive claim held by one instance at a time.
type Lease interface {
	// Acquire takes or renews the claim and reports whether it is held.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the claim up if it is still held.
	Release(ctx context.Context) error
	// Holder returns the instance currently holding the claim, or "".
	Holder(ctx context.Context) (string, error)
}

// ElectionConfig configures leader election behavior.
type ElectionConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ElectionKey is the Redis key holding the current leader's instance ID.
	ElectionKey string

	// LeaseDuration is how long a claim survives without renewal.
	LeaseDuration time.Duration

	// RetryInterval is how often the claim is renewed or retried. It must
	// stay well below LeaseDuration.
	RetryInterval time.Duration

	InstanceID string
}

// DefaultConfig returns default election configuration.
func DefaultConfig() ElectionConfig {
	return ElectionConfig{
		RedisAddr:     "localhost:6379",
		ElectionKey:   defaultElectionKey,
		LeaseDuration: defaultLeaseDuration,
		RetryInterval: defaultRetryInterval,
		InstanceID:    uuid.NewString(),
	}
}

func (c *ElectionConfig) applyDefaults() {
	if c.ElectionKey == "" {
		c.ElectionKey = defaultElectionKey
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = defaultLeaseDuration
	}
	if c.RetryInterval <= 0 || c.RetryInterval >= c.LeaseDuration {
		c.RetryInterval = c.LeaseDuration / 3
	}
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}
}

// Election campaigns for a Lease and reports leadership changes.
type Election struct {
	lease      Lease
	closer     func() error
	logger     zerolog.Logger
	instanceID string
	retry      time.Duration

	mu       sync.RWMutex
	isLeader bool
	cancel   context.CancelFunc
	done     chan struct{}
	leaderCh chan bool
}

// NewElection connects to Redis and prepares an election on cfg.ElectionKey.
func NewElection(cfg ElectionConfig, logger zerolog.Logger) (*Election, error) {
	cfg.applyDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info().
		Str("redis_addr", cfg.RedisAddr).
		Str("instance_id", cfg.InstanceID).
		Msg("connected to Redis for leader election")

	lease := NewRedisLease(client, cfg.ElectionKey, cfg.InstanceID, cfg.LeaseDuration)
	e := NewElectionWithLease(lease, cfg.InstanceID, cfg.RetryInterval, logger)
	e.closer = client.Close
	return e, nil
}

// NewElectionWithLease builds an election over an existing lease.
func NewElectionWithLease(lease Lease, instanceID string, retry time.Duration, logger zerolog.Logger) *Election {
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	return &Election{
		lease:      lease,
		logger:     logger.With().Str("component", "leader_election").Str("instance_id", instanceID).Logger(),
		instanceID: instanceID,
		retry:      retry,
		leaderCh:   make(chan bool, 1),
	}
}

// Start campaigns in the background until ctx ends or Stop is called. The
// first attempt happens immediately.
func (e *Election) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return fmt.Errorf("election already started")
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	e.logger.Info().Dur("retry_interval", e.retry).Msg("starting leader election")
	go e.campaign(ctx)
	return nil
}

// Stop ends the campaign and releases the lease if held.
func (e *Election) Stop() error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if e.IsLeader() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := e.lease.Release(ctx); err != nil {
			e.logger.Error().Err(err).Msg("failed to release leadership")
		} else {
			e.logger.Info().Msg("released leadership")
		}
		e.setLeader(false)
	}

	if e.closer != nil {
		return e.closer()
	}
	return nil
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Election) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// LeaderCh delivers leadership changes. Slow readers only miss
// intermediate values; IsLeader is always current.
func (e *Election) LeaderCh() <-chan bool {
	return e.leaderCh
}

// GetLeader returns the instance ID of the current leader, or "".
func (e *Election) GetLeader(ctx context.Context) (string, error) {
	return e.lease.Holder(ctx)
}

func (e *Election) campaign(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.retry)
	defer ticker.Stop()

	for {
		e.attempt(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Election) attempt(ctx context.Context) {
	held, err := e.lease.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Without a confirmed renewal another instance may take over
		// once the lease lapses.
		e.logger.Error().Err(err).Msg("leadership attempt failed")
		held = false
	}

	switch wasLeader := e.IsLeader(); {
	case held && !wasLeader:
		e.logger.Info().Msg("acquired leadership")
	case !held && wasLeader:
		e.logger.Warn().Msg("lost leadership")
	}
	e.setLeader(held)
}

func (e *Election) setLeader(leader bool) {
	e.mu.Lock()
	if e.isLeader == leader {
		e.mu.Unlock()
		return
	}
	e.isLeader = leader
	e.mu.Unlock()

	change := "lost"
	status := 0.0
	if leader {
		change = "acquired"
		status = 1
	}
	telemetry.LeaderElectionStatus.WithLabelValues(e.instanceID).Set(status)
	telemetry.LeaderElectionChanges.WithLabelValues(e.instanceID, change).Inc()

	// Keep only the latest state in the buffer.
	select {
	case <-e.leaderCh:
	default:
	}
	select {
	case e.leaderCh <- leader:
	default:
	}
}
