/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package watchdog

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Runner is background work that runs until its context ends.
type Runner interface {
	Run(ctx context.Context) error
}

// Election is the part of leadership.Election the wrapper needs.
type Election interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// LeaderAware runs a Runner only while this instance holds leadership.
type LeaderAware struct {
	runner   Runner
	election Election
	logger   zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewLeaderAware creates a leader-aware wrapper around runner.
func NewLeaderAware(runner Runner, election Election, logger zerolog.Logger) *LeaderAware {
	return &LeaderAware{
		runner:   runner,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_watchdog").Logger(),
	}
}

// Start begins the election and follows leadership changes.
func (la *LeaderAware) Start(ctx context.Context) error {
	la.mu.Lock()
	la.ctx = ctx
	la.mu.Unlock()

	la.logger.Info().Msg("starting leader-aware watchdog")
	if err := la.election.Start(ctx); err != nil {
		return err
	}
	go la.monitorLeadership(ctx)
	return nil
}

// Stop halts the runner and releases leadership.
func (la *LeaderAware) Stop() error {
	la.logger.Info().Msg("stopping leader-aware watchdog")
	la.stopRunner()
	return la.election.Stop()
}

// Running reports whether the runner is active on this instance.
func (la *LeaderAware) Running() bool {
	la.mu.Lock()
	defer la.mu.Unlock()
	return la.running
}

func (la *LeaderAware) monitorLeadership(ctx context.Context) {
	if la.election.IsLeader() {
		la.startRunner()
	}

	leaderCh := la.election.LeaderCh()
	for {
		select {
		case <-ctx.Done():
			la.stopRunner()
			return
		case isLeader := <-leaderCh:
			if isLeader {
				la.logger.Info().Msg("became leader, starting watchdog")
				la.startRunner()
			} else {
				la.logger.Warn().Msg("lost leadership, stopping watchdog")
				la.stopRunner()
			}
		}
	}
}

func (la *LeaderAware) startRunner() {
	la.mu.Lock()
	defer la.mu.Unlock()
	if la.running {
		return
	}

	ctx, cancel := context.WithCancel(la.ctx)
	done := make(chan struct{})
	la.cancel = cancel
	la.done = done
	la.running = true

	go func() {
		defer close(done)
		if err := la.runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			la.logger.Error().Err(err).Msg("watchdog error")
		}
	}()
}

// stopRunner cancels the runner and waits for it to return.
func (la *LeaderAware) stopRunner() {
	la.mu.Lock()
	if !la.running {
		la.mu.Unlock()
		return
	}
	cancel, done := la.cancel, la.done
	la.running = false
	la.cancel = nil
	la.mu.Unlock()

	cancel()
	<-done
}
