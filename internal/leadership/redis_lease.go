/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package leadership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// renewScript extends the key's TTL only when ARGV[1] still owns it.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLease stores the holder's instance ID under a key with a TTL.
type RedisLease struct {
	client     redis.UniversalClient
	key        string
	instanceID string
	ttl        time.Duration
}

// NewRedisLease returns a lease on key for instanceID.
func NewRedisLease(client redis.UniversalClient, key, instanceID string, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, key: key, instanceID: instanceID, ttl: ttl}
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim lease: %w", err)
	}
	if ok {
		return true, nil
	}

	renewed, err := renewScript.Run(ctx, l.client, []string{l.key}, l.instanceID, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return renewed == 1, nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.instanceID).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (l *RedisLease) Holder(ctx context.Context) (string, error) {
	id, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get leader: %w", err)
	}
	return id, nil
}
