// Package lock implements the distributed single-flight lock service (C4):
// every mutating operation is a single Lua script round trip on the broker
// so acquire/extend/release never race against a concurrent caller.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solwallet/orchestrator/internal/broker"
	"github.com/solwallet/orchestrator/internal/interfaces"
	"github.com/solwallet/orchestrator/internal/models"
)

const keyPrefix = "lock:"

// Service implements interfaces.LockService against a broker.Client.
type Service struct {
	client *broker.Client
}

// New constructs a lock Service.
func New(client *broker.Client) *Service {
	return &Service{client: client}
}

func lockKey(resource string) string {
	return keyPrefix + resource
}

// Acquire attempts to take the lock for key, returning true if owner now
// holds it (either newly acquired or already held by owner).
func (s *Service) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	res, err := s.client.EvalScript(ctx, "lock.acquire", s.client.Scripts.LockAcquire,
		[]string{lockKey(key)}, owner, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("lock acquire %s: %w", key, err)
	}
	return toBool(res), nil
}

// Extend refreshes the TTL for key if owner still holds it.
func (s *Service) Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	res, err := s.client.EvalScript(ctx, "lock.extend", s.client.Scripts.LockExtend,
		[]string{lockKey(key)}, owner, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("lock extend %s: %w", key, err)
	}
	return toBool(res), nil
}

// Release drops the lock for key if owner still holds it.
func (s *Service) Release(ctx context.Context, key, owner string) (bool, error) {
	res, err := s.client.EvalScript(ctx, "lock.release", s.client.Scripts.LockRelease,
		[]string{lockKey(key)}, owner)
	if err != nil {
		return false, fmt.Errorf("lock release %s: %w", key, err)
	}
	return toBool(res), nil
}

// Check reports the current holder of key, if any, without mutating it.
func (s *Service) Check(ctx context.Context, key string) (*models.Lock, error) {
	res, err := s.client.Do(ctx, "lock.check", func(ctx context.Context, rdb *redis.Client) (any, error) {
		owner, err := rdb.Get(ctx, lockKey(key)).Result()
		if err == redis.Nil {
			return "", nil
		}
		if err != nil {
			return nil, err
		}
		ttl, err := rdb.PTTL(ctx, lockKey(key)).Result()
		if err != nil {
			return nil, err
		}
		return [2]any{owner, ttl}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("lock check %s: %w", key, err)
	}
	if owner, ok := res.(string); ok && owner == "" {
		return nil, nil
	}
	pair, ok := res.([2]any)
	if !ok {
		return nil, nil
	}
	return &models.Lock{
		Key:   key,
		Owner: pair[0].(string),
		TTL:   pair[1].(time.Duration),
	}, nil
}

// ForceRelease drops the lock for key regardless of owner, used by the
// startup orphan sweep to clear locks left behind by a crashed process.
func (s *Service) ForceRelease(ctx context.Context, key string) error {
	_, err := s.client.Do(ctx, "lock.force-release", func(ctx context.Context, rdb *redis.Client) (any, error) {
		return rdb.Del(ctx, lockKey(key)).Result()
	})
	if err != nil {
		return fmt.Errorf("lock force-release %s: %w", key, err)
	}
	return nil
}

type ownedLock struct {
	key   string
	owner string
}

// Sweep scans every lock:* key and force-releases the ones whose owning job
// (the lock's stored owner, a job id) is absent or terminal, per §4.4's
// orphan-sweep rule and testable property 9. A lock whose owning job is
// still active is left untouched. Run once at startup after broker
// connectivity is established.
//
// This runs in three phases rather than one, so that jobs.Get (which itself
// round-trips through its own circuit breaker) is never invoked from inside
// this service's own breaker-wrapped Do call.
func (s *Service) Sweep(ctx context.Context, jobs interfaces.QueueManager) (int, error) {
	scanned, err := s.client.Do(ctx, "lock.sweep.scan", func(ctx context.Context, rdb *redis.Client) (any, error) {
		var found []ownedLock
		iter := rdb.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			owner, err := rdb.Get(ctx, key).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, err
			}
			found = append(found, ownedLock{key: key, owner: owner})
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return found, nil
	})
	if err != nil {
		return 0, fmt.Errorf("lock sweep scan: %w", err)
	}
	owned, _ := scanned.([]ownedLock)

	var orphaned []string
	for _, ol := range owned {
		job, err := jobs.Get(ctx, ol.owner)
		if err != nil {
			// A lookup failure must never be treated as "orphaned" — that
			// would force-release a lock that may still guard an active job.
			continue
		}
		if job == nil || job.IsTerminal() {
			orphaned = append(orphaned, ol.key)
		}
	}
	if len(orphaned) == 0 {
		return 0, nil
	}

	res, err := s.client.Do(ctx, "lock.sweep.del", func(ctx context.Context, rdb *redis.Client) (any, error) {
		return rdb.Del(ctx, orphaned...).Result()
	})
	if err != nil {
		return 0, fmt.Errorf("lock sweep del: %w", err)
	}
	n, _ := res.(int64)
	return int(n), nil
}

func toBool(res any) bool {
	switch v := res.(type) {
	case int64:
		return v == 1
	case bool:
		return v
	default:
		return false
	}
}
