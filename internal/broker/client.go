// Package broker wraps the Redis connection used as the orchestrator's
// single broker for queues, locks, and the holder-profiles cache, wrapping
// every round trip in a circuit breaker so a broker outage surfaces as a
// classified TransportError instead of hanging callers.
package broker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/solwallet/orchestrator/internal/common"
)

// Client is the shared broker handle passed to the queue manager, lock
// service, and holder-profiles cache.
type Client struct {
	rdb     *redis.Client
	breaker *gobreaker.CircuitBreaker
	logger  *common.Logger
	Scripts *Scripts
}

// New dials Redis at addr/db and wraps it with a circuit breaker tuned to
// trip after five consecutive failures and probe again after 15 seconds.
func New(addr string, db int, logger *common.Logger) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	st := gobreaker.Settings{
		Name:        "redis-broker",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || err == redis.Nil
		},
	}

	return &Client{
		rdb:     rdb,
		breaker: gobreaker.NewCircuitBreaker(st),
		logger:  logger,
		Scripts: NewScripts(),
	}
}

// Raw returns the underlying go-redis client. Calls made through it bypass
// the circuit breaker and the TransportError classification of Do.
func (c *Client) Raw() *redis.Client { return c.rdb }

// Ping verifies connectivity, classifying any failure as a TransportError.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "ping", func() (any, error) {
		return c.rdb.Ping(ctx).Result()
	})
	return err
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// call runs fn through the circuit breaker, translating both a tripped
// breaker and an underlying redis error into a common.TransportError.
// redis.Nil (key/member not found) is passed through unwrapped since it is
// a normal outcome, not a transport failure.
func (c *Client) call(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	res, err := c.breaker.Execute(fn)
	if err != nil {
		if err == redis.Nil {
			return nil, redis.Nil
		}
		return nil, common.NewTransportError(op, err)
	}
	return res, nil
}

// Do runs an arbitrary broker operation through the circuit breaker. Used
// by callers executing Lua scripts so script failures are classified
// consistently with direct commands.
func (c *Client) Do(ctx context.Context, op string, fn func(ctx context.Context, rdb *redis.Client) (any, error)) (any, error) {
	return c.call(ctx, op, func() (any, error) {
		return fn(ctx, c.rdb)
	})
}

// EvalScript runs script through the circuit breaker via go-redis's
// Script.Run, which transparently falls back from EVALSHA to EVAL on a
// NOSCRIPT miss.
func (c *Client) EvalScript(ctx context.Context, op string, script *redis.Script, keys []string, args ...any) (any, error) {
	return c.call(ctx, op, func() (any, error) {
		return script.Run(ctx, c.rdb, keys, args...).Result()
	})
}
