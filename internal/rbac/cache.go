package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DecisionCache stores access-check outcomes in Redis under a generation
// counter. Every reconciliation and role mutation bumps the generation, so a
// cached answer can never differ from a fresh one for the current graph;
// TTL only bounds garbage from abandoned generations.
type DecisionCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewDecisionCache constructs a cache. TTL must be positive.
func NewDecisionCache(client *redis.Client, ttl time.Duration) *DecisionCache {
	return &DecisionCache{client: client, prefix: "rolegate:authz", ttl: ttl}
}

// Invalidate bumps the generation, orphaning every cached decision.
func (c *DecisionCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.prefix+":gen").Err()
}

func (c *DecisionCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.prefix+":gen").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *DecisionCache) key(gen int64, caller, route, method string) string {
	return fmt.Sprintf("%s:%d:%s:%s:%s", c.prefix, gen, caller, method, route)
}

func (c *DecisionCache) get(ctx context.Context, key string) (bool, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return false, false
	}
	return val == "1", true
}

func (c *DecisionCache) put(ctx context.Context, key string, allowed bool) error {
	val := "0"
	if allowed {
		val = "1"
	}
	return c.client.Set(ctx, key, val, c.ttl).Err()
}

// CachedEngine layers the decision cache over a plain engine. Concurrent
// identical checks collapse into one store round trip via singleflight, and
// any cache failure degrades to an uncached check rather than an error.
type CachedEngine struct {
	engine AccessEngine
	cache  *DecisionCache
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedEngine wraps an engine with the decision cache.
func NewCachedEngine(engine AccessEngine, cache *DecisionCache, logger *slog.Logger) *CachedEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEngine{engine: engine, cache: cache, logger: logger}
}

// CheckAccess answers from the cache when possible and falls back to the
// wrapped engine otherwise. Denials are cached too: a deny is a routine
// outcome and must cost the same as an allow.
func (e *CachedEngine) CheckAccess(ctx context.Context, callerID, route, method string) (Decision, error) {
	gen, err := e.cache.generation(ctx)
	if err != nil {
		e.logger.Warn("decision cache unavailable", slog.Any("error", err))
		return e.engine.CheckAccess(ctx, callerID, route, method)
	}
	key := e.cache.key(gen, callerID, route, method)
	if allowed, ok := e.cache.get(ctx, key); ok {
		return Decision{Allowed: allowed, Caller: callerID, Route: route, Method: method}, nil
	}

	result, err, _ := e.group.Do(key, func() (any, error) {
		decision, err := e.engine.CheckAccess(ctx, callerID, route, method)
		if err != nil {
			return Decision{}, err
		}
		if err := e.cache.put(ctx, key, decision.Allowed); err != nil {
			e.logger.Warn("decision cache write", slog.Any("error", err))
		}
		return decision, nil
	})
	if err != nil {
		return Decision{}, err
	}
	return result.(Decision), nil
}

// Invalidate exposes cache invalidation to the mutation paths.
func (e *CachedEngine) Invalidate(ctx context.Context) {
	if err := e.cache.Invalidate(ctx); err != nil {
		e.logger.Warn("decision cache invalidate", slog.Any("error", err))
	}
}
