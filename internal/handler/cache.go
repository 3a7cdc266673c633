// Package handler provides task handlers and runners for embedding
// applications: an HTTP transport and an optional result cache.
package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/coordinator"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
)

// Cache stores handler results by content key
type Cache interface {
	Get(ctx context.Context, key string) (*coordinator.Result, bool, error)
	Set(ctx context.Context, key string, res *coordinator.Result, ttl time.Duration) error
}

// NopCache never hits
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*coordinator.Result, bool, error) {
	return nil, false, nil
}

func (NopCache) Set(context.Context, string, *coordinator.Result, time.Duration) error {
	return nil
}

// RedisCache keeps results as JSON strings with a TTL
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a cache under keys "<prefix>:<key>"
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "result-cache"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*coordinator.Result, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+":"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache: %w", err)
	}
	var res coordinator.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached result: %w", err)
	}
	return &res, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, res *coordinator.Result, ttl time.Duration) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+":"+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// Key derives the cache key of a payload for an agent type
func Key(agentType string, payload json.RawMessage) string {
	sum := sha256.Sum256(payload)
	return agentType + ":" + hex.EncodeToString(sum[:])
}

type cached struct {
	next   coordinator.Handler
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// Cached wraps h so identical payloads for the same agent type are served
// from cache. Cache failures are logged and fall through to h. Hits report
// no cost.
func Cached(h coordinator.Handler, cache Cache, ttl time.Duration, logger *zap.Logger) coordinator.Handler {
	return &cached{next: h, cache: cache, ttl: ttl, logger: logger.Named("result-cache")}
}

func (c *cached) Handle(ctx context.Context, agent *model.AgentInstance, payload json.RawMessage) (*coordinator.Result, error) {
	key := Key(agent.Type, payload)

	res, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.logger.Warn("Cache lookup failed", zap.String("agent_type", agent.Type), zap.Error(err))
	case ok:
		c.logger.Debug("Cache hit", zap.String("agent_type", agent.Type), zap.String("key", key))
		hit := *res
		hit.Cost = 0
		return &hit, nil
	}

	res, err = c.next.Handle(ctx, agent, payload)
	if err != nil {
		return nil, err
	}
	if res != nil {
		if err := c.cache.Set(ctx, key, res, c.ttl); err != nil {
			c.logger.Warn("Cache store failed", zap.String("agent_type", agent.Type), zap.Error(err))
		}
	}
	return res, nil
}
