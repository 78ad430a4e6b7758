// Package cache keeps the latest scoring result of each dossier and the
// analysis counters behind quotas, in memory or in Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// store is the byte-level backend of a Cache. get returns nil on a miss.
type store interface {
	get(ctx context.Context, key string) ([]byte, error)
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	incr(ctx context.Context, key string, window time.Duration) (int64, error)
	ping(ctx context.Context) error
	close() error
}

// Cache implements domain.Cache over a store. Keys are
// <tenant>:latest:<dossier> and <tenant>:analyses:<dossier>.
type Cache struct {
	store store
	kind  string
}

// New creates a cache from configuration: memory, Redis, or a memory LRU
// in front of Redis when two-phase caching is enabled.
func New(cfg domain.CacheConfig) (*Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewMemory(cfg.LocalMaxSize), nil

	case "redis":
		remote, err := newRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return &Cache{store: remote, kind: "redis"}, nil
		}
		localTTL := cfg.LocalTTL
		if localTTL <= 0 {
			localTTL = time.Minute
		}
		return &Cache{
			store: &tiered{local: newLRU(cfg.LocalMaxSize), remote: remote, localTTL: localTTL},
			kind:  "two-phase",
		}, nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// NewMemory creates an in-process cache holding at most maxSize results.
func NewMemory(maxSize int) *Cache {
	return &Cache{store: newLRU(maxSize), kind: "memory"}
}

// Kind names the backend: memory, redis or two-phase.
func (c *Cache) Kind() string {
	return c.kind
}

// LatestResult returns the cached latest result of a dossier, or nil.
func (c *Cache) LatestResult(ctx context.Context, tenantID, dossierID string) (*domain.ScoringResult, error) {
	key, err := makeKey(tenantID, "latest", dossierID)
	if err != nil {
		return nil, err
	}

	data, err := c.store.get(ctx, key)
	if err != nil || data == nil {
		return nil, err
	}

	var result domain.ScoringResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("corrupt cached result for dossier %s: %w", dossierID, err)
	}
	return &result, nil
}

// StoreLatest caches result as the latest of its dossier.
func (c *Cache) StoreLatest(ctx context.Context, tenantID string, result *domain.ScoringResult, ttl time.Duration) error {
	if result == nil {
		return fmt.Errorf("result is required")
	}
	key, err := makeKey(tenantID, "latest", result.DossierID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result %s: %w", result.ID, err)
	}
	return c.store.set(ctx, key, data, ttl)
}

// CountAnalysis adds one analysis of a dossier to the current window.
func (c *Cache) CountAnalysis(ctx context.Context, tenantID, dossierID string, window time.Duration) (int64, error) {
	key, err := makeKey(tenantID, "analyses", dossierID)
	if err != nil {
		return 0, err
	}
	return c.store.incr(ctx, key, window)
}

// Ping checks the backend.
func (c *Cache) Ping(ctx context.Context) error {
	return c.store.ping(ctx)
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.store.close()
}

func makeKey(tenantID, kind, dossierID string) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("tenantID is required")
	}
	if dossierID == "" {
		return "", fmt.Errorf("dossierID is required")
	}
	return tenantID + ":" + kind + ":" + dossierID, nil
}

// tiered reads results through a local LRU before Redis. Counters always
// go to Redis so quotas hold across instances.
type tiered struct {
	local    *lru
	remote   *redisStore
	localTTL time.Duration
}

func (t *tiered) get(ctx context.Context, key string) ([]byte, error) {
	if val, _ := t.local.get(ctx, key); val != nil {
		return val, nil
	}

	val, err := t.remote.get(ctx, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = t.local.set(ctx, key, val, t.localTTL)
	return val, nil
}

func (t *tiered) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.remote.set(ctx, key, value, ttl); err != nil {
		return err
	}
	return t.local.set(ctx, key, value, min(ttl, t.localTTL))
}

func (t *tiered) incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	return t.remote.incr(ctx, key, window)
}

func (t *tiered) ping(ctx context.Context) error {
	if err := t.remote.ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (t *tiered) close() error {
	_ = t.local.close()
	return t.remote.close()
}
