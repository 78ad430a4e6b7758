package domain

import (
	"context"
	"time"
)

// Cache keeps the latest result of each dossier close at hand and counts
// analyses for quotas. It is an accelerator: the repository stays the
// source of truth, and a miss is never an error.
type Cache interface {
	// LatestResult returns the cached latest result of a dossier, or nil.
	LatestResult(ctx context.Context, tenantID, dossierID string) (*ScoringResult, error)

	// StoreLatest caches result as the latest of result.DossierID.
	StoreLatest(ctx context.Context, tenantID string, result *ScoringResult, ttl time.Duration) error

	// CountAnalysis adds one analysis of a dossier to the current window
	// and returns the count so far. A window starts with its first count.
	CountAnalysis(ctx context.Context, tenantID, dossierID string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type string

	LocalMaxSize int
	LocalTTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase puts a local LRU in front of Redis for result reads.
	EnableTwoPhase bool

	// ResultTTL is how long the latest result of a dossier stays cached.
	ResultTTL time.Duration
}
