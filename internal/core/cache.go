// Package core defines the ports between the scan job services and their adapters.
package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CacheRepository defines the interface for caching operations.
// The core defines the interface and the data layer provides the Redis implementation.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

const (
	idempotencyKeyPrefix = "scanjob:idem:"
	consoleLogKeyPrefix  = "scanjob:log:"
)

// ScanJobCacheConfig holds TTLs for scan job cache entries.
type ScanJobCacheConfig struct {
	LogTTL         time.Duration `json:"log_ttl"`
	IdempotencyTTL time.Duration `json:"idempotency_ttl"`
}

// DefaultScanJobCacheConfig returns a ScanJobCacheConfig with sensible defaults.
func DefaultScanJobCacheConfig() ScanJobCacheConfig {
	return ScanJobCacheConfig{
		LogTTL:         10 * time.Minute,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// ScanJobCacheService stores idempotency reservations and console logs of finished scans.
// A nil *ScanJobCacheService is valid and behaves as an always-empty cache.
type ScanJobCacheService struct {
	cache CacheRepository
	cfg   ScanJobCacheConfig
}

// NewScanJobCacheService creates a new ScanJobCacheService. Zero TTLs fall back to defaults.
func NewScanJobCacheService(cache CacheRepository, cfg ScanJobCacheConfig) *ScanJobCacheService {
	def := DefaultScanJobCacheConfig()
	if cfg.LogTTL <= 0 {
		cfg.LogTTL = def.LogTTL
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = def.IdempotencyTTL
	}
	return &ScanJobCacheService{cache: cache, cfg: cfg}
}

// Enabled reports whether a backing cache is configured.
func (s *ScanJobCacheService) Enabled() bool {
	return s != nil && s.cache != nil
}

// ReserveIdempotencyKey binds key to jobID unless the key is already bound.
// It returns reserved=true when the binding was created, otherwise the previously bound job id.
func (s *ScanJobCacheService) ReserveIdempotencyKey(
	ctx context.Context,
	key, jobID string,
) (existingJobID string, reserved bool, err error) {
	if !s.Enabled() || strings.TrimSpace(key) == "" {
		return "", true, nil
	}

	cacheKey := idempotencyKeyPrefix + key
	// Two attempts: the existing binding can expire between SET NX and GET.
	for range 2 {
		ok, setErr := s.cache.SetIfNotExists(ctx, cacheKey, []byte(jobID), s.cfg.IdempotencyTTL)
		if setErr != nil {
			return "", false, fmt.Errorf("reserve idempotency key: %w", setErr)
		}
		if ok {
			return "", true, nil
		}

		val, getErr := s.cache.Get(ctx, cacheKey)
		if getErr != nil {
			return "", false, fmt.Errorf("read idempotency key: %w", getErr)
		}
		if len(val) > 0 {
			return string(val), false, nil
		}
	}
	return "", false, fmt.Errorf("reserve idempotency key %q: binding vanished", key)
}

// ReleaseIdempotencyKey drops a reservation so the client can retry with the same key.
func (s *ScanJobCacheService) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	if !s.Enabled() || strings.TrimSpace(key) == "" {
		return nil
	}
	_, err := s.cache.Delete(ctx, idempotencyKeyPrefix+key)
	return err
}

// CachedConsoleLog returns the cached console log for a job, or nil when absent.
func (s *ScanJobCacheService) CachedConsoleLog(ctx context.Context, jobID string) ([]byte, error) {
	if !s.Enabled() || jobID == "" {
		return nil, nil
	}
	return s.cache.Get(ctx, consoleLogKeyPrefix+jobID)
}

// StoreConsoleLog caches the console log of a finished job.
func (s *ScanJobCacheService) StoreConsoleLog(ctx context.Context, jobID, log string) error {
	if !s.Enabled() || jobID == "" {
		return nil
	}
	return s.cache.Set(ctx, consoleLogKeyPrefix+jobID, []byte(log), s.cfg.LogTTL)
}
