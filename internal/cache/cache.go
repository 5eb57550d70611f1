// Package cache provides caching for serialized predictions and reference queries.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	PredictionCacheSizeMB int
	PredictionTTL         time.Duration
	QueryCacheSize        int
}

// Manager manages the prediction and query caches. Cached values are immutable
// serialized bytes; callers must not modify returned slices.
type Manager struct {
	predictionCache *bigcache.BigCache
	queryCache      *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.PredictionTTL <= 0 {
		cfg.PredictionTTL = 10 * time.Minute
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 256
	}

	// Configure prediction cache
	predictionCacheConfig := bigcache.Config{
		Shards:             256,
		LifeWindow:         cfg.PredictionTTL,
		CleanWindow:        cfg.PredictionTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       8 * 1024, // 8KB per prediction
		HardMaxCacheSize:   cfg.PredictionCacheSizeMB,
		Verbose:            false,
	}

	predictionCache, err := bigcache.New(context.Background(), predictionCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction cache: %w", err)
	}

	// Create query cache
	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		predictionCache.Close()
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		predictionCache: predictionCache,
		queryCache:      queryCache,
	}, nil
}

// GetPrediction retrieves a serialized prediction from cache.
func (m *Manager) GetPrediction(key string) ([]byte, bool) {
	data, err := m.predictionCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetPrediction stores a serialized prediction in cache.
func (m *Manager) SetPrediction(key string, data []byte) error {
	return m.predictionCache.Set(key, data)
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// PredictionKey generates a cache key for a canonical query string.
func PredictionKey(kind, canonical string) string {
	h := sha256.Sum256([]byte(canonical))
	return kind + ":" + hex.EncodeToString(h[:])[:32]
}

// TissuesKey generates a cache key for a species tissue list.
func TissuesKey(species string) string {
	return "tissues:" + species
}

// SummaryKey generates a cache key for a reference summary.
func SummaryKey(species string, tissues []string) string {
	return PredictionKey("summary:"+species, fmt.Sprint(tissues))
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	stats := m.predictionCache.Stats()
	return map[string]interface{}{
		"prediction_cache_len":    m.predictionCache.Len(),
		"prediction_cache_cap":    m.predictionCache.Capacity(),
		"prediction_cache_hits":   stats.Hits,
		"prediction_cache_misses": stats.Misses,
		"query_cache_len":         m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.predictionCache.Close()
}
