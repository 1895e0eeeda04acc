// Package cache provides the bounded query-result cache: an in-process LRU
// with an optional remote tier shared between processes.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/Aman-CERP/amanrank/internal/search"
)

// DefaultCapacity is the number of ranked lists kept in memory.
const DefaultCapacity = 100

// DefaultRemoteTTL bounds how long remote entries live.
const DefaultRemoteTTL = 10 * time.Minute

// ResultCache is an LRU of ranked result lists keyed by canonical query key.
//
// Values are deep-copied on Put and Get so callers never share an entry.
// A hit promotes the entry to most recently used; a Put on an existing key
// replaces the value and promotes it. Capacity is never exceeded.
type ResultCache struct {
	mu    sync.Mutex
	local *simplelru.LRU[string, []search.FusedResult]

	remote    RemoteStore
	remoteTTL time.Duration
	logger    *slog.Logger
}

var _ search.ResultCache = (*ResultCache)(nil)

// Option configures a ResultCache.
type Option func(*ResultCache)

// WithRemote adds a shared second tier consulted on local misses.
func WithRemote(store RemoteStore, ttl time.Duration) Option {
	return func(c *ResultCache) {
		c.remote = store
		if ttl > 0 {
			c.remoteTTL = ttl
		}
	}
}

// WithLogger sets the logger for remote tier errors.
func WithLogger(l *slog.Logger) Option {
	return func(c *ResultCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a cache. capacity 0 uses DefaultCapacity.
func New(capacity int, opts ...Option) (*ResultCache, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("cache capacity must not be negative, got %d", capacity)
	}
	if capacity == 0 {
		capacity = DefaultCapacity
	}

	local, err := simplelru.NewLRU[string, []search.FusedResult](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	c := &ResultCache{
		local:     local,
		remoteTTL: DefaultRemoteTTL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns a copy of the cached list. Remote errors count as misses.
func (c *ResultCache) Get(ctx context.Context, key string) ([]search.FusedResult, bool) {
	c.mu.Lock()
	v, ok := c.local.Get(key)
	if ok {
		out := search.CloneResults(v)
		c.mu.Unlock()
		return out, true
	}
	c.mu.Unlock()

	if c.remote == nil {
		return nil, false
	}

	data, err := c.remote.Get(ctx, remoteKey(key))
	if err != nil {
		if !errors.Is(err, ErrRemoteMiss) {
			c.logger.Warn("cache_remote_error", slog.String("op", "get"), slog.String("error", err.Error()))
		}
		return nil, false
	}

	var results []search.FusedResult
	if err := json.Unmarshal(data, &results); err != nil {
		c.logger.Warn("cache_remote_error", slog.String("op", "decode"), slog.String("error", err.Error()))
		return nil, false
	}
	if results == nil {
		results = []search.FusedResult{}
	}

	c.mu.Lock()
	c.local.Add(key, search.CloneResults(results))
	c.mu.Unlock()
	return results, true
}

// Put stores a copy of results, evicting the least recently used entry if full.
func (c *ResultCache) Put(ctx context.Context, key string, results []search.FusedResult) {
	stored := search.CloneResults(results)

	c.mu.Lock()
	c.local.Add(key, stored)
	c.mu.Unlock()

	if c.remote == nil {
		return
	}

	data, err := json.Marshal(stored)
	if err != nil {
		c.logger.Warn("cache_remote_error", slog.String("op", "encode"), slog.String("error", err.Error()))
		return
	}
	if err := c.remote.Set(ctx, remoteKey(key), data, c.remoteTTL); err != nil {
		c.logger.Warn("cache_remote_error", slog.String("op", "set"), slog.String("error", err.Error()))
	}
}

// Clear empties both tiers.
func (c *ResultCache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.local.Purge()
	c.mu.Unlock()

	if c.remote == nil {
		return
	}
	if err := c.remote.Flush(ctx); err != nil {
		c.logger.Warn("cache_remote_error", slog.String("op", "flush"), slog.String("error", err.Error()))
	}
}

// Size returns the number of entries in the local tier.
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local.Len()
}

// Keys returns local keys from least to most recently used.
func (c *ResultCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local.Keys()
}

// Close releases the remote tier, if any.
func (c *ResultCache) Close() error {
	if c.remote == nil {
		return nil
	}
	return c.remote.Close()
}

// remoteKey hashes the canonical key so remote keys have bounded length.
func remoteKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
