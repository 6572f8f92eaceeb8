// Package cache memoizes expensive spatial query results with TTL and LRU
// eviction. Expired entries are purged lazily on the read that discovers
// them and periodically by a background janitor.
package cache

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/maptalk/maptalk/internal/observability"
)

type Config struct {
	DefaultTTL      time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
}

type entry struct {
	value      interface{}
	createdAt  time.Time
	ttl        time.Duration
	hits       int64
	lastAccess time.Time
}

type Stats struct {
	Size       int       `json:"size"`
	HitRate    float64   `json:"hitRate"`
	AvgHits    float64   `json:"avgHits"`
	Oldest     time.Time `json:"oldest"`
	Newest     time.Time `json:"newest"`
	TotalHits  int64     `json:"totalHits"`
	TotalGets  int64     `json:"totalGets"`
}

type Cache struct {
	mu        sync.Mutex
	lru       *lru.Cache[string, *entry]
	cfg       Config
	totalGets int64
	totalHits int64
	now       func() time.Time
	stop      chan struct{}
	stopOnce  sync.Once
	logger    *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100
	}
	// the LRU container auto-evicts least-recently-accessed entries once
	// MaxEntries is reached
	l, _ := lru.New[string, *entry](cfg.MaxEntries)
	c := &Cache{
		lru:    l,
		cfg:    cfg,
		now:    time.Now,
		stop:   make(chan struct{}),
		logger: logger,
	}
	if cfg.CleanupInterval > 0 {
		go c.janitor(cfg.CleanupInterval)
	}
	return c
}

// Set stores value under key. ttl <= 0 applies the configured default.
// When the cache is full, expired entries are cleared before the LRU
// container evicts anything still live.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru.Len() >= c.cfg.MaxEntries {
		c.purgeExpiredLocked()
	}
	now := c.now()
	c.lru.Add(key, &entry{value: value, createdAt: now, ttl: ttl, lastAccess: now})
}

// Get returns the cached value, or nil/false when absent or expired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalGets++
	e, ok := c.lru.Get(key)
	if !ok {
		observability.IncCacheMiss()
		return nil, false
	}
	now := c.now()
	if now.Sub(e.createdAt) > e.ttl {
		c.lru.Remove(key)
		observability.IncCacheMiss()
		return nil, false
	}
	e.hits++
	e.lastAccess = now
	c.totalHits++
	observability.IncCacheHit()
	return e.value, true
}

// Clear purges all entries, or only those whose key contains pattern.
func (c *Cache) Clear(pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pattern == "" {
		c.lru.Purge()
		return
	}
	for _, k := range c.lru.Keys() {
		if strings.Contains(k, pattern) {
			c.lru.Remove(k)
		}
	}
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{
		Size:      c.lru.Len(),
		TotalHits: c.totalHits,
		TotalGets: c.totalGets,
	}
	if c.totalGets > 0 {
		st.HitRate = float64(c.totalHits) / float64(c.totalGets)
	}
	var sumHits int64
	for _, k := range c.lru.Keys() {
		e, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		sumHits += e.hits
		if st.Oldest.IsZero() || e.createdAt.Before(st.Oldest) {
			st.Oldest = e.createdAt
		}
		if e.createdAt.After(st.Newest) {
			st.Newest = e.createdAt
		}
	}
	if st.Size > 0 {
		st.AvgHits = float64(sumHits) / float64(st.Size)
	}
	return st
}

func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) janitor(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.mu.Lock()
			removed := c.purgeExpiredLocked()
			c.mu.Unlock()
			if removed > 0 {
				c.logger.Debug("cache janitor", "expired", removed)
			}
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) purgeExpiredLocked() int {
	now := c.now()
	removed := 0
	for _, k := range c.lru.Keys() {
		e, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		if now.Sub(e.createdAt) > e.ttl {
			c.lru.Remove(k)
			removed++
		}
	}
	return removed
}
