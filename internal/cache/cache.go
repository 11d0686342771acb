// Package cache implements the two-level translation cache: a bounded
// in-memory L1 in front of an optional durable L2 store. L1 is a true LRU:
// any access, hit or insert, moves the entry to most-recently-used, and the
// least-recently-used entry is evicted when full. Keys are trimmed of
// surrounding whitespace so variant preparations of the same text share one
// entry. The cache never stores identity entries; a lookup that would hand
// back the source text unchanged is worse than a miss.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fcs7/translate-php-tool/internal/domain"
)

// Level identifies where a lookup was satisfied.
type Level string

const (
	LevelL1   Level = "l1"
	LevelL2   Level = "l2"
	LevelMiss Level = "miss"
)

// Store is the durable L2 backend. A nil Store degrades the cache to
// memory-only without any behavioral change.
type Store interface {
	// Get returns the cached translation and bumps its hit count.
	Get(ctx context.Context, source string) (string, bool, error)

	// Put upserts a translation.
	Put(ctx context.Context, source, translated string) error

	// TopEntries returns up to limit entries ordered by hit count descending,
	// for warming L1 at startup.
	TopEntries(ctx context.Context, limit int) (map[string]string, error)
}

type entry struct {
	source     string
	translated string
}

// Cache is the two-level translation cache. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	maxSize int

	store Store
	log   *slog.Logger

	lookups atomic.Int64
	hitsL1  atomic.Int64
	hitsL2  atomic.Int64
	misses  atomic.Int64
}

// New creates a cache with the given L1 capacity. store may be nil.
func New(maxSize int, store Store, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		entries: make(map[string]*list.Element, maxSize),
		order:   list.New(),
		maxSize: maxSize,
		store:   store,
		log:     log,
	}
}

// WarmUp preloads L1 with the most-used L2 entries. Best effort; a failing
// store only logs.
func (c *Cache) WarmUp(ctx context.Context) int {
	if c.store == nil {
		return 0
	}
	top, err := c.store.TopEntries(ctx, c.maxSize)
	if err != nil {
		c.log.Warn("cache warm-up failed", "error", err)
		return 0
	}
	for source, translated := range top {
		c.putL1(source, translated)
	}
	return len(top)
}

// Lookup checks L1 then L2. An L1 hit moves the entry to most-recently-used;
// an L2 hit is promoted into L1. The returned level tells the caller where
// the answer came from.
func (c *Cache) Lookup(ctx context.Context, source string) (string, Level) {
	source = strings.TrimSpace(source)
	c.lookups.Add(1)

	c.mu.Lock()
	if el, ok := c.entries[source]; ok {
		translated := el.Value.(*entry).translated
		c.order.MoveToBack(el)
		c.mu.Unlock()
		c.hitsL1.Add(1)
		return translated, LevelL1
	}
	c.mu.Unlock()

	if c.store != nil {
		translated, found, err := c.store.Get(ctx, source)
		if err != nil {
			c.log.Warn("cache L2 lookup failed", "error", err)
		} else if found && !identityEntry(source, translated) {
			c.hitsL2.Add(1)
			c.putL1(source, translated)
			return translated, LevelL2
		}
	}

	c.misses.Add(1)
	return "", LevelMiss
}

// Store records a translation in L1 and, when persist is set, in L2.
// Identity entries are silently dropped.
func (c *Cache) Store(ctx context.Context, source, translated string, persist bool) {
	source = strings.TrimSpace(source)
	if identityEntry(source, translated) {
		return
	}
	c.putL1(source, translated)

	if persist && c.store != nil {
		if err := c.store.Put(ctx, source, translated); err != nil {
			c.log.Warn("cache L2 store failed", "error", err)
		}
	}
}

// putL1 inserts or refreshes an entry, evicting the oldest when full.
func (c *Cache) putL1(source, translated string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[source]; ok {
		el.Value.(*entry).translated = translated
		c.order.MoveToBack(el)
		return
	}
	for c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).source)
	}
	c.entries[source] = c.order.PushBack(&entry{source: source, translated: translated})
}

// Len returns the current L1 size.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a counters snapshot.
func (c *Cache) Stats() domain.CacheStats {
	lookups := c.lookups.Load()
	h1 := c.hitsL1.Load()
	h2 := c.hitsL2.Load()

	denom := lookups
	if denom == 0 {
		denom = 1
	}
	return domain.CacheStats{
		TotalLookups: lookups,
		HitsL1:       h1,
		HitsL2:       h2,
		Misses:       c.misses.Load(),
		HitRateL1:    fmt.Sprintf("%.1f%%", float64(h1)/float64(denom)*100),
		HitRateTotal: fmt.Sprintf("%.1f%%", float64(h1+h2)/float64(denom)*100),
		L1Size:       c.Len(),
		L1Max:        c.maxSize,
	}
}

// identityEntry reports whether the translation is a trim+lowercase match of
// its source.
func identityEntry(source, translated string) bool {
	return translated == "" ||
		strings.EqualFold(strings.TrimSpace(source), strings.TrimSpace(translated))
}
