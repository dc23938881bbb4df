// Package cache implements the tiered quote cache: an in-process map
// fronting a persistent SQLite store, with TTL expiry, byte-budgeted LRU
// eviction, per-payload integrity checking and staleness classification.
package cache

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultMaxBytes = 100 << 20 // 100MB

	// After blowing the byte budget we evict down to this fraction of it,
	// leaving headroom so back-to-back Sets don't thrash the evictor.
	evictionHeadroom = 0.8
)

var ErrPayloadTooLarge = errors.New("cache: payload exceeds byte budget")

// Config wires a Cache. Store may be nil for a memory-only cache (tests).
type Config struct {
	MaxBytes int64
	Store    *Store
	Log      zerolog.Logger
}

// Cache is safe for concurrent use. All mutations run under one mutex;
// cache operations are O(n) at worst over a modestly sized map, and network
// calls never happen under the lock.
type Cache struct {
	maxBytes int64
	store    *Store
	log      zerolog.Logger

	mu         sync.Mutex
	entries    map[string]*Entry
	totalBytes int64

	hits        uint64
	misses      uint64
	evictions   uint64
	corruptions uint64
}

func New(cfg Config) *Cache {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Cache{
		maxBytes: cfg.MaxBytes,
		store:    cfg.Store,
		log:      cfg.Log.With().Str("component", "cache").Logger(),
		entries:  make(map[string]*Entry),
	}
}

// Close releases the persistent tier. The caller is responsible for taking
// a final snapshot before closing.
func (c *Cache) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// Get returns the payload for key when present, intact and unexpired.
// Expired entries are misses but remain resident for GetEvenIfStale until
// the next expiry sweep. Every hit updates the entry's access bookkeeping.
func (c *Cache) Get(key string) ([]byte, Meta, bool) {
	return c.get(key, false)
}

// GetEvenIfStale returns the payload even past its expiry. The returned
// Meta carries the freshness classification, a human-readable age and a
// reliability warning for provenance display.
func (c *Cache) GetEvenIfStale(key string) ([]byte, Meta, bool) {
	return c.get(key, true)
}

func (c *Cache) get(key string, allowStale bool) ([]byte, Meta, bool) {
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[key]
	if e == nil && c.store != nil {
		stored, err := c.store.Get(key)
		if err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("persistent tier read failed")
		} else if stored != nil {
			c.admit(stored)
			e = c.entries[key]
		}
	}
	if e == nil {
		c.misses++
		return nil, Meta{}, false
	}

	if Checksum(e.Payload) != e.Checksum {
		c.corruptions++
		c.deleteLocked(key)
		c.log.Warn().Str("key", key).Msg("checksum mismatch, dropping corrupted entry")
		c.misses++
		return nil, Meta{}, false
	}

	// Expired entries are a miss for fresh readers but must stay resident:
	// a failed upstream walk comes back for them through GetEvenIfStale.
	// Removal is SweepExpired's job.
	if e.Expired(now) && !allowStale {
		c.misses++
		return nil, Meta{}, false
	}

	e.AccessCount++
	e.LastAccessedAt = now
	if c.store != nil {
		if err := c.store.Touch(key, e.AccessCount, now); err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("persistent tier touch failed")
		}
	}
	c.hits++
	return e.Payload, metaFor(e, now), true
}

// Set inserts or overwrites an entry, computing its size and checksum, then
// enforces the byte budget. ttl of zero means no absolute expiry: the entry
// only ever goes stale, never missing. Set guarantees that the live byte
// total is within budget when it returns.
func (c *Cache) Set(key string, payload []byte, ttl time.Duration, category string) error {
	size := int64(len(payload))
	if size > c.maxBytes {
		return ErrPayloadTooLarge
	}

	now := time.Now().UTC()
	e := &Entry{
		Key:            key,
		Payload:        payload,
		CreatedAt:      now,
		LastAccessedAt: now,
		TTLSeconds:     uint32(ttl / time.Second),
		SizeBytes:      uint32(size),
		Category:       category,
		Checksum:       Checksum(payload),
	}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.admit(e)
	if c.store != nil {
		if err := c.store.Put(e); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("persistent tier write failed")
		}
	}
	c.enforceBudgetLocked()
	return nil
}

// admit places an entry in the memory tier, replacing any previous version
// and keeping the byte total current.
func (c *Cache) admit(e *Entry) {
	if old := c.entries[e.Key]; old != nil {
		c.totalBytes -= int64(old.SizeBytes)
	}
	c.entries[e.Key] = e
	c.totalBytes += int64(e.SizeBytes)
}

// deleteLocked removes a key from both tiers.
func (c *Cache) deleteLocked(key string) {
	if e := c.entries[key]; e != nil {
		c.totalBytes -= int64(e.SizeBytes)
		delete(c.entries, key)
	}
	if c.store != nil {
		if err := c.store.Delete(key); err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("persistent tier delete failed")
		}
	}
}

// enforceBudgetLocked evicts least-recently-accessed entries until the byte
// total is at or below the headroom target. Eviction is by bytes, not entry
// count: a single historical series can outweigh hundreds of quotes.
func (c *Cache) enforceBudgetLocked() int {
	if c.totalBytes <= c.maxBytes {
		return 0
	}
	target := int64(float64(c.maxBytes) * evictionHeadroom)

	victims := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		victims = append(victims, e)
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].LastAccessedAt.Before(victims[j].LastAccessedAt)
	})

	evicted := 0
	for _, e := range victims {
		if c.totalBytes <= target {
			break
		}
		c.deleteLocked(e.Key)
		c.evictions++
		evicted++
	}
	if evicted > 0 {
		c.log.Info().Int("evicted", evicted).Int64("total_bytes", c.totalBytes).Msg("evicted entries over byte budget")
	}
	return evicted
}

// EnforceBudget runs the eviction pass outside of Set. The maintenance
// daemon calls it defensively in case of drift.
func (c *Cache) EnforceBudget() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enforceBudgetLocked()
}

// SweepExpired deletes every entry whose absolute expiry has passed,
// regardless of the byte budget, and returns the count removed from the
// memory tier.
func (c *Cache) SweepExpired() int {
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if e.Expired(now) {
			c.totalBytes -= int64(e.SizeBytes)
			delete(c.entries, key)
			removed++
		}
	}
	if c.store != nil {
		if _, err := c.store.DeleteExpired(now); err != nil {
			c.log.Warn().Err(err).Msg("persistent tier expiry sweep failed")
		}
	}
	if removed > 0 {
		c.log.Debug().Int("removed", removed).Msg("swept expired entries")
	}
	return removed
}

// Invalidate deletes entries matching a key substring pattern or an exact
// category, returning the count deleted. Both filters empty deletes
// everything (InvalidateAll).
func (c *Cache) Invalidate(pattern, category string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0
	for key, e := range c.entries {
		if !matches(key, e.Category, pattern, category) {
			continue
		}
		c.totalBytes -= int64(e.SizeBytes)
		delete(c.entries, key)
		deleted++
	}
	if c.store != nil {
		var err error
		switch {
		case pattern == "" && category == "":
			_, err = c.store.DeleteAll()
		case pattern != "":
			_, err = c.store.DeletePattern(pattern)
		default:
			_, err = c.store.DeleteCategory(category)
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("persistent tier invalidation failed")
		}
	}
	c.log.Info().Str("pattern", pattern).Str("category", category).Int("deleted", deleted).Msg("invalidated cache entries")
	return deleted
}

// InvalidateAll drops every entry from both tiers.
func (c *Cache) InvalidateAll() int {
	return c.Invalidate("", "")
}

func matches(key, entryCategory, pattern, category string) bool {
	if pattern == "" && category == "" {
		return true
	}
	if pattern != "" && strings.Contains(key, pattern) {
		return true
	}
	return category != "" && entryCategory == category
}

// CategoryStats is the per-category slice of Stats.
type CategoryStats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Stats is a point-in-time snapshot of cache occupancy and effectiveness.
type Stats struct {
	TotalEntries   int                      `json:"total_entries"`
	TotalBytes     int64                    `json:"total_bytes"`
	PerCategory    map[string]CategoryStats `json:"per_category"`
	AvgAccessCount float64                  `json:"avg_access_count"`
	MaxAccessCount uint64                   `json:"max_access_count"`
	Hits           uint64                   `json:"hits"`
	Misses         uint64                   `json:"misses"`
	Evictions      uint64                   `json:"evictions"`
	Corruptions    uint64                   `json:"corruptions"`
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		TotalEntries: len(c.entries),
		TotalBytes:   c.totalBytes,
		PerCategory:  make(map[string]CategoryStats),
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
		Corruptions:  c.corruptions,
	}
	var totalAccess uint64
	for _, e := range c.entries {
		cs := s.PerCategory[e.Category]
		cs.Entries++
		cs.Bytes += int64(e.SizeBytes)
		s.PerCategory[e.Category] = cs
		totalAccess += e.AccessCount
		if e.AccessCount > s.MaxAccessCount {
			s.MaxAccessCount = e.AccessCount
		}
	}
	if len(c.entries) > 0 {
		s.AvgAccessCount = float64(totalAccess) / float64(len(c.entries))
	}
	return s
}

// Export copies out every live entry, for snapshotting.
func (c *Cache) Export() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	return out
}

// Import admits restored entries, skipping any whose checksum no longer
// matches its payload, and enforces the byte budget afterwards. Returns the
// number admitted.
func (c *Cache) Import(entries []Entry) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	admitted := 0
	for i := range entries {
		e := entries[i]
		if Checksum(e.Payload) != e.Checksum {
			c.corruptions++
			c.log.Warn().Str("key", e.Key).Msg("discarding snapshot entry with bad checksum")
			continue
		}
		c.admit(&e)
		admitted++
	}
	c.enforceBudgetLocked()
	return admitted
}
