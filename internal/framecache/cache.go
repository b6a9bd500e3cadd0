// Package framecache keeps rendered frames under a byte budget.
package framecache

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ivlev/timeline/internal/quality"
	"github.com/ivlev/timeline/internal/timebase"
)

const DefaultBudget = 256 << 20

type Key struct {
	Composition uuid.UUID
	Time        timebase.Tick
	Tier        quality.Tier
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%d/%s", k.Composition, k.Time, k.Tier)
}

type Options struct {
	// Budget is the byte limit. Zero means DefaultBudget.
	Budget int64
	// ProxyGrace is added to the last access time of frames below
	// High tier, so proxies outlive full frames of the same age.
	ProxyGrace time.Duration
	Clock      func() time.Time
	Logger     *slog.Logger
}

type Stats struct {
	Entries   int
	Bytes     int64
	Budget    int64
	Hits      int64
	Misses    int64
	Evictions int64
	Rejected  int64
}

type entry struct {
	key   Key
	frame *Frame
	size  int64
	last  time.Time
}

type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	gens    map[uuid.UUID]uint64
	bytes   int64
	stats   Stats

	budget int64
	grace  time.Duration
	now    func() time.Time
	log    *slog.Logger
}

func New(opts Options) *Cache {
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{
		entries: make(map[Key]*entry),
		gens:    make(map[uuid.UUID]uint64),
		budget:  opts.Budget,
		grace:   opts.ProxyGrace,
		now:     opts.Clock,
		log:     opts.Logger.With("component", "framecache"),
	}
}

// Get returns a retained frame. The caller must Release it.
func (c *Cache) Get(k Key) (*Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	e.last = c.now()
	return e.frame.Retain(), true
}

// Contains reports presence without touching recency or counters.
func (c *Cache) Contains(k Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[k]
	return ok
}

// Generation is the current edit generation of a composition. Renders
// capture it before starting and pass it to Store.
func (c *Cache) Generation(id uuid.UUID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[id]
}

// Store inserts f under k if gen is still current and f fits the budget.
// The cache takes its own reference; the caller keeps theirs.
func (c *Cache) Store(k Key, gen uint64, f *Frame) bool {
	size := f.Bytes()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[k.Composition] != gen {
		c.stats.Rejected++
		c.log.Debug("stale frame rejected", "key", k, "gen", gen, "current", c.gens[k.Composition])
		return false
	}
	if size > c.budget {
		c.stats.Rejected++
		c.log.Debug("frame over budget", "key", k, "bytes", size, "budget", c.budget)
		return false
	}
	if old, ok := c.entries[k]; ok {
		c.drop(old)
	}
	c.evict(c.budget - size)

	c.entries[k] = &entry{key: k, frame: f.Retain(), size: size, last: c.now()}
	c.bytes += size
	return true
}

// Invalidate drops every frame of the given compositions and makes
// in-flight renders for them stale.
func (c *Cache) Invalidate(ids ...uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hit := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		c.gens[id]++
		hit[id] = true
	}
	for _, e := range c.entries {
		if hit[e.key.Composition] {
			c.drop(e)
		}
	}
}

// Clear drops all frames. Generations are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		c.drop(e)
	}
}

// SetBudget changes the limit, evicting as needed.
func (c *Cache) SetBudget(b int64) {
	if b <= 0 {
		b = DefaultBudget
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budget = b
	c.evict(b)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	s.Bytes = c.bytes
	s.Budget = c.budget
	return s
}

func (c *Cache) effective(e *entry) time.Time {
	if e.key.Tier < quality.High {
		return e.last.Add(c.grace)
	}
	return e.last
}

// evict removes entries until at most limit bytes remain, oldest first,
// larger first among equals.
func (c *Cache) evict(limit int64) {
	if c.bytes <= limit {
		return
	}
	victims := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		victims = append(victims, e)
	}
	sort.Slice(victims, func(i, j int) bool {
		ti, tj := c.effective(victims[i]), c.effective(victims[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return victims[i].size > victims[j].size
	})
	for _, e := range victims {
		if c.bytes <= limit {
			break
		}
		c.drop(e)
		c.stats.Evictions++
		c.log.Debug("evicted", "key", e.key, "bytes", e.size)
	}
}

func (c *Cache) drop(e *entry) {
	delete(c.entries, e.key)
	c.bytes -= e.size
	e.frame.Release()
}
