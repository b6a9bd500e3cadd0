package framecache

import (
	"image"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ivlev/timeline/internal/quality"
	"github.com/ivlev/timeline/internal/system"
	"github.com/ivlev/timeline/internal/timebase"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) tick() { c.t = c.t.Add(time.Second) }

// frame returns a frame of n*4 bytes.
func frame(n int) *Frame {
	return NewFrame(image.NewRGBA(image.Rect(0, 0, n, 1)), nil)
}

func newCache(budget int64, grace time.Duration) (*Cache, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	return New(Options{Budget: budget, ProxyGrace: grace, Clock: clk.now}), clk
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c, clk := newCache(300, 0)
	comp := uuid.New()
	k := func(at timebase.Tick) Key { return Key{Composition: comp, Time: at, Tier: quality.High} }

	for i := 0; i < 3; i++ {
		if !c.Store(k(timebase.Tick(i)), 0, frame(25)) {
			t.Fatalf("Store %d rejected", i)
		}
		clk.tick()
	}
	f, ok := c.Get(k(0))
	if !ok {
		t.Fatal("miss on k0")
	}
	f.Release()
	clk.tick()

	c.Store(k(3), 0, frame(25))
	if c.Contains(k(1)) {
		t.Error("k1 should be evicted")
	}
	for _, at := range []timebase.Tick{0, 2, 3} {
		if !c.Contains(k(at)) {
			t.Errorf("k%d evicted", at)
		}
	}
	s := c.Stats()
	if s.Bytes > 300 || s.Evictions != 1 || s.Hits != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestEvictsLargerFirstOnTie(t *testing.T) {
	c, _ := newCache(350, 0)
	comp := uuid.New()
	small := Key{Composition: comp, Time: 1, Tier: quality.High}
	big := Key{Composition: comp, Time: 2, Tier: quality.High}
	c.Store(small, 0, frame(25))
	c.Store(big, 0, frame(50))
	c.Store(Key{Composition: comp, Time: 3, Tier: quality.High}, 0, frame(25))
	if c.Contains(big) || !c.Contains(small) {
		t.Errorf("tie broken wrong: big=%v small=%v", c.Contains(big), c.Contains(small))
	}
}

func TestProxyGrace(t *testing.T) {
	c, clk := newCache(200, 10*time.Second)
	comp := uuid.New()
	proxy := Key{Composition: comp, Time: 1, Tier: quality.Low}
	full := Key{Composition: comp, Time: 1, Tier: quality.High}
	c.Store(proxy, 0, frame(25))
	clk.tick()
	c.Store(full, 0, frame(25))
	clk.tick()
	c.Store(Key{Composition: comp, Time: 2, Tier: quality.High}, 0, frame(25))
	if !c.Contains(proxy) || c.Contains(full) {
		t.Errorf("proxy=%v full=%v", c.Contains(proxy), c.Contains(full))
	}
}

func TestStaleGenerationRejected(t *testing.T) {
	c, _ := newCache(1<<20, 0)
	comp := uuid.New()
	k := Key{Composition: comp, Time: 5, Tier: quality.High}
	gen := c.Generation(comp)
	c.Store(k, gen, frame(4))

	c.Invalidate(comp)
	if c.Contains(k) {
		t.Fatal("Invalidate left the frame")
	}
	if c.Store(k, gen, frame(4)) {
		t.Fatal("stale Store accepted")
	}
	if !c.Store(k, c.Generation(comp), frame(4)) {
		t.Fatal("fresh Store rejected")
	}
	other := Key{Composition: uuid.New(), Time: 5}
	c.Store(other, 0, frame(4))
	c.Invalidate(comp)
	if !c.Contains(other) {
		t.Error("Invalidate dropped an unrelated composition")
	}
	if s := c.Stats(); s.Rejected != 1 {
		t.Errorf("rejected = %d", s.Rejected)
	}
}

func TestOversizedFrameNotCached(t *testing.T) {
	c, _ := newCache(100, 0)
	k := Key{Composition: uuid.New()}
	if c.Store(k, 0, frame(100)) {
		t.Error("frame over budget was stored")
	}
}

func TestFrameReturnsToPool(t *testing.T) {
	pool := system.NewImagePool()
	c, _ := newCache(1<<20, 0)
	k := Key{Composition: uuid.New()}

	f := NewFrame(pool.Get(image.Rect(0, 0, 2, 2)), pool)
	c.Store(k, 0, f)
	f.Release()
	got, _ := c.Get(k)
	if got.Refs() != 2 {
		t.Fatalf("refs = %d, want cache + reader", got.Refs())
	}
	c.Clear()
	if got.Image == nil {
		t.Fatal("frame freed while a reader holds it")
	}
	got.Release()
	if got.Image != nil {
		t.Error("last release kept the image")
	}
}

func TestSetBudgetShrinks(t *testing.T) {
	c, clk := newCache(1000, 0)
	comp := uuid.New()
	for i := 0; i < 5; i++ {
		c.Store(Key{Composition: comp, Time: timebase.Tick(i)}, 0, frame(50))
		clk.tick()
	}
	c.SetBudget(400)
	if s := c.Stats(); s.Bytes > 400 || s.Entries != 2 {
		t.Errorf("after shrink: %+v", s)
	}
}
