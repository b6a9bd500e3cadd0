package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ivlev/timeline/internal/compositor"
	"github.com/ivlev/timeline/internal/framecache"
	"github.com/ivlev/timeline/internal/quality"
	"github.com/ivlev/timeline/internal/timebase"
)

type fakeRenderer struct {
	mu      sync.Mutex
	calls   []timebase.Tick
	started chan timebase.Tick
	gate    chan struct{}
	fail    bool
}

func (r *fakeRenderer) Render(ctx context.Context, job compositor.Job) (*image.RGBA, error) {
	r.mu.Lock()
	r.calls = append(r.calls, job.Time)
	fail := r.fail
	r.mu.Unlock()
	if r.started != nil {
		r.started <- job.Time
	}
	if r.gate != nil {
		<-r.gate
	}
	if fail {
		return nil, errors.New("boom")
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	draw.Draw(img, img.Bounds(), image.NewUniform(job.Background), image.Point{}, draw.Src)
	return img, nil
}

func (r *fakeRenderer) rendered() []timebase.Tick {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]timebase.Tick(nil), r.calls...)
}

func setup(t *testing.T, r *fakeRenderer, workers int) (*Dispatcher, *framecache.Cache) {
	t.Helper()
	cache := framecache.New(framecache.Options{Budget: 1 << 20})
	d := New(Options{Workers: workers, Renderer: r, Cache: cache, DegradedAfter: 2})
	d.Start(context.Background())
	t.Cleanup(d.Close)
	return d, cache
}

func request(d *Dispatcher, cache *framecache.Cache, comp uuid.UUID, at timebase.Tick) *Handle {
	return requestFilled(d, cache, comp, at, color.RGBA{})
}

// requestFilled asks for a frame whose snapshot paints it bg.
func requestFilled(d *Dispatcher, cache *framecache.Cache, comp uuid.UUID, at timebase.Tick, bg color.RGBA) *Handle {
	key := framecache.Key{Composition: comp, Time: at, Tier: quality.High}
	return d.Request(Request{
		Key: key,
		Gen: cache.Generation(comp),
		Prepare: func() (compositor.Job, error) {
			return compositor.Job{Composition: comp, Time: at, Width: 4, Height: 4, Scale: 1, Background: bg}, nil
		},
	})
}

func wait(t *testing.T, h *Handle) *framecache.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait %s: %v", h.Key, err)
	}
	return f
}

func TestCoalescesAndCaches(t *testing.T) {
	r := &fakeRenderer{started: make(chan timebase.Tick, 1), gate: make(chan struct{})}
	d, cache := setup(t, r, 2)
	comp := uuid.New()

	h1 := request(d, cache, comp, 10)
	<-r.started
	h2 := request(d, cache, comp, 10)
	close(r.gate)

	f1, f2 := wait(t, h1), wait(t, h2)
	if f1 != f2 {
		t.Error("coalesced handles got different frames")
	}
	h1.Release()
	h2.Release()

	h3 := request(d, cache, comp, 10)
	if !h3.Ready() {
		t.Fatal("cached frame not ready immediately")
	}
	h3.Release()
	if n := len(r.rendered()); n != 1 {
		t.Errorf("rendered %d times", n)
	}
	s := d.Stats()
	if s.Coalesced != 1 || s.Hits != 1 || s.Rendered != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestLatestTimeSupersedesQueued(t *testing.T) {
	r := &fakeRenderer{started: make(chan timebase.Tick, 8), gate: make(chan struct{})}
	d, cache := setup(t, r, 1)
	comp := uuid.New()

	h0 := request(d, cache, comp, 0)
	<-r.started
	h1 := request(d, cache, comp, 1)
	h2 := request(d, cache, comp, 2)
	h1again := request(d, cache, comp, 1)
	h3 := request(d, cache, comp, 3)
	close(r.gate)

	wait(t, h3).Release()
	wait(t, h0).Release()
	for _, h := range []*Handle{h1, h1again, h2} {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := h.Wait(ctx); !errors.Is(err, ErrCancelled) {
			t.Errorf("%s: err = %v, want ErrCancelled", h.Key, err)
		}
		cancel()
	}
	got := r.rendered()
	if len(got) != 2 || got[0] != 0 || got[1] != 3 {
		t.Errorf("rendered %v, want [0 3]", got)
	}
	if !cache.Contains(framecache.Key{Composition: comp, Time: 0, Tier: quality.High}) {
		t.Error("superseded running render was not stored")
	}
	if latest, _ := d.Latest(comp); latest != 3 {
		t.Errorf("latest = %d", latest)
	}
}

func TestReRequestRevivesQueuedJob(t *testing.T) {
	r := &fakeRenderer{started: make(chan timebase.Tick, 8), gate: make(chan struct{})}
	d, cache := setup(t, r, 1)
	comp := uuid.New()

	h0 := request(d, cache, comp, 0)
	<-r.started
	h1 := request(d, cache, comp, 1)
	request(d, cache, comp, 2)
	h1b := request(d, cache, comp, 1)
	close(r.gate)

	wait(t, h1).Release()
	wait(t, h1b).Release()
	wait(t, h0).Release()
}

func TestFailureGivesPlaceholderAndDegrades(t *testing.T) {
	r := &fakeRenderer{fail: true}
	d, cache := setup(t, r, 1)
	comp := uuid.New()

	for i := 0; i < 2; i++ {
		h := request(d, cache, comp, timebase.Tick(i))
		f := wait(t, h)
		if !f.Placeholder || h.Err() == nil {
			t.Fatalf("frame %d: placeholder=%v err=%v", i, f.Placeholder, h.Err())
		}
		if b := f.Image.Bounds(); b.Dx() != 4 || b.Dy() != 4 {
			t.Errorf("placeholder bounds = %v", b)
		}
		h.Release()
	}
	if !d.Degraded() {
		t.Error("not degraded after 2 failures")
	}
	if cache.Stats().Entries != 0 {
		t.Error("placeholder was cached")
	}

	r.mu.Lock()
	r.fail = false
	r.mu.Unlock()
	wait(t, request(d, cache, comp, 5)).Release()
	if d.Degraded() {
		t.Error("still degraded after a success")
	}
}

func TestStaleRenderNotStored(t *testing.T) {
	r := &fakeRenderer{started: make(chan timebase.Tick, 1), gate: make(chan struct{})}
	d, cache := setup(t, r, 1)
	comp := uuid.New()

	h := request(d, cache, comp, 7)
	<-r.started
	cache.Invalidate(comp)
	close(r.gate)
	wait(t, h).Release()
	if cache.Contains(framecache.Key{Composition: comp, Time: 7, Tier: quality.High}) {
		t.Error("frame rendered before an edit was cached")
	}
}

func TestRequestAfterEditRendersNewSnapshot(t *testing.T) {
	r := &fakeRenderer{started: make(chan timebase.Tick, 2), gate: make(chan struct{})}
	d, cache := setup(t, r, 2)
	comp := uuid.New()
	before := color.RGBA{255, 0, 0, 255}
	after := color.RGBA{0, 0, 255, 255}

	hOld := requestFilled(d, cache, comp, 7, before)
	<-r.started
	cache.Invalidate(comp)
	hNew := requestFilled(d, cache, comp, 7, after)
	close(r.gate)

	fOld, fNew := wait(t, hOld), wait(t, hNew)
	defer hOld.Release()
	defer hNew.Release()
	if got := fNew.Image.RGBAAt(0, 0); got != after {
		t.Errorf("request after the edit got %v, want %v", got, after)
	}
	if got := fOld.Image.RGBAAt(0, 0); got != before {
		t.Errorf("request before the edit got %v, want %v", got, before)
	}
	if s := d.Stats(); s.Coalesced != 0 || s.Rendered != 2 {
		t.Errorf("stats = %+v, want two separate renders", s)
	}
	h := request(d, cache, comp, 7)
	defer h.Release()
	if !h.Ready() {
		t.Fatal("frame of the current generation was not cached")
	}
	if got := wait(t, h).Image.RGBAAt(0, 0); got != after {
		t.Errorf("cached frame %v, want %v", got, after)
	}
}

func TestOnReadySkipsRejectedFrames(t *testing.T) {
	r := &fakeRenderer{started: make(chan timebase.Tick, 1), gate: make(chan struct{})}
	cache := framecache.New(framecache.Options{Budget: 1 << 20})
	ready := make(chan framecache.Key, 4)
	d := New(Options{
		Workers:  1,
		Renderer: r,
		Cache:    cache,
		OnReady:  func(k framecache.Key) { ready <- k },
	})
	d.Start(context.Background())
	t.Cleanup(d.Close)
	comp := uuid.New()

	h := request(d, cache, comp, 7)
	<-r.started
	cache.Invalidate(comp)
	close(r.gate)
	wait(t, h).Release()

	// one worker: the stale job has fully finished before this one runs
	wait(t, request(d, cache, comp, 8)).Release()
	select {
	case k := <-ready:
		if k.Time != 8 {
			t.Errorf("OnReady fired for %s, want only the stored frame at 8", k)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnReady not called for a stored frame")
	}
	select {
	case k := <-ready:
		t.Errorf("unexpected OnReady for %s", k)
	default:
	}
}

func TestPrepareErrorCompletesHandle(t *testing.T) {
	d, _ := setup(t, &fakeRenderer{}, 1)
	want := errors.New("no such composition")
	h := d.Request(Request{
		Key:     framecache.Key{Composition: uuid.New()},
		Prepare: func() (compositor.Job, error) { return compositor.Job{}, want },
	})
	if _, err := h.Wait(context.Background()); !errors.Is(err, want) {
		t.Errorf("err = %v", err)
	}
}

func TestPlaceholderQR(t *testing.T) {
	img := Placeholder(320, 180, "frame")
	if img.RGBAAt(0, 0) != slateColor {
		t.Errorf("corner = %v", img.RGBAAt(0, 0))
	}
	if img.Bounds().Dx() != 320 {
		t.Errorf("bounds = %v", img.Bounds())
	}
}
