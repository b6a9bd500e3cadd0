// Package render schedules frame renders on a worker pool and feeds the
// frame cache.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/ivlev/timeline/internal/compositor"
	"github.com/ivlev/timeline/internal/framecache"
	"github.com/ivlev/timeline/internal/system"
	"github.com/ivlev/timeline/internal/timebase"
)

var (
	ErrCancelled = errors.New("render request superseded")
	ErrQueueFull = errors.New("render queue full")
	ErrClosed    = errors.New("dispatcher closed")
)

// Renderer draws a resolved job. *compositor.Compositor implements it.
type Renderer interface {
	Render(ctx context.Context, job compositor.Job) (*image.RGBA, error)
}

// Request asks for the frame at Key. Prepare runs on the calling
// goroutine, only when the frame is neither cached nor in flight, and
// must return a self-contained job. Gen is the cache generation the job
// was resolved against.
type Request struct {
	Key     framecache.Key
	Gen     uint64
	Prepare func() (compositor.Job, error)
	// Pinned requests are never superseded and do not move the latest
	// time of their composition.
	Pinned bool
}

type Options struct {
	Workers   int
	QueueSize int
	Renderer  Renderer
	Cache     *framecache.Cache
	Pool      *system.ImagePool
	Logger    *slog.Logger
	// DegradedAfter consecutive failures switch the dispatcher to the
	// degraded state. Zero means 3.
	DegradedAfter int
	// OnReady is called from a worker after a frame is stored. Frames
	// rejected by the cache do not trigger it.
	OnReady func(framecache.Key)
}

type Stats struct {
	Requests  int64
	Hits      int64
	Coalesced int64
	Rendered  int64
	Failed    int64
	Skipped   int64
	Degraded  bool
}

// flight identifies an in-flight render. Jobs resolved against an older
// generation never absorb newer requests.
type flight struct {
	key framecache.Key
	gen uint64
}

type job struct {
	req       Request
	work      compositor.Job
	handles   []*Handle
	cancelled bool
}

type Dispatcher struct {
	opts Options
	log  *slog.Logger
	jobs chan *job

	mu       sync.Mutex
	inflight map[flight]*job
	latest   map[uuid.UUID]timebase.Tick
	failures int
	degraded bool
	closed   bool
	stats    Stats

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.DegradedAfter <= 0 {
		opts.DegradedAfter = 3
	}
	if opts.Pool == nil {
		opts.Pool = system.DefaultPool()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		opts:     opts,
		log:      opts.Logger.With("component", "render"),
		jobs:     make(chan *job, opts.QueueSize),
		inflight: make(map[flight]*job),
		latest:   make(map[uuid.UUID]timebase.Tick),
	}
}

// Start launches the workers. Cancelling ctx aborts running renders.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for j := range d.jobs {
				d.run(ctx, j)
			}
		}()
	}
	d.log.Debug("workers started", "count", d.opts.Workers)
}

// Close stops accepting requests, drains the queue and waits for the
// workers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Dispatcher) Request(req Request) *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Requests++

	if d.closed {
		return readyHandle(req.Key, nil, ErrClosed)
	}
	if !req.Pinned {
		d.supersede(req.Key)
	}
	if f, ok := d.opts.Cache.Get(req.Key); ok {
		d.stats.Hits++
		return readyHandle(req.Key, f, nil)
	}

	h := newHandle(req.Key)
	id := flight{key: req.Key, gen: req.Gen}
	if j, ok := d.inflight[id]; ok {
		j.cancelled = false
		j.req.Pinned = j.req.Pinned || req.Pinned
		j.handles = append(j.handles, h)
		d.stats.Coalesced++
		return h
	}

	work, err := req.Prepare()
	if err != nil {
		h.complete(nil, err)
		return h
	}
	j := &job{req: req, work: work, handles: []*Handle{h}}
	select {
	case d.jobs <- j:
		d.inflight[id] = j
	default:
		h.complete(nil, fmt.Errorf("%w: %s", ErrQueueFull, req.Key))
	}
	return h
}

// supersede records k.Time as the latest for its composition and marks
// queued jobs at other times cancelled.
func (d *Dispatcher) supersede(k framecache.Key) {
	d.latest[k.Composition] = k.Time
	for f, j := range d.inflight {
		if f.key.Composition == k.Composition && f.key.Time != k.Time && !j.req.Pinned {
			j.cancelled = true
		}
	}
}

// Latest is the most recent time requested for a composition.
func (d *Dispatcher) Latest(id uuid.UUID) (timebase.Tick, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.latest[id]
	return t, ok
}

func (d *Dispatcher) run(ctx context.Context, j *job) {
	key := j.req.Key
	id := flight{key: key, gen: j.req.Gen}
	d.mu.Lock()
	if j.cancelled {
		delete(d.inflight, id)
		handles := j.handles
		d.stats.Skipped++
		d.mu.Unlock()
		for _, h := range handles {
			h.complete(nil, ErrCancelled)
		}
		return
	}
	d.mu.Unlock()

	img, err := d.opts.Renderer.Render(ctx, j.work)
	var frame *framecache.Frame
	stored := false
	if err != nil {
		w, h := j.work.Size()
		frame = framecache.NewFrame(Placeholder(w, h, key.String()), nil)
		frame.Placeholder = true
	} else {
		// Кадр сохраняется даже если запрос уже устарел.
		frame = framecache.NewFrame(img, d.opts.Pool)
		stored = d.opts.Cache.Store(key, j.req.Gen, frame)
	}

	d.mu.Lock()
	delete(d.inflight, id)
	handles := j.handles
	d.record(key, err)
	d.mu.Unlock()

	for _, h := range handles {
		h.complete(frame.Retain(), err)
	}
	frame.Release()
	if stored && d.opts.OnReady != nil {
		d.opts.OnReady(key)
	}
}

// record updates counters and the degraded state. d.mu must be held.
func (d *Dispatcher) record(key framecache.Key, err error) {
	if err == nil {
		d.stats.Rendered++
		d.failures = 0
		if d.degraded {
			d.degraded = false
			d.log.Info("renderer recovered", "key", key)
		}
		return
	}
	d.stats.Failed++
	d.failures++
	d.log.Error("render failed", "key", key, "error", err)
	if !d.degraded && d.failures >= d.opts.DegradedAfter {
		d.degraded = true
		d.log.Warn("renderer degraded", "consecutive_failures", d.failures)
	}
}

func (d *Dispatcher) Degraded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.degraded
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Degraded = d.degraded
	return s
}
