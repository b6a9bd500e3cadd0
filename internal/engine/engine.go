// Package engine is the owner-side entry point: it holds the project,
// turns cursor moves and frame requests into render jobs and exports
// ranges to a sink. An Engine is used from one goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"runtime"
	"time"

	"github.com/ivlev/timeline/internal/compositor"
	"github.com/ivlev/timeline/internal/compute"
	"github.com/ivlev/timeline/internal/config"
	"github.com/ivlev/timeline/internal/framecache"
	"github.com/ivlev/timeline/internal/logging"
	"github.com/ivlev/timeline/internal/media"
	"github.com/ivlev/timeline/internal/project"
	"github.com/ivlev/timeline/internal/quality"
	"github.com/ivlev/timeline/internal/render"
	"github.com/ivlev/timeline/internal/system"
	"github.com/ivlev/timeline/internal/timebase"
	"github.com/ivlev/timeline/internal/video"
)

var (
	ErrEmptyRange  = errors.New("export range is empty")
	ErrExportFrame = errors.New("export frame failed")
)

type Options struct {
	Width, Height int
	FPS           int
	Rate          int64
	Background    color.RGBA

	Workers       int
	QueueSize     int
	DecodeWorkers int
	DegradedAfter int
	MaxFrameBytes int64

	CacheBudget int64
	ProxyGrace  time.Duration
	Tier        quality.Tier

	// Decoder defaults to a router with no PDF or video support.
	Decoder media.Decoder
	// Backend defaults to the CPU backend.
	Backend compute.Backend
	Pool    *system.ImagePool
	Logger  *slog.Logger

	// OnReady is called from a render worker when a frame lands in the cache.
	OnReady func(framecache.Key)
	// OnInvalidate is called on the owner goroutine after an edit.
	OnInvalidate func([]project.CompositionID)
	// OnProgress reports exported frames.
	OnProgress func(done, total int)
}

// OptionsFromConfig maps a config onto engine options with the default
// decoders.
func OptionsFromConfig(cfg *config.Config, log *slog.Logger) (Options, error) {
	bg, err := cfg.BackgroundColor()
	if err != nil {
		return Options{}, fmt.Errorf("background: %w", err)
	}
	return Options{
		Width:         cfg.Output.Width,
		Height:        cfg.Output.Height,
		FPS:           cfg.Output.FPS,
		Rate:          cfg.Output.Rate,
		Background:    bg,
		Workers:       cfg.Render.Workers,
		QueueSize:     cfg.Render.QueueSize,
		DecodeWorkers: cfg.Render.DecodeWorkers,
		DegradedAfter: cfg.Render.DegradedAfter,
		MaxFrameBytes: cfg.Render.MaxFrameBytes,
		CacheBudget:   cfg.CacheBudget(),
		ProxyGrace:    cfg.Cache.ProxyGrace,
		Tier:          cfg.Tier(),
		Decoder:       NewDecoder(cfg),
		Logger:        log,
	}, nil
}

// NewDecoder builds the media router described by cfg.
func NewDecoder(cfg *config.Config) media.Decoder {
	rate := cfg.Output.Rate
	return media.NewCoalescing(&media.Router{
		Generator: media.GeneratorDecoder{Size: cfg.Media.GeneratorSize},
		PDF:       media.NewPDFDecoder(timebase.FromSeconds(cfg.Media.PageSeconds, rate), cfg.Media.PDFDPI),
		Image:     media.NewImageDecoder(timebase.FrameTicks(cfg.Media.SequenceFPS, rate)),
		Video:     media.FFmpegDecoder{Rate: rate, Bin: cfg.Media.FFmpeg},
	})
}

type Engine struct {
	opts    Options
	ctx     context.Context
	project *project.Project
	cache   *framecache.Cache
	disp    *render.Dispatcher
	quality *quality.Manager
	backend compute.Backend
	log     *slog.Logger

	cursorComp project.CompositionID
	cursor     timebase.Tick
	zoom       float64
}

// New wires p to a cache and a started dispatcher. Cancelling ctx aborts
// running renders; Close stops the workers.
func New(ctx context.Context, p *project.Project, opts Options) *Engine {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 720
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.Rate <= 0 {
		opts.Rate = timebase.DefaultRate
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Pool == nil {
		opts.Pool = system.DefaultPool()
	}
	if opts.Backend == nil {
		opts.Backend = compute.NewCPU(opts.Workers, opts.Pool)
	}
	if opts.Decoder == nil {
		opts.Decoder = media.NewCoalescing(&media.Router{
			Generator: media.GeneratorDecoder{},
			Image:     media.NewImageDecoder(timebase.FrameTicks(opts.FPS, opts.Rate)),
		})
	}

	e := &Engine{
		opts:    opts,
		ctx:     ctx,
		project: p,
		quality: quality.NewManager(opts.Tier),
		backend: opts.Backend,
		log:     opts.Logger.With("component", "engine"),
		zoom:    1,
	}
	e.cache = framecache.New(framecache.Options{
		Budget:     opts.CacheBudget,
		ProxyGrace: opts.ProxyGrace,
		Logger:     opts.Logger,
	})
	e.disp = render.New(render.Options{
		Workers:   opts.Workers,
		QueueSize: opts.QueueSize,
		Renderer: &compositor.Compositor{
			Decoder:       opts.Decoder,
			Backend:       opts.Backend,
			Pool:          opts.Pool,
			MaxFrameBytes: opts.MaxFrameBytes,
			DecodeWorkers: opts.DecodeWorkers,
			Logger:        opts.Logger.With("component", "compositor"),
		},
		Cache:         e.cache,
		Pool:          opts.Pool,
		Logger:        opts.Logger,
		DegradedAfter: opts.DegradedAfter,
		OnReady:       opts.OnReady,
	})
	p.OnChange(e.invalidate)
	e.disp.Start(ctx)
	return e
}

func (e *Engine) invalidate(ids []project.CompositionID) {
	e.cache.Invalidate(ids...)
	e.log.Debug("frames invalidated", "compositions", len(ids))
	if e.opts.OnInvalidate != nil {
		e.opts.OnInvalidate(ids)
	}
}

// Project is the edited model. Edits made through it invalidate cached
// frames of the edited composition and every composition nesting it.
func (e *Engine) Project() *project.Project {
	return e.project
}

// SetCursor moves the playhead and requests its frame at the active tier.
// Older queued requests for the composition are dropped.
func (e *Engine) SetCursor(id project.CompositionID, t timebase.Tick) *render.Handle {
	e.cursorComp, e.cursor = id, t
	return e.GetFrame(id, t, e.quality.Tier())
}

func (e *Engine) Cursor() (project.CompositionID, timebase.Tick) {
	return e.cursorComp, e.cursor
}

func (e *Engine) SetTier(t quality.Tier) {
	e.quality.SetTier(t)
}

func (e *Engine) Tier() quality.Tier {
	return e.quality.Tier()
}

// SetZoom sets the viewer zoom used to pick filters for new jobs.
func (e *Engine) SetZoom(z float64) {
	if z <= 0 {
		z = 1
	}
	e.zoom = z
}

func (e *Engine) Zoom() float64 {
	return e.zoom
}

// GetFrame returns a handle for the frame of composition id at t. The
// snapshot is resolved here only when the frame is neither cached nor
// already rendering.
func (e *Engine) GetFrame(id project.CompositionID, t timebase.Tick, tier quality.Tier) *render.Handle {
	return e.request(id, t, tier, false)
}

func (e *Engine) request(id project.CompositionID, t timebase.Tick, tier quality.Tier, pinned bool) *render.Handle {
	key := framecache.Key{Composition: id, Time: t, Tier: tier}
	return e.disp.Request(render.Request{
		Key:    key,
		Gen:    e.cache.Generation(id),
		Pinned: pinned,
		Prepare: func() (compositor.Job, error) {
			return e.job(id, t, tier)
		},
	})
}

func (e *Engine) job(id project.CompositionID, t timebase.Tick, tier quality.Tier) (compositor.Job, error) {
	c, err := e.project.Composition(id)
	if err != nil {
		return compositor.Job{}, err
	}
	layers, err := e.project.ResolveBatch(e.ctx, id, t, e.backend)
	if err != nil {
		return compositor.Job{}, err
	}
	return compositor.Job{
		Composition: id,
		Time:        t,
		Width:       e.opts.Width,
		Height:      e.opts.Height,
		Scale:       tier.ResolutionScale() * c.LOD.ResolutionScale,
		Policy:      quality.PolicyFor(tier, e.zoom),
		Layers:      layers,
		Background:  e.opts.Background,
	}, nil
}

// Resolve evaluates keys one by one.
func (e *Engine) Resolve(id project.CompositionID, t timebase.Tick) ([]project.Layer, error) {
	return e.project.Resolve(id, t)
}

// ResolveBatch evaluates all keys of the snapshot on the compute backend.
func (e *Engine) ResolveBatch(ctx context.Context, id project.CompositionID, t timebase.Tick) ([]project.Layer, error) {
	return e.project.ResolveBatch(ctx, id, t, e.backend)
}

type ExportStats struct {
	Frames  int
	Elapsed time.Duration
}

// FPS is the effective export speed.
func (s ExportStats) FPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Elapsed.Seconds()
}

// Export renders every frame start of r in order and writes it to sink.
// Requests are pinned so cursor moves during export never drop them. A
// frame that fails to render aborts the export.
func (e *Engine) Export(ctx context.Context, id project.CompositionID, r timebase.Range, tier quality.Tier, sink video.Sink) (ExportStats, error) {
	start := time.Now()
	var stats ExportStats
	if r.Empty() {
		return stats, ErrEmptyRange
	}
	c, err := e.project.Composition(id)
	if err != nil {
		return stats, err
	}
	step := timebase.FrameTicks(e.opts.FPS, e.opts.Rate)
	total := int((r.Len() + step - 1) / step)
	w, h := compositor.Job{Width: e.opts.Width, Height: e.opts.Height, Scale: tier.ResolutionScale() * c.LOD.ResolutionScale}.Size()

	if err := sink.Begin(ctx, video.Format{Width: w, Height: h, FPS: e.opts.FPS}); err != nil {
		return stats, fmt.Errorf("sink: %w", err)
	}
	log := logging.WithComposition(e.log, id.String()).With("range", r.String(), "tier", tier.String())
	log.Info("export started", "frames", total, "size", fmt.Sprintf("%dx%d", w, h))

	window := max(2, 2*e.workers())
	if q := e.opts.QueueSize; q > 0 {
		window = min(window, max(1, q/2))
	}
	var pending []*render.Handle
	next := r.Start
	defer func() {
		for _, h := range pending {
			h.Release()
		}
	}()

	fail := func(err error) (ExportStats, error) {
		sink.Close()
		stats.Elapsed = time.Since(start)
		log.Error("export failed", "frames", stats.Frames, "error", err)
		return stats, err
	}

	for stats.Frames < total {
		for len(pending) < window && next < r.End {
			pending = append(pending, e.request(id, next, tier, true))
			next += step
		}
		h := pending[0]
		pending = pending[1:]
		frame, err := h.Wait(ctx)
		if err != nil {
			return fail(fmt.Errorf("%w at %d: %w", ErrExportFrame, h.Key.Time, err))
		}
		if frame.Placeholder {
			cause := h.Err()
			h.Release()
			return fail(fmt.Errorf("%w at %d: %w", ErrExportFrame, h.Key.Time, cause))
		}
		err = sink.WriteFrame(frame.Image)
		h.Release()
		if err != nil {
			return fail(fmt.Errorf("sink: %w", err))
		}
		stats.Frames++
		if e.opts.OnProgress != nil {
			e.opts.OnProgress(stats.Frames, total)
		}
	}

	if err := sink.Close(); err != nil {
		stats.Elapsed = time.Since(start)
		return stats, fmt.Errorf("sink: %w", err)
	}
	stats.Elapsed = time.Since(start)
	log.Info("export finished", "frames", stats.Frames, "elapsed", stats.Elapsed, "fps", stats.FPS())
	return stats, nil
}

func (e *Engine) workers() int {
	if e.opts.Workers > 0 {
		return e.opts.Workers
	}
	return runtime.NumCPU()
}

type Stats struct {
	Cache  framecache.Stats
	Render render.Stats
}

func (e *Engine) Stats() Stats {
	return Stats{Cache: e.cache.Stats(), Render: e.disp.Stats()}
}

func (e *Engine) Degraded() bool {
	return e.disp.Degraded()
}

// Cache exposes the frame cache for budget changes and inspection.
func (e *Engine) Cache() *framecache.Cache {
	return e.cache
}

// Close stops rendering. Pending handles complete before it returns.
func (e *Engine) Close() {
	e.disp.Close()
}
