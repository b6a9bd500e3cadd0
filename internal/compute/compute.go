// Package compute runs the per-frame numeric work: batched keyframe
// interpolation and layer compositing.
package compute

import (
	"context"
	"image"
	"runtime"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/timeline/internal/keyframe"
	"github.com/ivlev/timeline/internal/project"
	"github.com/ivlev/timeline/internal/system"
	"github.com/ivlev/timeline/internal/timebase"
)

// Op describes how one source image lands on the frame.
type Op struct {
	// Affine maps source pixels to frame pixels.
	Affine  f64.Aff3
	Opacity float64
	Blend   project.BlendMode
	Interp  draw.Interpolator
}

type Backend interface {
	keyframe.Evaluator
	Composite(ctx context.Context, dst *image.RGBA, src image.Image, op Op) error
}

const interpChunk = 256

// CPU runs kernels on goroutines.
type CPU struct {
	Workers int
	Pool    *system.ImagePool
}

func NewCPU(workers int, pool *system.ImagePool) *CPU {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if pool == nil {
		pool = system.DefaultPool()
	}
	return &CPU{Workers: workers, Pool: pool}
}

func (c *CPU) Interpolate(ctx context.Context, b *keyframe.Batch, t timebase.Tick, out []float64) error {
	n := b.Len()
	if n <= interpChunk {
		return keyframe.Sequential{}.Interpolate(ctx, b, t, out)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Workers)
	for lo := 0; lo < n; lo += interpChunk {
		hi := min(lo+interpChunk, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				out[i] = b.EvalAt(i, t)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *CPU) Composite(ctx context.Context, dst *image.RGBA, src image.Image, op Op) error {
	if op.Opacity <= 0 {
		return nil
	}
	interp := op.Interp
	if interp == nil {
		interp = draw.BiLinear
	}
	layer := c.Pool.Get(dst.Rect)
	defer c.Pool.Put(layer)
	interp.Transform(layer, op.Affine, src, src.Bounds(), draw.Over, nil)

	rows := dst.Rect.Dy()
	band := max(1, (rows+c.Workers-1)/c.Workers)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Workers)
	for y0 := 0; y0 < rows; y0 += band {
		y1 := min(y0+band, rows)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			blendRows(dst, layer, y0, y1, op.Opacity, op.Blend)
			return nil
		})
	}
	return g.Wait()
}
