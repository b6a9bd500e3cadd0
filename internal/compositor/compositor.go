// Package compositor turns resolved layers into a frame.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"golang.org/x/image/math/f64"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/timeline/internal/compute"
	"github.com/ivlev/timeline/internal/media"
	"github.com/ivlev/timeline/internal/project"
	"github.com/ivlev/timeline/internal/quality"
	"github.com/ivlev/timeline/internal/system"
	"github.com/ivlev/timeline/internal/timebase"
)

var ErrOutOfMemory = errors.New("frame exceeds memory limit")

// Job is everything needed to draw one frame. Layers must not be
// modified after submission.
type Job struct {
	Composition uuid.UUID
	Time        timebase.Tick
	// Width and Height are the full output size; Scale shrinks it.
	Width, Height int
	Scale         float64
	Policy        quality.Policy
	Layers        []project.Layer
	Background    color.RGBA
}

// Size is the pixel size of the rendered frame.
func (j Job) Size() (int, int) {
	s := j.Scale
	if s <= 0 {
		s = 1
	}
	return max(1, int(math.Round(float64(j.Width)*s))), max(1, int(math.Round(float64(j.Height)*s)))
}

type Compositor struct {
	Decoder media.Decoder
	Backend compute.Backend
	Pool    *system.ImagePool
	// MaxFrameBytes limits a single output frame. Zero disables the check.
	MaxFrameBytes int64
	// DecodeWorkers bounds concurrent decodes per frame.
	DecodeWorkers int
	Logger        *slog.Logger
}

// Render draws the job into a frame from the pool. The caller owns the
// result.
func (c *Compositor) Render(ctx context.Context, job Job) (*image.RGBA, error) {
	w, h := job.Size()
	if c.MaxFrameBytes > 0 && int64(w)*int64(h)*4 > c.MaxFrameBytes {
		return nil, fmt.Errorf("%w: %dx%d", ErrOutOfMemory, w, h)
	}

	var layers []project.Layer
	for _, l := range job.Layers {
		if l.Visual() && l.Opacity > 0 {
			layers = append(layers, l)
		}
	}

	images := make([]image.Image, len(layers))
	g, gctx := errgroup.WithContext(ctx)
	if c.DecodeWorkers > 0 {
		g.SetLimit(c.DecodeWorkers)
	}
	for i, l := range layers {
		g.Go(func() error {
			img, err := c.Decoder.DecodeFrame(gctx, l.Media, l.Time)
			if err != nil {
				return fmt.Errorf("layer clip %d: %w", l.Clip, err)
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dst := c.pool().Get(image.Rect(0, 0, w, h))
	if job.Background.A > 0 {
		for i := 0; i < len(dst.Pix); i += 4 {
			dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = job.Background.R, job.Background.G, job.Background.B, job.Background.A
		}
	}
	for i, l := range layers {
		if err := c.draw(ctx, dst, images[i], l, job); err != nil {
			c.pool().Put(dst)
			return nil, err
		}
	}
	return dst, nil
}

func (c *Compositor) draw(ctx context.Context, dst *image.RGBA, img image.Image, l project.Layer, job Job) error {
	src := crop(img, l.Crop)
	sb := src.Bounds()
	if sb.Empty() {
		return nil
	}
	w, h := dst.Rect.Dx(), dst.Rect.Dy()

	// Вписываем источник в кадр с сохранением пропорций.
	s := math.Min(float64(w)/float64(sb.Dx()), float64(h)/float64(sb.Dy()))
	fw := max(1, int(math.Round(float64(sb.Dx())*s)))
	fh := max(1, int(math.Round(float64(sb.Dy())*s)))
	fitted := c.pool().Get(image.Rect(0, 0, fw, fh))
	defer c.pool().Put(fitted)
	quality.Scale(fitted, fitted.Bounds(), src, job.Policy)

	offset := f64.Aff3{1, 0, float64(w-fw) / 2, 0, 1, float64(h-fh) / 2}
	scale := job.Scale
	if scale <= 0 {
		scale = 1
	}
	m := project.MulAffine(l.Affine(float64(w), float64(h), scale), offset)
	if c.Logger != nil {
		c.Logger.Debug("composite layer", "clip", l.Clip, "media", l.Media.String(), "opacity", l.Opacity)
	}
	return c.Backend.Composite(ctx, dst, fitted, compute.Op{
		Affine:  m,
		Opacity: l.Opacity,
		Blend:   l.Blend,
		Interp:  job.Policy.Filter.Interpolator(),
	})
}

func (c *Compositor) pool() *system.ImagePool {
	if c.Pool == nil {
		return system.DefaultPool()
	}
	return c.Pool
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func crop(img image.Image, cr project.Crop) image.Image {
	if cr.IsZero() {
		return img
	}
	si, ok := img.(subImager)
	if !ok {
		return img
	}
	b := img.Bounds()
	dx, dy := float64(b.Dx()), float64(b.Dy())
	r := image.Rectangle{
		Min: image.Pt(b.Min.X+int(math.Round(cr.Left*dx)), b.Min.Y+int(math.Round(cr.Top*dy))),
		Max: image.Pt(b.Max.X-int(math.Round(cr.Right*dx)), b.Max.Y-int(math.Round(cr.Bottom*dy))),
	}
	if r.Empty() {
		return image.NewRGBA(image.Rectangle{})
	}
	return si.SubImage(r)
}
