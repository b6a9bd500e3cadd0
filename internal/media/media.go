// Package media turns media references into still images.
package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/ivlev/timeline/internal/project"
	"github.com/ivlev/timeline/internal/timebase"
)

var (
	ErrDecode      = errors.New("media decode failed")
	ErrUnsupported = errors.New("unsupported media")
)

// Decoder returns the image of ref at media time local. Returned images
// are shared and must not be modified.
type Decoder interface {
	DecodeFrame(ctx context.Context, ref project.MediaRef, local timebase.Tick) (image.Image, error)
}

type DecoderFunc func(ctx context.Context, ref project.MediaRef, local timebase.Tick) (image.Image, error)

func (f DecoderFunc) DecodeFrame(ctx context.Context, ref project.MediaRef, local timebase.Tick) (image.Image, error) {
	return f(ctx, ref, local)
}

func decodeError(ref project.MediaRef, err error) error {
	if errors.Is(err, ErrDecode) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrDecode, ref, err)
}

// Router picks a decoder by scheme, extension and media kind. Nil
// decoders make that class unsupported.
type Router struct {
	Generator Decoder
	PDF       Decoder
	Image     Decoder
	Video     Decoder
}

func (r *Router) DecodeFrame(ctx context.Context, ref project.MediaRef, local timebase.Tick) (image.Image, error) {
	d := r.pick(ref)
	if d == nil {
		return nil, decodeError(ref, ErrUnsupported)
	}
	img, err := d.DecodeFrame(ctx, ref, local)
	if err != nil {
		return nil, decodeError(ref, err)
	}
	return img, nil
}

func (r *Router) pick(ref project.MediaRef) Decoder {
	if ref.Kind == project.MediaGenerated || isGenerator(ref.Path) {
		return r.Generator
	}
	switch ext := strings.ToLower(filepath.Ext(ref.Path)); {
	case ext == ".pdf":
		return r.PDF
	case isImageExt(ext), ref.Kind == project.MediaImage:
		return r.Image
	case ref.Kind == project.MediaVideo:
		return r.Video
	}
	return nil
}

// Coalescing shares one decode between concurrent callers asking for
// the same frame.
type Coalescing struct {
	next  Decoder
	group singleflight.Group
}

func NewCoalescing(next Decoder) *Coalescing {
	return &Coalescing{next: next}
}

func (c *Coalescing) DecodeFrame(ctx context.Context, ref project.MediaRef, local timebase.Tick) (image.Image, error) {
	key := fmt.Sprintf("%s@%d", ref, local)
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.next.DecodeFrame(ctx, ref, local)
	})
	if err != nil {
		return nil, err
	}
	return v.(image.Image), nil
}
