package framecache

import (
	"image"
	"sync/atomic"

	"github.com/ivlev/timeline/internal/system"
)

// Frame is a rendered image shared between the cache and its readers.
// Each holder calls Release once; the last release returns the pixels
// to the pool.
type Frame struct {
	Image *image.RGBA
	// Placeholder marks frames produced after a failed render.
	Placeholder bool

	refs atomic.Int32
	pool *system.ImagePool
}

// NewFrame wraps img with one reference. pool may be nil.
func NewFrame(img *image.RGBA, pool *system.ImagePool) *Frame {
	f := &Frame{Image: img, pool: pool}
	f.refs.Store(1)
	return f
}

func (f *Frame) Retain() *Frame {
	f.refs.Add(1)
	return f
}

func (f *Frame) Release() {
	n := f.refs.Add(-1)
	if n == 0 && f.pool != nil {
		f.pool.Put(f.Image)
		f.Image = nil
	}
	if n < 0 {
		panic("framecache: frame released too many times")
	}
}

// Refs is the current reference count.
func (f *Frame) Refs() int {
	return int(f.refs.Load())
}

// Bytes is the pixel memory held by the frame.
func (f *Frame) Bytes() int64 {
	if f.Image == nil {
		return 0
	}
	return int64(len(f.Image.Pix))
}
