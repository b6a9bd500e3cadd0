package render

import (
	"context"
	"sync"

	"github.com/ivlev/timeline/internal/framecache"
)

// Handle is a pending or finished frame request. A frame obtained from
// Wait or Frame belongs to the handle; call Release when done with it.
type Handle struct {
	Key framecache.Key

	done  chan struct{}
	once  sync.Once
	frame *framecache.Frame
	err   error
}

func newHandle(k framecache.Key) *Handle {
	return &Handle{Key: k, done: make(chan struct{})}
}

func readyHandle(k framecache.Key, f *framecache.Frame, err error) *Handle {
	h := newHandle(k)
	h.complete(f, err)
	return h
}

func (h *Handle) complete(f *framecache.Frame, err error) {
	h.once.Do(func() {
		h.frame, h.err = f, err
		close(h.done)
	})
}

// Done is closed when the request finishes.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Ready() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the frame is ready. A failed render still yields a
// placeholder frame; Err reports the cause. Skipped requests return
// ErrCancelled and no frame.
func (h *Handle) Wait(ctx context.Context) (*framecache.Frame, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if h.frame == nil {
		return nil, h.err
	}
	return h.frame, nil
}

// Frame returns the frame if ready.
func (h *Handle) Frame() (*framecache.Frame, bool) {
	if !h.Ready() || h.frame == nil {
		return nil, false
	}
	return h.frame, true
}

// Err is the render error, if any, once the handle is ready.
func (h *Handle) Err() error {
	if !h.Ready() {
		return nil
	}
	return h.err
}

// Release drops the handle's frame reference.
func (h *Handle) Release() {
	if h.Ready() && h.frame != nil {
		h.frame.Release()
		h.frame = nil
	}
}
