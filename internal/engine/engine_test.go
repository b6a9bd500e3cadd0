package engine

import (
	"context"
	"errors"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/ivlev/timeline/internal/framecache"
	"github.com/ivlev/timeline/internal/keyframe"
	"github.com/ivlev/timeline/internal/logging"
	"github.com/ivlev/timeline/internal/media"
	"github.com/ivlev/timeline/internal/project"
	"github.com/ivlev/timeline/internal/quality"
	"github.com/ivlev/timeline/internal/render"
	"github.com/ivlev/timeline/internal/timebase"
	"github.com/ivlev/timeline/internal/video"
)

type fixture struct {
	e     *Engine
	p     *project.Project
	root  project.CompositionID
	title project.CompositionID
	clip  project.ClipID
	inval [][]project.CompositionID
}

// newFixture builds root -> title, where title shows a red square.
func newFixture(t *testing.T, media string) *fixture {
	t.Helper()
	f := &fixture{p: project.New(project.Options{Logger: logging.Discard()})}
	f.root = f.p.AddComposition("root")
	f.title = f.p.AddComposition("title")

	tt, err := f.p.AddTrack(f.title, project.VideoTrack, "T1")
	if err != nil {
		t.Fatal(err)
	}
	kind := project.MediaGenerated
	if filepath.Ext(media) != "" {
		kind = project.MediaImage
	}
	if _, err := f.p.AddClip(tt, project.Clip{Media: project.MediaRef{Kind: kind, Path: media}, Duration: 1000}); err != nil {
		t.Fatal(err)
	}
	rt, err := f.p.AddTrack(f.root, project.VideoTrack, "V1")
	if err != nil {
		t.Fatal(err)
	}
	f.clip, err = f.p.AddClip(rt, project.Clip{Media: project.MediaRef{Kind: project.MediaComposition, Composition: f.title}, Duration: 1000})
	if err != nil {
		t.Fatal(err)
	}

	f.e = New(context.Background(), f.p, Options{
		Width: 16, Height: 8, FPS: 30, Rate: 1000,
		Background: color.RGBA{A: 255},
		Workers:    2,
		Tier:       quality.High,
		Logger:     logging.Discard(),
		OnInvalidate: func(ids []project.CompositionID) {
			f.inval = append(f.inval, ids)
		},
	})
	t.Cleanup(f.e.Close)
	return f
}

func keyAt(at timebase.Tick, v float64) keyframe.Key {
	return keyframe.Key{Time: at, Value: v}
}

func waitFrame(t *testing.T, h *render.Handle) *framecache.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fr, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait %s: %v", h.Key, err)
	}
	return fr
}

func TestGetFrame(t *testing.T) {
	f := newFixture(t, "color:#ff0000")

	h := f.e.GetFrame(f.root, 500, quality.High)
	fr := waitFrame(t, h)
	if fr.Placeholder {
		t.Fatalf("unexpected placeholder: %v", h.Err())
	}
	if b := fr.Image.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Fatalf("expected 16x8, got %v", b)
	}
	// the square is fitted into the middle 8x8
	if c := fr.Image.RGBAAt(8, 4); c.R < 250 || c.G > 5 || c.A != 255 {
		t.Errorf("center should be red, got %v", c)
	}
	if c := fr.Image.RGBAAt(0, 4); c.R != 0 || c.A != 255 {
		t.Errorf("edge should be background, got %v", c)
	}
	h.Release()

	h2 := f.e.GetFrame(f.root, 500, quality.High)
	if !h2.Ready() {
		t.Errorf("second request should be served from cache")
	}
	h2.Release()
	if s := f.e.Stats(); s.Render.Hits != 1 || s.Render.Rendered != 1 {
		t.Errorf("expected 1 hit and 1 render, got %+v", s.Render)
	}
}

func TestTierScalesFrame(t *testing.T) {
	f := newFixture(t, "color:#00ff00")
	f.e.SetTier(quality.Low)

	h := f.e.SetCursor(f.root, 0)
	fr := waitFrame(t, h)
	defer h.Release()
	if b := fr.Image.Bounds(); b.Dx() != 4 || b.Dy() != 2 {
		t.Errorf("low tier should render 4x2, got %v", b)
	}
	if id, at := f.e.Cursor(); id != f.root || at != 0 {
		t.Errorf("cursor not recorded: %v %d", id, at)
	}
}

func TestEditInvalidatesAncestors(t *testing.T) {
	f := newFixture(t, "color:#ff0000")
	key := framecache.Key{Composition: f.root, Time: 0, Tier: quality.High}

	h := f.e.GetFrame(f.root, 0, quality.High)
	waitFrame(t, h)
	h.Release()
	if !f.e.Cache().Contains(key) {
		t.Fatalf("frame should be cached")
	}

	// editing the nested composition drops the parent's frames
	if err := f.p.SetCompositionTransform(f.title, project.Transform{ScaleX: 0.5, ScaleY: 0.5, Opacity: 1}); err != nil {
		t.Fatal(err)
	}
	if f.e.Cache().Contains(key) {
		t.Errorf("root frame should be invalidated")
	}
	last := f.inval[len(f.inval)-1]
	if len(last) != 2 || last[0] != f.title || last[1] != f.root {
		t.Errorf("expected [title root], got %v", last)
	}

	h = f.e.GetFrame(f.root, 0, quality.High)
	fr := waitFrame(t, h)
	defer h.Release()
	// half size square now covers x 6..10
	if c := fr.Image.RGBAAt(4, 4); c.R != 0 {
		t.Errorf("x=4 should be background after the edit, got %v", c)
	}
}

func TestResolveBatchMatchesResolve(t *testing.T) {
	f := newFixture(t, "color:#ff0000")
	if err := f.p.SetKeyframe(f.clip, project.Opacity, keyAt(0, 0)); err != nil {
		t.Fatal(err)
	}
	if err := f.p.SetKeyframe(f.clip, project.Opacity, keyAt(1000, 1)); err != nil {
		t.Fatal(err)
	}
	for _, at := range []timebase.Tick{250, 500, 999} {
		a, err := f.e.Resolve(f.root, at)
		if err != nil {
			t.Fatal(err)
		}
		b, err := f.e.ResolveBatch(context.Background(), f.root, at)
		if err != nil {
			t.Fatal(err)
		}
		if len(a) != 1 || len(b) != 1 || a[0].Opacity != b[0].Opacity {
			t.Errorf("at %d: scalar %v, batch %v", at, a, b)
		}
	}
}

func TestExport(t *testing.T) {
	f := newFixture(t, "color:#0000ff")
	sink := &video.PNGSink{Dir: t.TempDir()}

	var progress []int
	f.e.opts.OnProgress = func(done, total int) {
		progress = append(progress, done)
		if total != 4 {
			t.Errorf("expected 4 frames total, got %d", total)
		}
	}
	// 100 ticks at 33 ticks per frame
	stats, err := f.e.Export(context.Background(), f.root, timebase.Range{Start: 0, End: 100}, quality.High, sink)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if stats.Frames != 4 || sink.Frames() != 4 || len(progress) != 4 {
		t.Errorf("expected 4 frames, got stats %d sink %d progress %d", stats.Frames, sink.Frames(), len(progress))
	}
	t.Logf("exported %d frames at %.1f fps", stats.Frames, stats.FPS())
}

func TestExportErrors(t *testing.T) {
	f := newFixture(t, "missing.png")
	sink := &video.PNGSink{Dir: t.TempDir()}

	_, err := f.e.Export(context.Background(), f.root, timebase.Range{Start: 0, End: 100}, quality.High, sink)
	if !errors.Is(err, ErrExportFrame) || !errors.Is(err, media.ErrDecode) {
		t.Errorf("expected decode failure, got %v", err)
	}
	if sink.Frames() != 0 {
		t.Errorf("nothing should be written, got %d frames", sink.Frames())
	}

	_, err = f.e.Export(context.Background(), f.root, timebase.Range{Start: 50, End: 50}, quality.High, sink)
	if !errors.Is(err, ErrEmptyRange) {
		t.Errorf("expected ErrEmptyRange, got %v", err)
	}
}

func TestFailuresDegrade(t *testing.T) {
	f := newFixture(t, "missing.png")
	for i := 0; i < 3; i++ {
		h := f.e.GetFrame(f.root, timebase.Tick(i*100), quality.High)
		fr := waitFrame(t, h)
		if !fr.Placeholder {
			t.Errorf("frame %d should be a placeholder", i)
		}
		h.Release()
	}
	if !f.e.Degraded() {
		t.Errorf("engine should be degraded after 3 failures")
	}
	if f.e.Cache().Stats().Entries != 0 {
		t.Errorf("placeholders must not be cached")
	}
}
