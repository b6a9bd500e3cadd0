package scenario

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/ivlev/timeline/internal/analyzer"
	"github.com/ivlev/timeline/internal/media"
	"github.com/ivlev/timeline/internal/project"
	"github.com/ivlev/timeline/internal/timebase"
)

// Director plans camera moves over the blocks of a still.
type Director struct {
	Width, Height int
	MinDwell      float64 // seconds per block
	MaxDwell      float64
	MaxZoom       float64
	// Padding is the share of the frame a focused block may fill.
	Padding float64
}

func NewDirector(width, height int) *Director {
	return &Director{
		Width:    width,
		Height:   height,
		MinDwell: 1.0,
		MaxDwell: 3.0,
		MaxZoom:  3.0,
		Padding:  0.9,
	}
}

// Plan returns camera keys for a clip of duration seconds. Blocks are in
// frame coordinates. The path opens and closes on the full view; blocks
// that do not fit at MinDwell are dropped, least dense first.
func (d *Director) Plan(blocks []Block, duration float64) []CameraKey {
	if len(blocks) == 0 || duration <= 0 {
		return nil
	}
	hold := math.Min(1.0, duration/4)
	available := duration - 2*hold

	if d.MinDwell > 0 {
		limit := int(available / d.MinDwell)
		if limit <= 0 {
			return nil
		}
		if len(blocks) > limit {
			blocks = densest(blocks, limit)
		}
	}
	blocks = readingOrder(blocks)
	dwell := math.Min(available/float64(len(blocks)), d.MaxDwell)

	keys := []CameraKey{d.fullView(0)}
	at := hold
	for i, b := range blocks {
		keys = append(keys, CameraKey{
			Time:  at,
			Focus: fmt.Sprintf("region_%d", i+1),
			Rect:  Rectangle{X: b.Rect.Min.X, Y: b.Rect.Min.Y, W: b.Rect.Dx(), H: b.Rect.Dy()},
			Zoom:  d.zoom(b.Rect),
		})
		at += dwell
	}
	return append(keys, d.fullView(at))
}

func (d *Director) fullView(at float64) CameraKey {
	return CameraKey{
		Time:  at,
		Focus: "full_view",
		Rect:  Rectangle{W: d.Width, H: d.Height},
		Zoom:  1,
	}
}

// zoom fits r into the padded frame, clamped to [1, MaxZoom].
func (d *Director) zoom(r image.Rectangle) float64 {
	if r.Dx() == 0 || r.Dy() == 0 {
		return 1
	}
	z := math.Min(
		float64(d.Width)*d.Padding/float64(r.Dx()),
		float64(d.Height)*d.Padding/float64(r.Dy()),
	)
	return math.Max(1, math.Min(z, d.MaxZoom))
}

// Block is a detected region mapped into the output frame.
type Block = analyzer.Block

// readingOrder sorts top to bottom, then left to right within a 20px row.
func readingOrder(blocks []Block) []Block {
	out := append([]Block(nil), blocks...)
	sort.SliceStable(out, func(i, j int) bool {
		dy := out[i].Rect.Min.Y - out[j].Rect.Min.Y
		if dy > 20 || dy < -20 {
			return dy < 0
		}
		return out[i].Rect.Min.X < out[j].Rect.Min.X
	})
	return out
}

func densest(blocks []Block, n int) []Block {
	out := append([]Block(nil), blocks...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Density*float64(out[i].Area()) > out[j].Density*float64(out[j].Area())
	})
	return out[:n]
}

// FitBlocks maps blocks from src image coordinates into a width x height
// frame the image is contain-fitted and centred in.
func FitBlocks(blocks []Block, src image.Rectangle, width, height int) []Block {
	if src.Empty() {
		return nil
	}
	s := math.Min(float64(width)/float64(src.Dx()), float64(height)/float64(src.Dy()))
	ox := (float64(width) - s*float64(src.Dx())) / 2
	oy := (float64(height) - s*float64(src.Dy())) / 2
	px := func(v, base int, o float64) int { return int(math.Round(o + s*float64(v-base))) }

	out := make([]Block, len(blocks))
	for i, b := range blocks {
		out[i] = Block{
			Rect: image.Rect(
				px(b.Rect.Min.X, src.Min.X, ox), px(b.Rect.Min.Y, src.Min.Y, oy),
				px(b.Rect.Max.X, src.Min.X, ox), px(b.Rect.Max.Y, src.Min.Y, oy),
			),
			Density: b.Density,
		}
	}
	return out
}

// Camera makes slideshow clips follow the content of their slide.
type Camera struct {
	Decoder  media.Decoder
	Detector analyzer.Detector
	Director *Director
	Rate     int64
}

// Plan decodes the slide, detects its blocks and plans a path over them.
// A nil path means the slide has nothing to focus on.
func (c *Camera) Plan(ctx context.Context, s Slide, duration float64) ([]CameraKey, error) {
	kind, err := project.ParseMediaKind(s.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	ref := project.MediaRef{Kind: kind, Path: s.Media}
	img, err := c.Decoder.DecodeFrame(ctx, ref, timebase.FromSeconds(s.SourceIn, c.Rate))
	if err != nil {
		return nil, err
	}
	blocks, err := c.Detector.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detect %s: %w", s.Media, err)
	}
	fitted := FitBlocks(blocks, img.Bounds(), c.Director.Width, c.Director.Height)
	return c.Director.Plan(fitted, duration), nil
}
