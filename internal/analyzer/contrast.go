package analyzer

import (
	"image"
	"math"
	"runtime"
	"sync"

	"golang.org/x/image/draw"
)

// ContrastDetector finds blocks by Sobel edges joined with a dilation and
// split into connected components.
type ContrastDetector struct {
	MinBlockArea  int     // in source pixels²
	EdgeThreshold float64 // gradient magnitude
	// MaxSide bounds the analysis size; larger images are downscaled and
	// rects are mapped back.
	MaxSide    int
	Radius     int
	Iterations int
}

func NewContrastDetector() *ContrastDetector {
	return &ContrastDetector{
		MinBlockArea:  500,
		EdgeThreshold: 30,
		MaxSide:       1024,
		Radius:        2,
		Iterations:    2,
	}
}

func (d *ContrastDetector) Detect(img image.Image) ([]Block, error) {
	src := img.Bounds()
	if src.Empty() {
		return nil, ErrEmptyImage
	}
	w, h := src.Dx(), src.Dy()
	scale := 1.0
	if m := max(w, h); d.MaxSide > 0 && m > d.MaxSide {
		scale = float64(d.MaxSide) / float64(m)
		w = max(1, int(math.Round(float64(w)*scale)))
		h = max(1, int(math.Round(float64(h)*scale)))
	}
	gray := image.NewGray(image.Rect(0, 0, w, h))
	if scale == 1 {
		draw.Draw(gray, gray.Bounds(), img, src.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, src, draw.Src, nil)
	}

	edges := sobel(gray, d.EdgeThreshold)
	mask := edges
	for i := 0; i < d.Iterations; i++ {
		mask = dilate(mask, w, h, d.Radius)
	}

	minArea := float64(d.MinBlockArea) * scale * scale
	var blocks []Block
	for _, r := range components(mask, w) {
		area := r.Dx() * r.Dy()
		if float64(area) < minArea {
			continue
		}
		blocks = append(blocks, Block{
			Rect:    unscale(r, scale).Add(src.Min).Intersect(src),
			Density: float64(countIn(edges, w, r)) / float64(area),
		})
	}
	return blocks, nil
}

// sobel marks pixels whose gradient magnitude exceeds threshold. Rows are
// computed in parallel bands.
func sobel(g *image.Gray, threshold float64) []bool {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := make([]bool, w*h)
	if w < 3 || h < 3 {
		return out
	}
	px := func(x, y int) float64 { return float64(g.Pix[y*g.Stride+x]) }
	t2 := threshold * threshold

	bands := min(runtime.NumCPU(), h-2)
	step := (h - 2 + bands - 1) / bands
	var wg sync.WaitGroup
	for y0 := 1; y0 < h-1; y0 += step {
		y1 := min(y0+step, h-1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y := y0; y < y1; y++ {
				for x := 1; x < w-1; x++ {
					gx := -px(x-1, y-1) + px(x+1, y-1) -
						2*px(x-1, y) + 2*px(x+1, y) -
						px(x-1, y+1) + px(x+1, y+1)
					gy := -px(x-1, y-1) - 2*px(x, y-1) - px(x+1, y-1) +
						px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1)
					out[y*w+x] = gx*gx+gy*gy > t2
				}
			}
		}()
	}
	wg.Wait()
	return out
}

// dilate is a square max filter of the given radius, done as a row pass
// and a column pass.
func dilate(m []bool, w, h, r int) []bool {
	if r <= 0 {
		return m
	}
	rows := make([]bool, len(m))
	for y := 0; y < h; y++ {
		row, dst := m[y*w:(y+1)*w], rows[y*w:(y+1)*w]
		last, next := -r-1, w+r+1
		for x := 0; x < w; x++ {
			if row[x] {
				last = x
			}
			if x-last <= r {
				dst[x] = true
			}
		}
		for x := w - 1; x >= 0; x-- {
			if row[x] {
				next = x
			}
			if next-x <= r {
				dst[x] = true
			}
		}
	}
	out := make([]bool, len(m))
	for x := 0; x < w; x++ {
		last, next := -r-1, h+r+1
		for y := 0; y < h; y++ {
			if rows[y*w+x] {
				last = y
			}
			if y-last <= r {
				out[y*w+x] = true
			}
		}
		for y := h - 1; y >= 0; y-- {
			if rows[y*w+x] {
				next = y
			}
			if next-y <= r {
				out[y*w+x] = true
			}
		}
	}
	return out
}

// components returns the bounding boxes of 4-connected regions of m.
func components(m []bool, w int) []image.Rectangle {
	seen := make([]bool, len(m))
	var out []image.Rectangle
	var stack []int
	for i, on := range m {
		if !on || seen[i] {
			continue
		}
		r := image.Rect(i%w, i/w, i%w+1, i/w+1)
		seen[i] = true
		stack = append(stack[:0], i)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := p%w, p/w
			r = r.Union(image.Rect(x, y, x+1, y+1))
			for _, n := range [4]int{p - 1, p + 1, p - w, p + w} {
				switch {
				case n < 0 || n >= len(m):
					continue
				case (n == p-1 && x == 0) || (n == p+1 && x == w-1):
					continue
				}
				if m[n] && !seen[n] {
					seen[n] = true
					stack = append(stack, n)
				}
			}
		}
		out = append(out, r)
	}
	return out
}

func countIn(m []bool, w int, r image.Rectangle) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if m[y*w+x] {
				n++
			}
		}
	}
	return n
}

func unscale(r image.Rectangle, scale float64) image.Rectangle {
	if scale == 1 {
		return r
	}
	f := func(v int) int { return int(math.Round(float64(v) / scale)) }
	return image.Rect(f(r.Min.X), f(r.Min.Y), f(r.Max.X), f(r.Max.Y))
}
