// Package quality maps a preview quality tier and zoom level to filtering
// and update decisions.
package quality

import (
	"fmt"
	"image"
	"math"
	"strings"
	"sync/atomic"

	"golang.org/x/image/draw"
)

type Tier uint8

const (
	Low Tier = iota
	Medium
	High
)

func (t Tier) String() string {
	switch t {
	case Low:
		return "low"
	case Medium:
		return "medium"
	default:
		return "high"
	}
}

func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(s) {
	case "low", "proxy":
		return Low, nil
	case "medium", "med":
		return Medium, nil
	case "", "high", "full":
		return High, nil
	}
	return High, fmt.Errorf("unknown quality tier %q", s)
}

// ResolutionScale is the fraction of output resolution rendered at t.
func (t Tier) ResolutionScale() float64 {
	switch t {
	case Low:
		return 0.25
	case Medium:
		return 0.5
	default:
		return 1
	}
}

// Size scales an output size to the tier, never below 1×1.
func (t Tier) Size(w, h int) (int, int) {
	s := t.ResolutionScale()
	return max(1, int(math.Round(float64(w)*s))), max(1, int(math.Round(float64(h)*s)))
}

type Filter uint8

const (
	Nearest Filter = iota
	Bilinear
	Bicubic
)

func (f Filter) String() string {
	return [...]string{"nearest", "bilinear", "bicubic"}[f]
}

// Interpolator returns the x/image/draw kernel for the filter.
func (f Filter) Interpolator() draw.Interpolator {
	switch f {
	case Nearest:
		return draw.NearestNeighbor
	case Bilinear:
		return draw.BiLinear
	default:
		return draw.CatmullRom
	}
}

// TileUpdate says how much of a frame a viewport change re-renders.
type TileUpdate uint8

const (
	Full TileUpdate = iota
	Partial
)

func (u TileUpdate) String() string {
	if u == Partial {
		return "partial"
	}
	return "full"
}

const maxMipLevels = 8

type Policy struct {
	Tier      Tier
	Filter    Filter
	MipLevels int
	Update    TileUpdate
}

// Manager holds the active tier. Safe for concurrent use.
type Manager struct {
	tier atomic.Uint32
}

func NewManager(t Tier) *Manager {
	m := &Manager{}
	m.SetTier(t)
	return m
}

func (m *Manager) SetTier(t Tier) {
	m.tier.Store(uint32(t))
}

func (m *Manager) Tier() Tier {
	return Tier(m.tier.Load())
}

// Policy is PolicyFor with the active tier.
func (m *Manager) Policy(zoom float64) Policy {
	return PolicyFor(m.Tier(), zoom)
}

// PolicyFor derives filtering for tier at zoom. Zoom below 1 shrinks the
// image; a mip level is added for every halving.
func PolicyFor(t Tier, zoom float64) Policy {
	p := Policy{Tier: t, MipLevels: 1, Update: Full}
	if zoom <= 0 || math.IsNaN(zoom) {
		zoom = 1
	}
	if zoom < 1 {
		switch t {
		case High:
			p.Filter = Bicubic
		case Medium:
			p.Filter = Bilinear
		default:
			p.Filter = Nearest
		}
		p.MipLevels = min(1+int(math.Floor(math.Log2(1/zoom))), maxMipLevels)
	} else {
		p.Filter = Bilinear
		if t == Low {
			p.Filter = Nearest
		}
	}
	if zoom > 1 && t != Low {
		p.Update = Partial
	}
	return p
}

// Scale draws src into dr of dst. Large reductions go through up to
// MipLevels-1 cheap halvings first.
func Scale(dst draw.Image, dr image.Rectangle, src image.Image, p Policy) {
	sr := src.Bounds()
	for level := 1; level < p.MipLevels; level++ {
		hw, hh := sr.Dx()/2, sr.Dy()/2
		if hw < dr.Dx() || hh < dr.Dy() || hw == 0 || hh == 0 {
			break
		}
		half := image.NewRGBA(image.Rect(0, 0, hw, hh))
		draw.ApproxBiLinear.Scale(half, half.Bounds(), src, sr, draw.Src, nil)
		src, sr = half, half.Bounds()
	}
	p.Filter.Interpolator().Scale(dst, dr, src, sr, draw.Src, nil)
}
