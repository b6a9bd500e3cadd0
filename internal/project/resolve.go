package project

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/image/math/f64"

	"github.com/ivlev/timeline/internal/keyframe"
	"github.com/ivlev/timeline/internal/timebase"
)

// Crop trims each edge of the source by a fraction of its size.
type Crop struct {
	Left, Top, Right, Bottom float64
}

func (c Crop) IsZero() bool {
	return c == Crop{}
}

// Layer is one leaf clip active at the resolved time, with its
// properties already evaluated and every enclosing composition folded
// in. Layers are immutable once returned.
type Layer struct {
	Clip        ClipID
	Track       TrackID
	Composition CompositionID
	Depth       int

	Media MediaRef
	// Time is the position inside the media.
	Time  timebase.Tick
	Props map[Property]float64

	Opacity float64
	Gain    float64
	Pan     float64
	Blend   BlendMode
	Crop    Crop
	// Chain lists transforms outermost first.
	Chain []Transform
}

// Visual reports whether the layer draws pixels.
func (l *Layer) Visual() bool {
	return l.Media.Kind.Visual()
}

// Affine composes Chain for a w×h frame rendered at unit times full
// resolution.
func (l *Layer) Affine(w, h, unit float64) f64.Aff3 {
	m := Identity().Affine(w, h, unit)
	for _, tr := range l.Chain {
		m = MulAffine(m, tr.Affine(w, h, unit))
	}
	return m
}

type want uint8

const (
	wantVideo want = 1 << iota
	wantAudio
	wantAll = wantVideo | wantAudio
)

type pending struct {
	clip   *Clip
	track  *Track
	comp   *Composition
	parent int
	depth  int
	local  timebase.Tick
	gain   float64
	slots  map[Property]int
}

// Resolve returns the layers visible or audible at t in composition id,
// bottom to top.
func (p *Project) Resolve(id CompositionID, t timebase.Tick) ([]Layer, error) {
	pend, err := p.collectRoot(id, t)
	if err != nil {
		return nil, err
	}
	return p.build(pend, func(i int, prop Property) float64 {
		return pend[i].clip.Value(prop, pend[i].local)
	}), nil
}

var batches = sync.Pool{New: func() any { return new(keyframe.Batch) }}

// ResolveBatch is Resolve with every keyed property evaluated in one
// batch by ev.
func (p *Project) ResolveBatch(ctx context.Context, id CompositionID, t timebase.Tick, ev keyframe.Evaluator) ([]Layer, error) {
	pend, err := p.collectRoot(id, t)
	if err != nil {
		return nil, err
	}
	b := batches.Get().(*keyframe.Batch)
	defer func() {
		b.Reset()
		batches.Put(b)
	}()
	for i := range pend {
		pd := &pend[i]
		props := make([]Property, 0, len(pd.clip.Keys))
		for prop, tr := range pd.clip.Keys {
			if tr.Len() > 0 {
				props = append(props, prop)
			}
		}
		sort.Slice(props, func(a, b int) bool { return props[a] < props[b] })
		pd.slots = make(map[Property]int, len(props))
		for _, prop := range props {
			pd.slots[prop] = b.Add(pd.clip.Keys[prop], t-pd.local)
		}
	}
	out := make([]float64, b.Len())
	if b.Len() > 0 {
		if err := ev.Interpolate(ctx, b, t, out); err != nil {
			return nil, fmt.Errorf("interpolate %d properties: %w", b.Len(), err)
		}
	}
	return p.build(pend, func(i int, prop Property) float64 {
		if s, ok := pend[i].slots[prop]; ok {
			return out[s]
		}
		return prop.Default()
	}), nil
}

func (p *Project) collectRoot(id CompositionID, t timebase.Tick) ([]pending, error) {
	c, err := p.comp(id)
	if err != nil {
		return nil, err
	}
	var pend []pending
	p.collect(c, t, -1, 0, c.LOD.MaxNestingDepth, wantAll, &pend)
	return pend, nil
}

func (p *Project) collect(c *Composition, t timebase.Tick, parent, depth, limit int, w want, out *[]pending) {
	if w&wantVideo != 0 {
		for _, tr := range c.VideoTracks {
			if tr.Muted {
				continue
			}
			for _, cl := range tr.at(t) {
				p.visit(c, tr, cl, t, parent, depth, limit, wantVideo, 1, out)
			}
		}
	}
	if w&wantAudio != 0 {
		for _, tr := range c.AudioTracks {
			if tr.Kind == BusTrack || tr.Muted {
				continue
			}
			gain := tr.Gain
			if tr.Bus != 0 {
				if bus := c.track(tr.Bus); bus != nil {
					if bus.Muted {
						continue
					}
					gain *= bus.Gain
				}
			}
			for _, cl := range tr.at(t) {
				p.visit(c, tr, cl, t, parent, depth, limit, wantAudio, gain, out)
			}
		}
	}
}

func (p *Project) visit(c *Composition, tr *Track, cl *Clip, t timebase.Tick, parent, depth, limit int, w want, gain float64, out *[]pending) {
	if cl.Muted {
		return
	}
	local := t - cl.Start
	*out = append(*out, pending{clip: cl, track: tr, comp: c, parent: parent, depth: depth, local: local, gain: gain})
	if cl.Media.Kind != MediaComposition {
		return
	}
	child, ok := p.comps[cl.Media.Composition]
	if !ok {
		return
	}
	if depth+1 > limit {
		p.log.Debug("nesting depth exceeded", "clip", cl.ID, "depth", depth+1, "limit", limit)
		return
	}
	p.collect(child, local+cl.SourceIn, len(*out)-1, depth+1, limit, w, out)
}

type accum struct {
	opacity float64
	gain    float64
	pan     float64
	chain   []Transform
}

func (p *Project) build(pend []pending, value func(i int, prop Property) float64) []Layer {
	acc := make([]accum, len(pend))
	var layers []Layer
	for i, pd := range pend {
		val := func(prop Property) float64 { return value(i, prop) }
		fade := pd.clip.FadeGain(pd.local)
		own := Transform{
			X: val(PositionX), Y: val(PositionY),
			ScaleX: val(ScaleX), ScaleY: val(ScaleY),
			Rotation: val(Rotation),
			Opacity:  val(Opacity),
		}

		base := accum{opacity: 1, gain: 1}
		if pd.parent >= 0 {
			pa := acc[pd.parent]
			base.opacity = pa.opacity * pd.comp.Transform.Opacity
			base.gain = pa.gain
			base.pan = pa.pan
			base.chain = make([]Transform, 0, len(pa.chain)+2)
			base.chain = append(base.chain, pa.chain...)
			base.chain = append(base.chain, pd.comp.Transform)
		}
		a := accum{
			opacity: clamp(base.opacity*own.Opacity*fade, 0, 1),
			gain:    max(base.gain*pd.gain*val(Volume)*fade, 0),
			pan:     clamp(base.pan+val(Pan), -1, 1),
			chain:   append(base.chain, own),
		}
		acc[i] = a
		if pd.clip.Media.Kind == MediaComposition {
			continue
		}

		props := make(map[Property]float64)
		for _, prop := range pd.clip.properties() {
			props[prop] = val(prop)
		}
		l := Layer{
			Clip:        pd.clip.ID,
			Track:       pd.track.ID,
			Composition: pd.comp.ID,
			Depth:       pd.depth,
			Media:       pd.clip.Media,
			Time:        pd.local + pd.clip.SourceIn,
			Props:       props,
			Opacity:     a.opacity,
			Gain:        a.gain,
			Pan:         a.pan,
			Blend:       pd.clip.Blend,
			Chain:       a.chain,
		}
		if l.Visual() {
			l.Crop = Crop{
				Left: clamp(val(CropLeft), 0, 1), Top: clamp(val(CropTop), 0, 1),
				Right: clamp(val(CropRight), 0, 1), Bottom: clamp(val(CropBottom), 0, 1),
			}
			l.Gain, l.Pan = 0, 0
		} else {
			l.Opacity, l.Chain = 0, nil
		}
		layers = append(layers, l)
	}
	return layers
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
