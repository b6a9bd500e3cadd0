package project

import (
	"sort"

	"github.com/ivlev/timeline/internal/keyframe"
	"github.com/ivlev/timeline/internal/timebase"
)

// Clip places a span of media on a track. Keyframe times are relative
// to Start.
type Clip struct {
	ID       ClipID
	Media    MediaRef
	Start    timebase.Tick
	Duration timebase.Tick
	SourceIn timebase.Tick
	FadeIn   Fade
	FadeOut  Fade
	Muted    bool
	Blend    BlendMode
	Keys     map[Property]*keyframe.Track
}

// End is the first tick after the clip.
func (c *Clip) End() timebase.Tick {
	return c.Start + c.Duration
}

func (c *Clip) Range() timebase.Range {
	return timebase.Span(c.Start, c.Duration)
}

// Clone returns a deep copy.
func (c *Clip) Clone() Clip {
	out := *c
	out.Keys = make(map[Property]*keyframe.Track, len(c.Keys))
	for p, tr := range c.Keys {
		out.Keys[p] = tr.Clone()
	}
	return out
}

// Value evaluates p at clip-local time local.
func (c *Clip) Value(p Property, local timebase.Tick) float64 {
	if v, ok := c.Keys[p].Evaluate(local); ok {
		return v
	}
	return p.Default()
}

// FadeGain is the combined fade multiplier at clip-local time local.
func (c *Clip) FadeGain(local timebase.Tick) float64 {
	return c.FadeIn.Gain(local) * c.FadeOut.Gain(c.Duration-local)
}

// properties lists the keyed and default properties for the clip, sorted.
func (c *Clip) properties() []Property {
	base := visualProperties
	if c.Media.Kind == MediaAudio {
		base = audioProperties
	} else if c.Media.Kind == MediaComposition {
		base = append(append([]Property{}, visualProperties...), audioProperties...)
	}
	seen := make(map[Property]bool, len(base)+len(c.Keys))
	out := make([]Property, 0, len(base)+len(c.Keys))
	for _, p := range base {
		seen[p] = true
		out = append(out, p)
	}
	for p := range c.Keys {
		if !seen[p] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Clip) validate() error {
	if c.Duration <= 0 {
		return ErrInvalidDuration
	}
	if c.Start < 0 || c.SourceIn < 0 {
		return ErrInvalidPosition
	}
	if !c.FadeIn.valid() || !c.FadeOut.valid() {
		return ErrInvalidDuration
	}
	for _, tr := range c.Keys {
		if err := tr.Validate(); err != nil {
			return err
		}
	}
	return nil
}
