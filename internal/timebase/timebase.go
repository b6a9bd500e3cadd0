// Package timebase defines the discrete project time unit.
//
// All positions and durations in a project are expressed in ticks, an
// integer unit whose rate (ticks per second) is fixed per project.
// Floating seconds only appear at the edges (UI, ffmpeg arguments).
package timebase

import (
	"fmt"
	"math"
)

// Tick is a point or a span on the project timeline.
type Tick int64

// DefaultRate matches millisecond resolution.
const DefaultRate = 1000

// Range is the half-open interval [Start, End).
type Range struct {
	Start Tick
	End   Tick
}

// Span builds a range from a start and a length.
func Span(start, length Tick) Range {
	return Range{Start: start, End: start + length}
}

func (r Range) Len() Tick {
	return r.End - r.Start
}

func (r Range) Empty() bool {
	return r.End <= r.Start
}

func (r Range) Contains(t Tick) bool {
	return t >= r.Start && t < r.End
}

// Overlaps reports whether the two ranges share at least one tick.
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// Intersect returns the common part of both ranges, possibly empty.
func (r Range) Intersect(o Range) Range {
	return Range{Start: max(r.Start, o.Start), End: min(r.End, o.End)}
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Seconds converts ticks to seconds for the given rate.
func Seconds(t Tick, rate int64) float64 {
	if rate <= 0 {
		rate = DefaultRate
	}
	return float64(t) / float64(rate)
}

// FromSeconds converts seconds to the nearest tick.
func FromSeconds(s float64, rate int64) Tick {
	if rate <= 0 {
		rate = DefaultRate
	}
	return Tick(math.Round(s * float64(rate)))
}

// FrameTicks returns the length of one frame in ticks, never less than one.
func FrameTicks(fps int, rate int64) Tick {
	if fps <= 0 {
		fps = 30
	}
	if rate <= 0 {
		rate = DefaultRate
	}
	d := Tick(math.Round(float64(rate) / float64(fps)))
	if d < 1 {
		d = 1
	}
	return d
}
