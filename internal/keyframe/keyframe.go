// Package keyframe models animated clip properties.
//
// A Track holds keys strictly ordered by time. Evaluation clamps outside
// the key range and interpolates inside it according to the kind stored
// on the left key of the bracketing pair.
package keyframe

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ivlev/timeline/internal/timebase"
)

// Interp selects how a segment starting at a key is interpolated.
type Interp uint8

const (
	Linear Interp = iota
	Hold
	Bezier
)

func (k Interp) String() string {
	switch k {
	case Hold:
		return "hold"
	case Bezier:
		return "bezier"
	default:
		return "linear"
	}
}

// ParseInterp accepts "hold", "linear" and "bezier" (case-insensitive).
// An empty string means linear.
func ParseInterp(s string) (Interp, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "linear":
		return Linear, nil
	case "hold", "step":
		return Hold, nil
	case "bezier":
		return Bezier, nil
	default:
		return Linear, fmt.Errorf("unknown interpolation %q", s)
	}
}

func (k Interp) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Interp) UnmarshalText(b []byte) error {
	v, err := ParseInterp(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Handle is a Bezier control point expressed as an offset from its key.
// DT is in ticks and may be fractional. A zero DT means one third of
// the segment.
type Handle struct {
	DT float64 `yaml:"dt"`
	DV float64 `yaml:"dv"`
}

// Key is one keyed value.
type Key struct {
	Time   timebase.Tick `yaml:"time"`
	Value  float64       `yaml:"value"`
	Interp Interp        `yaml:"interp"`
	In     Handle        `yaml:"in,omitempty"`
	Out    Handle        `yaml:"out,omitempty"`
}

var ErrUnordered = errors.New("keyframe: keys are not strictly ordered by time")

// Track is the key sequence of one property of one clip.
type Track struct {
	Keys []Key
}

// New builds a track from keys in any order. Later keys win on equal times.
func New(keys ...Key) *Track {
	tr := &Track{}
	for _, k := range keys {
		tr.Set(k)
	}
	return tr
}

func (tr *Track) Len() int {
	if tr == nil {
		return 0
	}
	return len(tr.Keys)
}

// Set inserts k, replacing an existing key at the same time.
func (tr *Track) Set(k Key) {
	i := sort.Search(len(tr.Keys), func(i int) bool { return tr.Keys[i].Time >= k.Time })
	if i < len(tr.Keys) && tr.Keys[i].Time == k.Time {
		tr.Keys[i] = k
		return
	}
	tr.Keys = append(tr.Keys, Key{})
	copy(tr.Keys[i+1:], tr.Keys[i:])
	tr.Keys[i] = k
}

// Remove deletes the key at t and reports whether one existed.
func (tr *Track) Remove(t timebase.Tick) bool {
	if tr == nil {
		return false
	}
	i := sort.Search(len(tr.Keys), func(i int) bool { return tr.Keys[i].Time >= t })
	if i == len(tr.Keys) || tr.Keys[i].Time != t {
		return false
	}
	tr.Keys = append(tr.Keys[:i], tr.Keys[i+1:]...)
	return true
}

// Validate checks the ordering invariant.
func (tr *Track) Validate() error {
	for i := 1; i < len(tr.Keys); i++ {
		if tr.Keys[i].Time <= tr.Keys[i-1].Time {
			return fmt.Errorf("%w: key %d at %d after %d", ErrUnordered, i, tr.Keys[i].Time, tr.Keys[i-1].Time)
		}
	}
	return nil
}

// Evaluate returns the value at t. The boolean is false only when the
// track has no keys.
func (tr *Track) Evaluate(t timebase.Tick) (float64, bool) {
	if tr.Len() == 0 {
		return 0, false
	}
	keys := tr.Keys
	n := len(keys)
	if t <= keys[0].Time {
		return keys[0].Value, true
	}
	if t >= keys[n-1].Time {
		return keys[n-1].Value, true
	}
	i := sort.Search(n, func(i int) bool { return keys[i].Time > t }) - 1
	a, b := keys[i], keys[i+1]
	return segment(a.Interp,
		float64(a.Time), a.Value, float64(b.Time), b.Value,
		a.Out.DT, a.Out.DV, b.In.DT, b.In.DV,
		float64(t)), true
}

// Clone returns a deep copy.
func (tr *Track) Clone() *Track {
	if tr == nil {
		return nil
	}
	out := &Track{Keys: make([]Key, len(tr.Keys))}
	copy(out.Keys, tr.Keys)
	return out
}

// Shift moves every key by d ticks.
func (tr *Track) Shift(d timebase.Tick) {
	for i := range tr.Keys {
		tr.Keys[i].Time += d
	}
}

// Trim returns the part of the track inside r, rebased so that r.Start
// becomes time zero. Keys outside r are dropped and keys are inserted at
// both boundaries so the curve inside r is unchanged.
func (tr *Track) Trim(r timebase.Range) *Track {
	out := tr.Clone()
	if out.Len() == 0 {
		return &Track{}
	}
	out.splitAt(r.Start)
	out.splitAt(r.End)

	kept := out.Keys[:0]
	for _, k := range out.Keys {
		if k.Time >= r.Start && k.Time <= r.End {
			kept = append(kept, k)
		}
	}
	out.Keys = kept
	out.Shift(-r.Start)
	return out
}

// splitAt inserts a key at t that leaves the evaluated curve unchanged.
func (tr *Track) splitAt(t timebase.Tick) {
	keys := tr.Keys
	n := len(keys)
	i := sort.Search(n, func(i int) bool { return keys[i].Time > t }) - 1
	if i >= 0 && keys[i].Time == t {
		return
	}
	v, _ := tr.Evaluate(t)
	if i < 0 || i == n-1 {
		tr.Set(Key{Time: t, Value: v, Interp: Linear})
		return
	}

	a, b := &tr.Keys[i], &tr.Keys[i+1]
	mid := Key{Time: t, Value: v, Interp: a.Interp}
	if a.Interp == Bezier {
		splitBezier(a, &mid, b)
	}
	tr.Set(mid)
}
