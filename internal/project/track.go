package project

import (
	"fmt"
	"sort"

	"github.com/ivlev/timeline/internal/spatial"
	"github.com/ivlev/timeline/internal/timebase"
)

// Track is an ordered layer of clips. Later clips draw on top of earlier
// ones. The spatial index always holds exactly the clips in the list.
type Track struct {
	ID     TrackID
	Kind   TrackKind
	Name   string
	Layer  int
	Muted  bool
	Locked bool
	Gain   float64
	Bus    TrackID

	clips []*Clip
	slot  map[ClipID]int // stacking position in clips
	index *spatial.Index
}

func newTrack(id TrackID, kind TrackKind, name string, threshold int) *Track {
	return &Track{
		ID: id, Kind: kind, Name: name, Gain: 1,
		slot:  make(map[ClipID]int),
		index: spatial.NewIndex(threshold),
	}
}

// Clips returns clip ids in stacking order.
func (t *Track) Clips() []ClipID {
	out := make([]ClipID, len(t.clips))
	for i, c := range t.clips {
		out[i] = c.ID
	}
	return out
}

func (t *Track) Len() int {
	return len(t.clips)
}

func (t *Track) position(id ClipID) int {
	if i, ok := t.slot[id]; ok {
		return i
	}
	return -1
}

func (t *Track) clip(id ClipID) *Clip {
	if i, ok := t.slot[id]; ok {
		return t.clips[i]
	}
	return nil
}

// insert places c at stacking position pos (-1 appends).
func (t *Track) insert(c *Clip, pos int) {
	if pos < 0 || pos >= len(t.clips) {
		pos = len(t.clips)
		t.clips = append(t.clips, c)
	} else {
		t.clips = append(t.clips, nil)
		copy(t.clips[pos+1:], t.clips[pos:])
		t.clips[pos] = c
	}
	t.renumber(pos)
	t.index.Insert(uint64(c.ID), c.Range())
}

func (t *Track) remove(id ClipID) *Clip {
	i := t.position(id)
	if i < 0 {
		return nil
	}
	c := t.clips[i]
	t.clips = append(t.clips[:i], t.clips[i+1:]...)
	delete(t.slot, id)
	t.renumber(i)
	t.index.Remove(uint64(id))
	return c
}

func (t *Track) renumber(from int) {
	for i := from; i < len(t.clips); i++ {
		t.slot[t.clips[i].ID] = i
	}
}

func (t *Track) reindex(c *Clip) {
	t.index.Update(uint64(c.ID), c.Range())
}

// at returns the visible clips at tick x in stacking order.
func (t *Track) at(x timebase.Tick) []*Clip {
	return t.matching(t.index.QueryPoint(x))
}

func (t *Track) inRange(r timebase.Range) []*Clip {
	return t.matching(t.index.QueryRange(r))
}

func (t *Track) matching(ids []uint64) []*Clip {
	if len(ids) == 0 {
		return nil
	}
	pos := make([]int, 0, len(ids))
	for _, id := range ids {
		if i, ok := t.slot[ClipID(id)]; ok {
			pos = append(pos, i)
		}
	}
	sort.Ints(pos)
	out := make([]*Clip, len(pos))
	for k, i := range pos {
		out[k] = t.clips[i]
	}
	return out
}

// checkIndex verifies the index against the clip list.
func (t *Track) checkIndex() error {
	if t.index.Len() != len(t.clips) {
		return fmt.Errorf("track %d: index has %d entries, list has %d", t.ID, t.index.Len(), len(t.clips))
	}
	if len(t.slot) != len(t.clips) {
		return fmt.Errorf("track %d: %d stacking slots for %d clips", t.ID, len(t.slot), len(t.clips))
	}
	for i, c := range t.clips {
		if t.slot[c.ID] != i {
			return fmt.Errorf("track %d: clip %d slotted at %d, listed at %d", t.ID, c.ID, t.slot[c.ID], i)
		}
		r, ok := t.index.Range(uint64(c.ID))
		if !ok || r != c.Range() {
			return fmt.Errorf("track %d: clip %d indexed as %v, is %v", t.ID, c.ID, r, c.Range())
		}
	}
	return nil
}
