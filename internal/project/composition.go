package project

import (
	"sort"

	"github.com/ivlev/timeline/internal/timebase"
)

// Composition is a timeline: video tracks bottom to top, then audio and
// bus tracks.
type Composition struct {
	ID          CompositionID
	Name        string
	VideoTracks []*Track
	AudioTracks []*Track
	Transform   Transform
	LOD         LOD

	children map[CompositionID]int
}

func (c *Composition) tracks() []*Track {
	out := make([]*Track, 0, len(c.VideoTracks)+len(c.AudioTracks))
	out = append(out, c.VideoTracks...)
	return append(out, c.AudioTracks...)
}

// Nested returns the ids of compositions referenced by clips, sorted.
func (c *Composition) Nested() []CompositionID {
	out := make([]CompositionID, 0, len(c.children))
	for id := range c.children {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Duration is the end of the last clip.
func (c *Composition) Duration() timebase.Tick {
	var end timebase.Tick
	for _, t := range c.tracks() {
		for _, cl := range t.clips {
			end = max(end, cl.End())
		}
	}
	return end
}

func (c *Composition) track(id TrackID) *Track {
	for _, t := range c.tracks() {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (c *Composition) relayer() {
	for i, t := range c.VideoTracks {
		t.Layer = i
	}
	for i, t := range c.AudioTracks {
		t.Layer = i
	}
}
