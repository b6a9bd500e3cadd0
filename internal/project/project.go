// Package project holds the composition graph and its edit operations.
// A Project is owned by one goroutine; nothing here locks.
package project

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ivlev/timeline/internal/keyframe"
	"github.com/ivlev/timeline/internal/spatial"
	"github.com/ivlev/timeline/internal/timebase"
)

type Options struct {
	// RebuildThreshold is passed to each track's spatial index.
	RebuildThreshold int
	Logger           *slog.Logger
}

type trackLoc struct {
	comp  *Composition
	track *Track
}

type Project struct {
	comps   map[CompositionID]*Composition
	order   []CompositionID
	tracks  map[TrackID]trackLoc
	clips   map[ClipID]trackLoc
	parents map[CompositionID]map[CompositionID]int

	nextTrack TrackID
	nextClip  ClipID
	threshold int
	log       *slog.Logger

	listeners []func([]CompositionID)
}

func New(opts Options) *Project {
	if opts.RebuildThreshold <= 0 {
		opts.RebuildThreshold = spatial.DefaultRebuildThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Project{
		comps:     make(map[CompositionID]*Composition),
		tracks:    make(map[TrackID]trackLoc),
		clips:     make(map[ClipID]trackLoc),
		parents:   make(map[CompositionID]map[CompositionID]int),
		threshold: opts.RebuildThreshold,
		log:       opts.Logger.With("component", "project"),
	}
}

// OnChange registers fn to receive the affected composition and its
// ancestors after every successful edit.
func (p *Project) OnChange(fn func(ids []CompositionID)) {
	p.listeners = append(p.listeners, fn)
}

func (p *Project) notify(id CompositionID) {
	if len(p.listeners) == 0 {
		return
	}
	ids := append([]CompositionID{id}, p.Ancestors(id)...)
	for _, fn := range p.listeners {
		fn(ids)
	}
}

// --- compositions ---

func (p *Project) AddComposition(name string) CompositionID {
	c := &Composition{
		ID:        uuid.New(),
		Name:      name,
		Transform: Identity(),
		LOD:       DefaultLOD(),
		children:  make(map[CompositionID]int),
	}
	p.comps[c.ID] = c
	p.order = append(p.order, c.ID)
	p.log.Debug("composition added", "id", c.ID, "name", name)
	return c.ID
}

// RemoveComposition deletes a composition that no clip references.
func (p *Project) RemoveComposition(id CompositionID) error {
	c, err := p.comp(id)
	if err != nil {
		return err
	}
	if len(p.parents[id]) > 0 {
		return fmt.Errorf("remove composition %s: %w", id, ErrCompositionInUse)
	}
	for _, t := range c.tracks() {
		for _, cl := range t.clips {
			p.unlink(c, cl)
			delete(p.clips, cl.ID)
		}
		delete(p.tracks, t.ID)
	}
	delete(p.comps, id)
	delete(p.parents, id)
	for i, o := range p.order {
		if o == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.notify(id)
	return nil
}

// Composition returns the composition with the given id. The result must
// be treated as read-only; edit through Project methods.
func (p *Project) Composition(id CompositionID) (*Composition, error) {
	return p.comp(id)
}

// Compositions lists ids in creation order.
func (p *Project) Compositions() []CompositionID {
	return append([]CompositionID(nil), p.order...)
}

// Root is the first composition created.
func (p *Project) Root() (CompositionID, bool) {
	if len(p.order) == 0 {
		return uuid.Nil, false
	}
	return p.order[0], true
}

func (p *Project) SetCompositionTransform(id CompositionID, tr Transform) error {
	c, err := p.comp(id)
	if err != nil {
		return err
	}
	c.Transform = tr
	p.notify(id)
	return nil
}

func (p *Project) SetLOD(id CompositionID, lod LOD) error {
	c, err := p.comp(id)
	if err != nil {
		return err
	}
	if lod.ResolutionScale <= 0 || lod.ResolutionScale > 1 || lod.MaxNestingDepth < 0 {
		return fmt.Errorf("lod %+v: %w", lod, ErrInvalidPosition)
	}
	c.LOD = lod
	p.notify(id)
	return nil
}

func (p *Project) comp(id CompositionID) (*Composition, error) {
	c, ok := p.comps[id]
	if !ok {
		return nil, fmt.Errorf("composition %s: %w", id, ErrCompositionNotFound)
	}
	return c, nil
}

// --- tracks ---

// AddTrack appends a track on top of the composition's stack of that kind.
func (p *Project) AddTrack(id CompositionID, kind TrackKind, name string) (TrackID, error) {
	c, err := p.comp(id)
	if err != nil {
		return 0, err
	}
	p.nextTrack++
	t := newTrack(p.nextTrack, kind, name, p.threshold)
	if kind == VideoTrack {
		c.VideoTracks = append(c.VideoTracks, t)
	} else {
		c.AudioTracks = append(c.AudioTracks, t)
	}
	c.relayer()
	p.tracks[t.ID] = trackLoc{comp: c, track: t}
	p.notify(id)
	return t.ID, nil
}

// RemoveTrack deletes a track with its clips. Tracks routed to a removed
// bus fall back to the master output.
func (p *Project) RemoveTrack(id TrackID) error {
	loc, err := p.track(id)
	if err != nil {
		return err
	}
	c, t := loc.comp, loc.track
	for _, cl := range t.clips {
		p.unlink(c, cl)
		delete(p.clips, cl.ID)
	}
	c.VideoTracks = dropTrack(c.VideoTracks, id)
	c.AudioTracks = dropTrack(c.AudioTracks, id)
	for _, o := range c.AudioTracks {
		if o.Bus == id {
			o.Bus = 0
		}
	}
	c.relayer()
	delete(p.tracks, id)
	p.notify(c.ID)
	return nil
}

func dropTrack(ts []*Track, id TrackID) []*Track {
	for i, t := range ts {
		if t.ID == id {
			return append(ts[:i], ts[i+1:]...)
		}
	}
	return ts
}

func (p *Project) Track(id TrackID) (*Track, error) {
	loc, err := p.track(id)
	if err != nil {
		return nil, err
	}
	return loc.track, nil
}

func (p *Project) SetTrackMuted(id TrackID, muted bool) error {
	loc, err := p.track(id)
	if err != nil {
		return err
	}
	loc.track.Muted = muted
	p.notify(loc.comp.ID)
	return nil
}

func (p *Project) SetTrackLocked(id TrackID, locked bool) error {
	loc, err := p.track(id)
	if err != nil {
		return err
	}
	loc.track.Locked = locked
	return nil
}

// SetTrackGain sets the gain of an audio or bus track.
func (p *Project) SetTrackGain(id TrackID, gain float64) error {
	loc, err := p.track(id)
	if err != nil {
		return err
	}
	if loc.track.Kind == VideoTrack {
		return fmt.Errorf("gain on video track %d: %w", id, ErrTypeMismatch)
	}
	loc.track.Gain = gain
	p.notify(loc.comp.ID)
	return nil
}

// RouteToBus sends an audio track through a bus of the same composition.
// bus 0 routes back to the master output.
func (p *Project) RouteToBus(id, bus TrackID) error {
	loc, err := p.track(id)
	if err != nil {
		return err
	}
	if loc.track.Kind != AudioTrack {
		return fmt.Errorf("route track %d: %w", id, ErrTypeMismatch)
	}
	if bus != 0 {
		b, err := p.track(bus)
		if err != nil {
			return err
		}
		if b.track.Kind != BusTrack || b.comp != loc.comp {
			return fmt.Errorf("route track %d to %d: %w", id, bus, ErrTypeMismatch)
		}
	}
	loc.track.Bus = bus
	p.notify(loc.comp.ID)
	return nil
}

func (p *Project) track(id TrackID) (trackLoc, error) {
	loc, ok := p.tracks[id]
	if !ok {
		return trackLoc{}, fmt.Errorf("track %d: %w", id, ErrTrackNotFound)
	}
	return loc, nil
}

func (p *Project) editable(id TrackID) (trackLoc, error) {
	loc, err := p.track(id)
	if err != nil {
		return loc, err
	}
	if loc.track.Locked {
		return loc, fmt.Errorf("track %d: %w", id, ErrTrackLocked)
	}
	return loc, nil
}

// --- clips ---

// AddClip copies c onto a track and returns the new clip id. c.ID is
// ignored.
func (p *Project) AddClip(track TrackID, c Clip) (ClipID, error) {
	loc, err := p.editable(track)
	if err != nil {
		return 0, err
	}
	nc := c.Clone()
	if err := p.admit(loc, &nc); err != nil {
		return 0, err
	}
	p.nextClip++
	nc.ID = p.nextClip
	p.place(loc, &nc, -1)
	p.notify(loc.comp.ID)
	return nc.ID, nil
}

// admit checks that c may be placed on loc.
func (p *Project) admit(loc trackLoc, c *Clip) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("clip on track %d: %w", loc.track.ID, err)
	}
	if !loc.track.Kind.accepts(c.Media.Kind) {
		return fmt.Errorf("%s clip on %s track %d: %w", c.Media.Kind, loc.track.Kind, loc.track.ID, ErrTypeMismatch)
	}
	if c.Media.Kind == MediaComposition {
		if _, err := p.comp(c.Media.Composition); err != nil {
			return err
		}
		if p.reaches(c.Media.Composition, loc.comp.ID) {
			return fmt.Errorf("nest %s in %s: %w", c.Media.Composition, loc.comp.ID, ErrCyclicComposition)
		}
	}
	return nil
}

func (p *Project) place(loc trackLoc, c *Clip, pos int) {
	if c.Keys == nil {
		c.Keys = make(map[Property]*keyframe.Track)
	}
	loc.track.insert(c, pos)
	p.clips[c.ID] = loc
	if c.Media.Kind == MediaComposition {
		child := c.Media.Composition
		loc.comp.children[child]++
		if p.parents[child] == nil {
			p.parents[child] = make(map[CompositionID]int)
		}
		p.parents[child][loc.comp.ID]++
	}
}

// unlink drops the nesting edge held by cl.
func (p *Project) unlink(c *Composition, cl *Clip) {
	if cl.Media.Kind != MediaComposition {
		return
	}
	child := cl.Media.Composition
	if c.children[child]--; c.children[child] <= 0 {
		delete(c.children, child)
	}
	if ps := p.parents[child]; ps != nil {
		if ps[c.ID]--; ps[c.ID] <= 0 {
			delete(ps, c.ID)
		}
	}
}

func (p *Project) RemoveClip(id ClipID) error {
	loc, c, err := p.editableClip(id)
	if err != nil {
		return err
	}
	loc.track.remove(id)
	p.unlink(loc.comp, c)
	delete(p.clips, id)
	p.notify(loc.comp.ID)
	return nil
}

// MoveClip changes the start of a clip. Stacking order is kept.
func (p *Project) MoveClip(id ClipID, start timebase.Tick) error {
	loc, c, err := p.editableClip(id)
	if err != nil {
		return err
	}
	if start < 0 {
		return fmt.Errorf("move clip %d to %d: %w", id, start, ErrInvalidPosition)
	}
	c.Start = start
	loc.track.reindex(c)
	p.notify(loc.comp.ID)
	return nil
}

// SplitClip cuts a clip in two at global time at and returns the id of
// the right half, which is stacked directly above the left half.
func (p *Project) SplitClip(id ClipID, at timebase.Tick) (ClipID, error) {
	loc, c, err := p.editableClip(id)
	if err != nil {
		return 0, err
	}
	if at <= c.Start || at >= c.End() {
		return 0, fmt.Errorf("split clip %d %v at %d: %w", id, c.Range(), at, ErrInvalidSplit)
	}
	cut := at - c.Start

	right := c.Clone()
	p.nextClip++
	right.ID = p.nextClip
	right.Start = at
	right.Duration = c.Duration - cut
	right.SourceIn = c.SourceIn + cut
	right.FadeIn = c.FadeIn.shifted(cut)
	for prop, tr := range c.Keys {
		right.Keys[prop] = tr.Trim(timebase.Range{Start: cut, End: c.Duration})
		c.Keys[prop] = tr.Trim(timebase.Range{Start: 0, End: cut})
	}

	c.Duration = cut
	c.FadeOut = c.FadeOut.shifted(right.Duration)

	loc.track.reindex(c)
	p.place(loc, &right, loc.track.position(id)+1)
	p.notify(loc.comp.ID)
	return right.ID, nil
}

// TrimClipStart moves the in point to start, keeping the end fixed and
// the content under the remaining span in place.
func (p *Project) TrimClipStart(id ClipID, start timebase.Tick) error {
	loc, c, err := p.editableClip(id)
	if err != nil {
		return err
	}
	d := start - c.Start
	if start >= c.End() {
		return fmt.Errorf("trim clip %d start to %d: %w", id, start, ErrInvalidDuration)
	}
	if start < 0 || c.SourceIn+d < 0 {
		return fmt.Errorf("trim clip %d start to %d: %w", id, start, ErrInvalidPosition)
	}
	c.Start = start
	c.Duration -= d
	c.SourceIn += d
	for _, tr := range c.Keys {
		tr.Shift(-d)
	}
	c.FadeIn = c.FadeIn.fit(c.Duration)
	loc.track.reindex(c)
	p.notify(loc.comp.ID)
	return nil
}

// TrimClipEnd moves the out point to end.
func (p *Project) TrimClipEnd(id ClipID, end timebase.Tick) error {
	loc, c, err := p.editableClip(id)
	if err != nil {
		return err
	}
	if end <= c.Start {
		return fmt.Errorf("trim clip %d end to %d: %w", id, end, ErrInvalidDuration)
	}
	c.Duration = end - c.Start
	c.FadeOut = c.FadeOut.fit(c.Duration)
	loc.track.reindex(c)
	p.notify(loc.comp.ID)
	return nil
}

// DuplicateClip copies a clip to start on the same track, on top.
func (p *Project) DuplicateClip(id ClipID, start timebase.Tick) (ClipID, error) {
	loc, c, err := p.editableClip(id)
	if err != nil {
		return 0, err
	}
	nc := c.Clone()
	nc.Start = start
	if err := p.admit(loc, &nc); err != nil {
		return 0, err
	}
	p.nextClip++
	nc.ID = p.nextClip
	p.place(loc, &nc, -1)
	p.notify(loc.comp.ID)
	return nc.ID, nil
}

func (p *Project) SetClipMuted(id ClipID, muted bool) error {
	loc, c, err := p.clip(id)
	if err != nil {
		return err
	}
	c.Muted = muted
	p.notify(loc.comp.ID)
	return nil
}

func (p *Project) SetBlend(id ClipID, mode BlendMode) error {
	loc, c, err := p.editableClip(id)
	if err != nil {
		return err
	}
	c.Blend = mode
	p.notify(loc.comp.ID)
	return nil
}

func (p *Project) SetFade(id ClipID, in, out Fade) error {
	loc, c, err := p.editableClip(id)
	if err != nil {
		return err
	}
	if !in.valid() || !out.valid() || in.Span() > c.Duration || out.Span() > c.Duration {
		return fmt.Errorf("fade %d/%d on clip %d: %w", in.Length, out.Length, id, ErrInvalidDuration)
	}
	c.FadeIn, c.FadeOut = in, out
	p.notify(loc.comp.ID)
	return nil
}

// SetKeyframe inserts or replaces a key. k.Time is clip-local.
func (p *Project) SetKeyframe(id ClipID, prop Property, k keyframe.Key) error {
	loc, c, err := p.editableClip(id)
	if err != nil {
		return err
	}
	tr := c.Keys[prop]
	if tr == nil {
		tr = &keyframe.Track{}
		c.Keys[prop] = tr
	}
	tr.Set(k)
	p.notify(loc.comp.ID)
	return nil
}

func (p *Project) RemoveKeyframe(id ClipID, prop Property, at timebase.Tick) error {
	loc, c, err := p.editableClip(id)
	if err != nil {
		return err
	}
	if !c.Keys[prop].Remove(at) {
		return fmt.Errorf("%s key at %d on clip %d: %w", prop, at, id, ErrKeyNotFound)
	}
	if c.Keys[prop].Len() == 0 {
		delete(c.Keys, prop)
	}
	p.notify(loc.comp.ID)
	return nil
}

func (p *Project) clip(id ClipID) (trackLoc, *Clip, error) {
	loc, ok := p.clips[id]
	if !ok {
		return loc, nil, fmt.Errorf("clip %d: %w", id, ErrClipNotFound)
	}
	return loc, loc.track.clip(id), nil
}

func (p *Project) editableClip(id ClipID) (trackLoc, *Clip, error) {
	loc, c, err := p.clip(id)
	if err != nil {
		return loc, nil, err
	}
	if loc.track.Locked {
		return loc, nil, fmt.Errorf("clip %d on track %d: %w", id, loc.track.ID, ErrTrackLocked)
	}
	return loc, c, nil
}

// --- queries ---

// Clip returns a copy of the clip.
func (p *Project) Clip(id ClipID) (Clip, error) {
	_, c, err := p.clip(id)
	if err != nil {
		return Clip{}, err
	}
	return c.Clone(), nil
}

// ClipTrack returns the track holding a clip.
func (p *Project) ClipTrack(id ClipID) (TrackID, error) {
	loc, ok := p.clips[id]
	if !ok {
		return 0, fmt.Errorf("clip %d: %w", id, ErrClipNotFound)
	}
	return loc.track.ID, nil
}

// ClipsAt returns the clips covering t, bottom to top.
func (p *Project) ClipsAt(id CompositionID, t timebase.Tick) ([]ClipID, error) {
	return p.ClipsInRange(id, timebase.Range{Start: t, End: t + 1})
}

// ClipsInRange returns the clips intersecting r, bottom to top.
func (p *Project) ClipsInRange(id CompositionID, r timebase.Range) ([]ClipID, error) {
	c, err := p.comp(id)
	if err != nil {
		return nil, err
	}
	var out []ClipID
	for _, t := range c.tracks() {
		for _, cl := range t.inRange(r) {
			out = append(out, cl.ID)
		}
	}
	return out, nil
}

// Overlaps returns the other clips on the same track that intersect id.
func (p *Project) Overlaps(id ClipID) ([]ClipID, error) {
	loc, c, err := p.clip(id)
	if err != nil {
		return nil, err
	}
	var out []ClipID
	for _, o := range loc.track.inRange(c.Range()) {
		if o.ID != id {
			out = append(out, o.ID)
		}
	}
	return out, nil
}

// OverlapPairs lists every intersecting pair on a track, lower id first.
func (p *Project) OverlapPairs(id TrackID) ([][2]ClipID, error) {
	loc, err := p.track(id)
	if err != nil {
		return nil, err
	}
	var out [][2]ClipID
	for _, c := range loc.track.clips {
		for _, o := range loc.track.inRange(c.Range()) {
			if o.ID > c.ID {
				out = append(out, [2]ClipID{c.ID, o.ID})
			}
		}
	}
	return out, nil
}

// Duration is the end of the last clip in the composition.
func (p *Project) Duration(id CompositionID) (timebase.Tick, error) {
	c, err := p.comp(id)
	if err != nil {
		return 0, err
	}
	return c.Duration(), nil
}
