// Package scenario reads and writes timeline documents and builds
// projects from them.
package scenario

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ivlev/timeline/internal/keyframe"
	"github.com/ivlev/timeline/internal/project"
	"github.com/ivlev/timeline/internal/timebase"
)

var (
	ErrOverlap = errors.New("clips overlap on exclusive track")
	ErrInvalid = errors.New("invalid scenario")
)

type Options struct {
	Rate int64
	// Width and Height are the output size camera keys are framed in.
	Width, Height int
	Project       project.Options
}

// Result maps document names to project ids.
type Result struct {
	Root         project.CompositionID
	Compositions map[string]project.CompositionID
	// Tracks is keyed by "composition/track".
	Tracks map[string]project.TrackID
}

// Build creates a new project holding the scenario.
func Build(s *Scenario, opts Options) (*project.Project, *Result, error) {
	if len(s.Compositions) == 0 {
		return nil, nil, fmt.Errorf("%w: no compositions", ErrInvalid)
	}
	if opts.Rate <= 0 {
		opts.Rate = timebase.DefaultRate
	}
	b := &builder{
		p:    project.New(opts.Project),
		opts: opts,
		res: &Result{
			Compositions: make(map[string]project.CompositionID),
			Tracks:       make(map[string]project.TrackID),
		},
	}

	root := 0
	seen := make(map[string]bool)
	for i, c := range s.Compositions {
		if c.Name == "" {
			return nil, nil, fmt.Errorf("%w: composition %d has no name", ErrInvalid, i)
		}
		if seen[c.Name] {
			return nil, nil, fmt.Errorf("%w: duplicate composition %q", ErrInvalid, c.Name)
		}
		seen[c.Name] = true
		if c.Root {
			root = i
		}
	}
	// the root goes first so Project.Root agrees with the document
	order := []int{root}
	for i := range s.Compositions {
		if i != root {
			order = append(order, i)
		}
	}
	for _, i := range order {
		name := s.Compositions[i].Name
		b.res.Compositions[name] = b.p.AddComposition(name)
	}
	b.res.Root = b.res.Compositions[s.Compositions[root].Name]
	for _, c := range s.Compositions {
		if err := b.composition(c); err != nil {
			return nil, nil, fmt.Errorf("composition %q: %w", c.Name, err)
		}
	}
	return b.p, b.res, nil
}

type builder struct {
	p    *project.Project
	opts Options
	res  *Result
}

func (b *builder) ticks(s float64) timebase.Tick {
	return timebase.FromSeconds(s, b.opts.Rate)
}

func (b *builder) composition(c Composition) error {
	id := b.res.Compositions[c.Name]
	if c.Transform != nil {
		if err := b.p.SetCompositionTransform(id, c.Transform.project()); err != nil {
			return err
		}
	}
	if c.LOD != nil {
		lod := project.LOD{ResolutionScale: c.LOD.ResolutionScale, MaxNestingDepth: c.LOD.MaxNestingDepth}
		if lod.ResolutionScale == 0 {
			lod.ResolutionScale = 1
		}
		if err := b.p.SetLOD(id, lod); err != nil {
			return err
		}
	}

	ids := make([]project.TrackID, len(c.Tracks))
	byName := make(map[string]project.TrackID)
	for i, t := range c.Tracks {
		kind, err := project.ParseTrackKind(t.Kind)
		if err != nil {
			return fmt.Errorf("track %q: %w", t.Name, err)
		}
		tid, err := b.p.AddTrack(id, kind, t.Name)
		if err != nil {
			return err
		}
		ids[i] = tid
		if t.Name != "" {
			byName[t.Name] = tid
			b.res.Tracks[c.Name+"/"+t.Name] = tid
		}
		if t.Gain != nil {
			if err := b.p.SetTrackGain(tid, *t.Gain); err != nil {
				return fmt.Errorf("track %q: %w", t.Name, err)
			}
		}
	}

	for i, t := range c.Tracks {
		if t.Bus != "" {
			bus, ok := byName[t.Bus]
			if !ok {
				return fmt.Errorf("%w: track %q routes to unknown bus %q", ErrInvalid, t.Name, t.Bus)
			}
			if err := b.p.RouteToBus(ids[i], bus); err != nil {
				return fmt.Errorf("track %q: %w", t.Name, err)
			}
		}
		for j, cl := range t.Clips {
			if err := b.clip(ids[i], t.Exclusive, cl); err != nil {
				return fmt.Errorf("track %q clip %d: %w", t.Name, j, err)
			}
		}
		if t.Muted {
			b.p.SetTrackMuted(ids[i], true)
		}
		if t.Locked {
			b.p.SetTrackLocked(ids[i], true)
		}
	}
	return nil
}

func (b *builder) clip(track project.TrackID, exclusive bool, c Clip) error {
	pc, err := b.convert(c)
	if err != nil {
		return err
	}
	id, err := b.p.AddClip(track, pc)
	if err != nil {
		return err
	}
	if !exclusive {
		return nil
	}
	others, err := b.p.Overlaps(id)
	if err != nil {
		return err
	}
	if len(others) > 0 {
		b.p.RemoveClip(id)
		return fmt.Errorf("%w: %s at %.3fs", ErrOverlap, c.Media, c.Start)
	}
	return nil
}

func (b *builder) convert(c Clip) (project.Clip, error) {
	kind, err := project.ParseMediaKind(c.Kind)
	if err != nil {
		return project.Clip{}, err
	}
	ref := project.MediaRef{Kind: kind, Path: c.Media}
	if kind == project.MediaComposition {
		id, ok := b.res.Compositions[c.Media]
		if !ok {
			return project.Clip{}, fmt.Errorf("%w: unknown composition %q", ErrInvalid, c.Media)
		}
		ref = project.MediaRef{Kind: kind, Composition: id}
	}
	pc := project.Clip{
		Media:    ref,
		Start:    b.ticks(c.Start),
		Duration: b.ticks(c.Duration),
		SourceIn: b.ticks(c.SourceIn),
		Muted:    c.Muted,
		Keys:     make(map[project.Property]*keyframe.Track),
	}
	if pc.Blend, err = project.ParseBlendMode(c.Blend); err != nil {
		return pc, err
	}
	if pc.FadeIn, err = b.fade(c.FadeIn); err != nil {
		return pc, err
	}
	if pc.FadeOut, err = b.fade(c.FadeOut); err != nil {
		return pc, err
	}
	for name, keys := range c.Keys {
		tr := &keyframe.Track{}
		for _, k := range keys {
			tr.Set(b.key(k))
		}
		pc.Keys[project.Property(name)] = tr
	}
	b.camera(&pc, c.Camera)
	return pc, nil
}

func (b *builder) fade(f *Fade) (project.Fade, error) {
	if f == nil {
		return project.Fade{}, nil
	}
	curve, err := project.ParseFadeCurve(f.Curve)
	if err != nil {
		return project.Fade{}, err
	}
	return project.Fade{Length: b.ticks(f.Length), Offset: b.ticks(f.Offset), Curve: curve}, nil
}

func (b *builder) key(k Keyframe) keyframe.Key {
	out := keyframe.Key{Time: b.ticks(k.Time), Value: k.Value, Interp: k.Interp}
	if k.In != nil {
		out.In = keyframe.Handle{DT: float64(b.ticks(k.In.DT)), DV: k.In.DV}
	}
	if k.Out != nil {
		out.Out = keyframe.Handle{DT: float64(b.ticks(k.Out.DT)), DV: k.Out.DV}
	}
	return out
}

// camera turns framing keys into position and scale keys that bring the
// rectangle's center to the middle of the frame.
func (b *builder) camera(pc *project.Clip, keys []CameraKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].Time < keys[j].Time })
	cx, cy := float64(b.opts.Width)/2, float64(b.opts.Height)/2
	px, py, s := &keyframe.Track{}, &keyframe.Track{}, &keyframe.Track{}
	for _, k := range keys {
		zoom := k.Zoom
		if zoom <= 0 {
			zoom = 1
		}
		rx := float64(k.Rect.X) + float64(k.Rect.W)/2
		ry := float64(k.Rect.Y) + float64(k.Rect.H)/2
		at := b.ticks(k.Time)
		px.Set(keyframe.Key{Time: at, Value: -(rx - cx) * zoom, Interp: keyframe.Bezier})
		py.Set(keyframe.Key{Time: at, Value: -(ry - cy) * zoom, Interp: keyframe.Bezier})
		s.Set(keyframe.Key{Time: at, Value: zoom, Interp: keyframe.Bezier})
	}
	pc.Keys[project.PositionX] = px
	pc.Keys[project.PositionY] = py
	pc.Keys[project.ScaleX] = s
	pc.Keys[project.ScaleY] = s.Clone()
}

func (t Transform) project() project.Transform {
	out := project.Identity()
	out.X, out.Y, out.Rotation = t.X, t.Y, t.Rotation
	if t.ScaleX != nil {
		out.ScaleX = *t.ScaleX
	}
	if t.ScaleY != nil {
		out.ScaleY = *t.ScaleY
	}
	if t.Opacity != nil {
		out.Opacity = *t.Opacity
	}
	return out
}
