package scenario

import (
	"fmt"

	"github.com/ivlev/timeline/internal/keyframe"
	"github.com/ivlev/timeline/internal/project"
	"github.com/ivlev/timeline/internal/timebase"
)

const Version = "1"

// Snapshot writes the project back into a document. Composition names
// must be unique. Camera keys come back as plain position and scale keys.
func Snapshot(p *project.Project, rate int64) (*Scenario, error) {
	if rate <= 0 {
		rate = timebase.DefaultRate
	}
	names := make(map[project.CompositionID]string)
	seen := make(map[string]bool)
	for _, id := range p.Compositions() {
		c, err := p.Composition(id)
		if err != nil {
			return nil, err
		}
		if c.Name == "" || seen[c.Name] {
			return nil, fmt.Errorf("%w: composition name %q is empty or repeated", ErrInvalid, c.Name)
		}
		seen[c.Name] = true
		names[id] = c.Name
	}

	sec := func(t timebase.Tick) float64 { return timebase.Seconds(t, rate) }
	out := &Scenario{Version: Version}
	for i, id := range p.Compositions() {
		c, _ := p.Composition(id)
		doc := Composition{Name: c.Name, Root: i == 0}
		if !c.Transform.IsIdentity() {
			doc.Transform = transformDoc(c.Transform)
		}
		if c.LOD != project.DefaultLOD() {
			doc.LOD = &LOD{ResolutionScale: c.LOD.ResolutionScale, MaxNestingDepth: c.LOD.MaxNestingDepth}
		}

		tracks := append(append([]*project.Track(nil), c.VideoTracks...), c.AudioTracks...)
		trackNames := make(map[project.TrackID]string)
		for _, t := range tracks {
			trackNames[t.ID] = t.Name
		}
		for _, t := range tracks {
			td := Track{Name: t.Name, Kind: t.Kind.String(), Muted: t.Muted, Locked: t.Locked}
			if t.Gain != 1 {
				g := t.Gain
				td.Gain = &g
			}
			if t.Bus != 0 {
				td.Bus = trackNames[t.Bus]
			}
			for _, cid := range t.Clips() {
				cl, err := p.Clip(cid)
				if err != nil {
					return nil, err
				}
				cd := Clip{
					Media:    cl.Media.Path,
					Kind:     cl.Media.Kind.String(),
					Start:    sec(cl.Start),
					Duration: sec(cl.Duration),
					SourceIn: sec(cl.SourceIn),
					Muted:    cl.Muted,
				}
				if cl.Media.Kind == project.MediaComposition {
					cd.Media = names[cl.Media.Composition]
				}
				if cl.Blend != project.BlendNormal {
					cd.Blend = cl.Blend.String()
				}
				cd.FadeIn = fadeDoc(cl.FadeIn, rate)
				cd.FadeOut = fadeDoc(cl.FadeOut, rate)
				for prop, tr := range cl.Keys {
					if tr.Len() == 0 {
						continue
					}
					if cd.Keys == nil {
						cd.Keys = make(map[string][]Keyframe)
					}
					cd.Keys[string(prop)] = keysDoc(tr, rate)
				}
				td.Clips = append(td.Clips, cd)
			}
			doc.Tracks = append(doc.Tracks, td)
		}
		out.Compositions = append(out.Compositions, doc)
	}
	return out, nil
}

func transformDoc(t project.Transform) *Transform {
	sx, sy, op := t.ScaleX, t.ScaleY, t.Opacity
	return &Transform{X: t.X, Y: t.Y, ScaleX: &sx, ScaleY: &sy, Rotation: t.Rotation, Opacity: &op}
}

func fadeDoc(f project.Fade, rate int64) *Fade {
	if f.Length <= 0 {
		return nil
	}
	d := &Fade{Length: timebase.Seconds(f.Length, rate), Offset: timebase.Seconds(f.Offset, rate)}
	if f.Curve != project.FadeLinear {
		d.Curve = f.Curve.String()
	}
	return d
}

func keysDoc(tr *keyframe.Track, rate int64) []Keyframe {
	out := make([]Keyframe, 0, tr.Len())
	for _, k := range tr.Keys {
		kd := Keyframe{Time: timebase.Seconds(k.Time, rate), Value: k.Value, Interp: k.Interp}
		if k.In != (keyframe.Handle{}) {
			kd.In = &Handle{DT: k.In.DT / float64(rate), DV: k.In.DV}
		}
		if k.Out != (keyframe.Handle{}) {
			kd.Out = &Handle{DT: k.Out.DT / float64(rate), DV: k.Out.DV}
		}
		out = append(out, kd)
	}
	return out
}
