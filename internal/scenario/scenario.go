package scenario

import "github.com/ivlev/timeline/internal/keyframe"

// Scenario is a timeline document. Times are in seconds.
type Scenario struct {
	Version      string        `yaml:"version"`
	Compositions []Composition `yaml:"compositions"`
}

// Composition is a named timeline. The first one is the root unless
// another sets Root.
type Composition struct {
	Name      string     `yaml:"name"`
	Root      bool       `yaml:"root,omitempty"`
	Transform *Transform `yaml:"transform,omitempty"`
	LOD       *LOD       `yaml:"lod,omitempty"`
	Tracks    []Track    `yaml:"tracks"`
}

type Transform struct {
	X        float64  `yaml:"x,omitempty"`
	Y        float64  `yaml:"y,omitempty"`
	ScaleX   *float64 `yaml:"scale_x,omitempty"`
	ScaleY   *float64 `yaml:"scale_y,omitempty"`
	Rotation float64  `yaml:"rotation,omitempty"`
	Opacity  *float64 `yaml:"opacity,omitempty"`
}

type LOD struct {
	ResolutionScale float64 `yaml:"resolution_scale"`
	MaxNestingDepth int     `yaml:"max_nesting_depth"`
}

// Track holds clips. Exclusive tracks refuse overlapping clips.
type Track struct {
	Name      string   `yaml:"name"`
	Kind      string   `yaml:"kind"`
	Exclusive bool     `yaml:"exclusive,omitempty"`
	Muted     bool     `yaml:"muted,omitempty"`
	Locked    bool     `yaml:"locked,omitempty"`
	Gain      *float64 `yaml:"gain,omitempty"`
	Bus       string   `yaml:"bus,omitempty"`
	Clips     []Clip   `yaml:"clips,omitempty"`
}

// Clip places media on a track. Media is a file path, a generator
// (color:, qr:) or, with Kind "composition", a composition name.
type Clip struct {
	Media    string                `yaml:"media"`
	Kind     string                `yaml:"kind,omitempty"`
	Start    float64               `yaml:"start"`
	Duration float64               `yaml:"duration"`
	SourceIn float64               `yaml:"source_in,omitempty"`
	FadeIn   *Fade                 `yaml:"fade_in,omitempty"`
	FadeOut  *Fade                 `yaml:"fade_out,omitempty"`
	Blend    string                `yaml:"blend,omitempty"`
	Muted    bool                  `yaml:"muted,omitempty"`
	Keys     map[string][]Keyframe `yaml:"keys,omitempty"`
	Camera   []CameraKey           `yaml:"camera,omitempty"`
}

type Fade struct {
	Length float64 `yaml:"length"`
	Offset float64 `yaml:"offset,omitempty"`
	Curve  string  `yaml:"curve,omitempty"`
}

// Keyframe is a property key. Handle DT is in seconds.
type Keyframe struct {
	Time   float64         `yaml:"time"`
	Value  float64         `yaml:"value"`
	Interp keyframe.Interp `yaml:"interp,omitempty"`
	In     *Handle         `yaml:"in,omitempty"`
	Out    *Handle         `yaml:"out,omitempty"`
}

type Handle struct {
	DT float64 `yaml:"dt"`
	DV float64 `yaml:"dv"`
}

// CameraKey frames a region of the output at a time offset. It expands
// to position and scale keys.
type CameraKey struct {
	Time  float64   `yaml:"time"`
	Focus string    `yaml:"focus,omitempty"`
	Rect  Rectangle `yaml:"rect"`
	Zoom  float64   `yaml:"zoom"`
}

// Rectangle represents a bounding box
type Rectangle struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	W int `yaml:"w"`
	H int `yaml:"h"`
}
