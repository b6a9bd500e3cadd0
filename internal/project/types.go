package project

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/image/math/f64"

	"github.com/ivlev/timeline/internal/timebase"
)

type (
	CompositionID = uuid.UUID
	TrackID       uint64
	ClipID        uint64
)

// TrackKind is the type of a track.
type TrackKind uint8

const (
	VideoTrack TrackKind = iota
	AudioTrack
	BusTrack
)

func (k TrackKind) String() string {
	switch k {
	case AudioTrack:
		return "audio"
	case BusTrack:
		return "bus"
	default:
		return "video"
	}
}

// ParseTrackKind parses "video", "audio" or "bus".
func ParseTrackKind(s string) (TrackKind, error) {
	switch strings.ToLower(s) {
	case "", "video":
		return VideoTrack, nil
	case "audio":
		return AudioTrack, nil
	case "bus":
		return BusTrack, nil
	}
	return VideoTrack, fmt.Errorf("unknown track kind %q", s)
}

// MediaKind is what a clip plays.
type MediaKind uint8

const (
	MediaVideo MediaKind = iota
	MediaAudio
	MediaImage
	MediaGenerated
	MediaComposition
)

func (k MediaKind) String() string {
	switch k {
	case MediaAudio:
		return "audio"
	case MediaImage:
		return "image"
	case MediaGenerated:
		return "generated"
	case MediaComposition:
		return "composition"
	default:
		return "video"
	}
}

// ParseMediaKind parses the String form of a MediaKind.
func ParseMediaKind(s string) (MediaKind, error) {
	switch strings.ToLower(s) {
	case "", "video":
		return MediaVideo, nil
	case "audio":
		return MediaAudio, nil
	case "image", "still":
		return MediaImage, nil
	case "generated", "generator", "title":
		return MediaGenerated, nil
	case "composition", "comp":
		return MediaComposition, nil
	}
	return MediaVideo, fmt.Errorf("unknown media kind %q", s)
}

// Visual reports whether the media produces pixels.
func (k MediaKind) Visual() bool {
	return k != MediaAudio
}

// accepts reports whether a track of kind k may hold media of kind m.
func (k TrackKind) accepts(m MediaKind) bool {
	switch k {
	case VideoTrack:
		return m == MediaVideo || m == MediaImage || m == MediaGenerated || m == MediaComposition
	case AudioTrack:
		return m == MediaAudio || m == MediaComposition
	default:
		return false
	}
}

// MediaRef points at a file/generator or at a nested composition.
type MediaRef struct {
	Kind        MediaKind
	Path        string
	Composition CompositionID
}

func (r MediaRef) String() string {
	if r.Kind == MediaComposition {
		return "comp:" + r.Composition.String()
	}
	return r.Path
}

// BlendMode selects the compositing operator for a layer.
type BlendMode uint8

const (
	BlendNormal BlendMode = iota
	BlendAdd
	BlendMultiply
	BlendScreen
)

func (b BlendMode) String() string {
	switch b {
	case BlendAdd:
		return "add"
	case BlendMultiply:
		return "multiply"
	case BlendScreen:
		return "screen"
	default:
		return "normal"
	}
}

// ParseBlendMode parses the String form of a BlendMode.
func ParseBlendMode(s string) (BlendMode, error) {
	switch strings.ToLower(s) {
	case "", "normal", "over":
		return BlendNormal, nil
	case "add":
		return BlendAdd, nil
	case "multiply":
		return BlendMultiply, nil
	case "screen":
		return BlendScreen, nil
	}
	return BlendNormal, fmt.Errorf("unknown blend mode %q", s)
}

// Property names an animatable clip parameter. Effect parameters use
// the "effect." prefix and default to zero.
type Property string

const (
	Opacity    Property = "opacity"
	PositionX  Property = "position.x"
	PositionY  Property = "position.y"
	ScaleX     Property = "scale.x"
	ScaleY     Property = "scale.y"
	Rotation   Property = "rotation"
	CropLeft   Property = "crop.left"
	CropTop    Property = "crop.top"
	CropRight  Property = "crop.right"
	CropBottom Property = "crop.bottom"
	Volume     Property = "volume"
	Pan        Property = "pan"
)

var visualProperties = []Property{Opacity, PositionX, PositionY, ScaleX, ScaleY, Rotation, CropLeft, CropTop, CropRight, CropBottom}
var audioProperties = []Property{Volume, Pan}

// Default is the value of p on a clip without keys for it.
func (p Property) Default() float64 {
	switch p {
	case Opacity, ScaleX, ScaleY, Volume:
		return 1
	default:
		return 0
	}
}

// FadeCurve shapes a fade.
type FadeCurve uint8

const (
	FadeLinear FadeCurve = iota
	FadeEaseIn
	FadeEaseOut
	FadeSCurve
)

func (c FadeCurve) String() string {
	switch c {
	case FadeEaseIn:
		return "ease-in"
	case FadeEaseOut:
		return "ease-out"
	case FadeSCurve:
		return "s-curve"
	default:
		return "linear"
	}
}

// ParseFadeCurve parses "linear", "ease-in", "ease-out" or "s-curve".
func ParseFadeCurve(s string) (FadeCurve, error) {
	switch strings.ToLower(s) {
	case "", "linear":
		return FadeLinear, nil
	case "ease-in", "easein":
		return FadeEaseIn, nil
	case "ease-out", "easeout":
		return FadeEaseOut, nil
	case "s-curve", "scurve", "smooth":
		return FadeSCurve, nil
	}
	return FadeLinear, fmt.Errorf("unknown fade curve %q", s)
}

// Fade ramps a clip in or out over Length ticks. Offset is how far into
// the ramp the clip edge sits; a split leaves it nonzero on the inner
// halves so the curve continues where it was cut.
type Fade struct {
	Length timebase.Tick
	Offset timebase.Tick
	Curve  FadeCurve
}

// Gain returns the fade multiplier d ticks away from the faded edge.
func (f Fade) Gain(d timebase.Tick) float64 {
	d += f.Offset
	if f.Length <= 0 || d >= f.Length {
		return 1
	}
	if d <= 0 {
		return 0
	}
	x := float64(d) / float64(f.Length)
	switch f.Curve {
	case FadeEaseIn:
		return x * x
	case FadeEaseOut:
		return 1 - (1-x)*(1-x)
	case FadeSCurve:
		return x * x * (3 - 2*x)
	default:
		return x
	}
}

// Span is how many ticks of the clip the ramp covers from its edge.
func (f Fade) Span() timebase.Tick {
	return max(f.Length-f.Offset, 0)
}

// shifted moves the edge d ticks into the ramp. The zero Fade is returned
// once the ramp no longer reaches the new edge.
func (f Fade) shifted(d timebase.Tick) Fade {
	f.Offset += d
	if f.Length <= 0 || f.Offset >= f.Length {
		return Fade{}
	}
	return f
}

// fit anchors the ramp at the edge again, covering at most n ticks.
func (f Fade) fit(n timebase.Tick) Fade {
	if f.Length <= 0 {
		return Fade{}
	}
	f.Length = min(f.Span(), n)
	f.Offset = 0
	return f
}

func (f Fade) valid() bool {
	return f.Length >= 0 && f.Offset >= 0 && (f.Offset == 0 || f.Offset < f.Length)
}

// Transform is a 2D placement. X and Y are pixel offsets at full output
// resolution, Rotation is in degrees, scaling and rotation happen around
// the frame center.
type Transform struct {
	X, Y           float64
	ScaleX, ScaleY float64
	Rotation       float64
	Opacity        float64
}

// Identity returns the neutral transform.
func Identity() Transform {
	return Transform{ScaleX: 1, ScaleY: 1, Opacity: 1}
}

// Affine maps source pixels to destination pixels for a w×h frame.
// unit scales X and Y when rendering below full resolution.
func (t Transform) Affine(w, h, unit float64) f64.Aff3 {
	cx, cy := w/2, h/2
	sin, cos := math.Sincos(t.Rotation * math.Pi / 180)
	a, b := cos*t.ScaleX, -sin*t.ScaleY
	d, e := sin*t.ScaleX, cos*t.ScaleY
	return f64.Aff3{
		a, b, cx + t.X*unit - a*cx - b*cy,
		d, e, cy + t.Y*unit - d*cx - e*cy,
	}
}

// IsIdentity reports whether the transform leaves pixels in place.
func (t Transform) IsIdentity() bool {
	return t.X == 0 && t.Y == 0 && t.ScaleX == 1 && t.ScaleY == 1 && math.Mod(t.Rotation, 360) == 0
}

// MulAffine returns m∘n (n applied first).
func MulAffine(m, n f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		m[0]*n[0] + m[1]*n[3], m[0]*n[1] + m[1]*n[4], m[0]*n[2] + m[1]*n[5] + m[2],
		m[3]*n[0] + m[4]*n[3], m[3]*n[1] + m[4]*n[4], m[3]*n[2] + m[4]*n[5] + m[5],
	}
}

// LOD limits preview work for a composition.
type LOD struct {
	ResolutionScale float64
	MaxNestingDepth int
}

// DefaultLOD renders at full resolution and allows eight nesting levels.
func DefaultLOD() LOD {
	return LOD{ResolutionScale: 1, MaxNestingDepth: 8}
}
