package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/ivlev/timeline/internal/keyframe"
	"github.com/ivlev/timeline/internal/system"
)

// Slide is one visual of a slideshow. SourceIn selects a page of a PDF.
type Slide struct {
	Media    string
	Kind     string
	SourceIn float64
}

// PDFSlides lists the pages of a PDF as slides. pageSeconds must match
// the decoder's page length.
func PDFSlides(path string, pages int, pageSeconds float64) []Slide {
	out := make([]Slide, pages)
	for i := range out {
		out[i] = Slide{Media: path, Kind: "image", SourceIn: float64(i) * pageSeconds}
	}
	return out
}

// FileSlides lists image files as slides.
func FileSlides(paths []string) []Slide {
	out := make([]Slide, len(paths))
	for i, p := range paths {
		out[i] = Slide{Media: p, Kind: "image"}
	}
	return out
}

type SlideshowOptions struct {
	Slides []Slide
	// Total is the visual length in seconds. Zero takes the audio length,
	// or five seconds per slide without audio.
	Total float64
	Fade  float64
	Audio string
	// Zoom is the Ken Burns scale gained per second. Zero disables it.
	Zoom float64
	// FPS aligns slide lengths to frames when positive.
	FPS  int
	Seed int64
	// Camera, when set, replaces Ken Burns with moves over detected
	// content. Slides it cannot plan fall back to Ken Burns.
	Camera *Camera
	Log    *slog.Logger
}

// Slideshow lays slides out on two alternating video tracks with
// crossfades, plus an optional audio track.
func Slideshow(ctx context.Context, o SlideshowOptions) (*Scenario, error) {
	n := len(o.Slides)
	if n == 0 {
		return nil, fmt.Errorf("%w: slideshow has no slides", ErrInvalid)
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	if o.Fade < 0 {
		o.Fade = 0
	}
	if o.Total <= 0 && o.Audio != "" {
		d, err := system.GetMediaDuration(o.Audio)
		if err != nil {
			o.Log.Warn("audio duration unavailable", "path", o.Audio, "err", err)
		}
		o.Total = d
	}
	if o.Total <= 0 {
		o.Total = 5 * float64(n)
	}
	seed := o.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	durations := calculateDurations(n, o.Total, o.Fade, rand.New(rand.NewSource(seed)))
	minDur := durations[0]
	for _, d := range durations {
		minDur = math.Min(minDur, d)
	}
	if n > 1 && o.Fade >= minDur {
		o.Fade = minDur / 2
		o.Log.Warn("fade shortened to fit the shortest slide", "fade", o.Fade)
		durations = calculateDurations(n, o.Total, o.Fade, rand.New(rand.NewSource(seed)))
	}
	if o.FPS > 0 {
		for i := range durations {
			durations[i] = math.Round(durations[i]*float64(o.FPS)) / float64(o.FPS)
		}
	}

	clips := make([]Clip, n)
	start := 0.0
	planned := 0
	for i, s := range o.Slides {
		clips[i] = Clip{
			Media:    s.Media,
			Kind:     s.Kind,
			Start:    start,
			Duration: durations[i],
			SourceIn: s.SourceIn,
		}
		start += durations[i] - o.Fade
		if o.Camera != nil {
			keys, err := o.Camera.Plan(ctx, s, durations[i])
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				o.Log.Warn("camera plan failed", "media", s.Media, "source_in", s.SourceIn, "err", err)
			}
			if len(keys) > 0 {
				clips[i].Camera = keys
				planned++
				continue
			}
		}
		if o.Zoom > 0 {
			clips[i].Keys = map[string][]Keyframe{
				"scale.x": kenBurns(durations[i], o.Zoom),
				"scale.y": kenBurns(durations[i], o.Zoom),
			}
		}
	}
	// the clip on V2 always carries the transition
	if o.Fade > 0 {
		for i := 1; i < n; i++ {
			if i%2 == 1 {
				clips[i].FadeIn = &Fade{Length: o.Fade}
			} else {
				clips[i-1].FadeOut = &Fade{Length: o.Fade}
			}
		}
	}
	lower := Track{Name: "V1", Kind: "video"}
	upper := Track{Name: "V2", Kind: "video"}
	for i, c := range clips {
		if i%2 == 0 {
			lower.Clips = append(lower.Clips, c)
		} else {
			upper.Clips = append(upper.Clips, c)
		}
	}

	main := Composition{Name: "main", Root: true, Tracks: []Track{lower, upper}}
	if o.Audio != "" {
		main.Tracks = append(main.Tracks, Track{
			Name: "A1",
			Kind: "audio",
			Clips: []Clip{{
				Media:    o.Audio,
				Kind:     "audio",
				Duration: o.Total,
			}},
		})
	}
	o.Log.Info("slideshow generated", "slides", n, "total", o.Total, "fade", o.Fade, "camera_paths", planned)
	return &Scenario{Version: Version, Compositions: []Composition{main}}, nil
}

func kenBurns(d, zoom float64) []Keyframe {
	return []Keyframe{
		{Time: 0, Value: 1, Interp: keyframe.Bezier},
		{Time: d, Value: 1 + zoom*d},
	}
}

// calculateDurations splits total visual time over n clips that overlap
// by fade. Each clip differs from the previous one by at most 15% before
// the final rescale; the sum is total + (n-1)*fade.
func calculateDurations(n int, total, fade float64, r *rand.Rand) []float64 {
	// Общая длительность всех клипов: каждый переход "съедает" fade секунд
	fades := float64(n - 1)
	if fades < 0 {
		fades = 0
	}
	clipsTotal := total + fades*fade
	base := clipsTotal / float64(n)

	durations := make([]float64, n)
	durations[0] = base * (1 + r.Float64()*0.3 - 0.15)
	for i := 1; i < n; i++ {
		durations[i] = durations[i-1] * (1 + r.Float64()*0.3 - 0.15)
		// клип не может быть короче перехода (с запасом)
		if durations[i] < fade*1.1 {
			durations[i] = fade * 1.1
		}
	}

	sum := 0.0
	for _, d := range durations {
		sum += d
	}
	scale := clipsTotal / sum
	for i := range durations {
		durations[i] *= scale
	}
	return durations
}

// SlidesFromDir lists image files in dir as slides, sorted by name.
func SlidesFromDir(dir string) ([]Slide, error) {
	files, err := system.ListFiles(dir, system.ImageExtensions)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s (%s)", ErrInvalid, dir, strings.Join(system.ImageExtensions, ", "))
	}
	return FileSlides(files), nil
}
