package scenario

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ivlev/timeline/internal/project"
	"github.com/ivlev/timeline/internal/timebase"
)

const nestedDoc = `
version: "1"
compositions:
  - name: main
    root: true
    tracks:
      - name: V1
        kind: video
        clips:
          - media: title
            kind: composition
            start: 2
            duration: 5
            fade_in: {length: 1, curve: s-curve}
      - name: music
        kind: audio
        gain: 0.5
        bus: mix
        clips:
          - media: song.mp3
            kind: audio
            start: 0
            duration: 10
      - name: mix
        kind: bus
  - name: title
    tracks:
      - name: T1
        kind: video
        clips:
          - media: "color:#ff0000"
            kind: generated
            start: 0
            duration: 10
            keys:
              opacity:
                - {time: 0, value: 0}
                - {time: 2, value: 1}
`

func build(t *testing.T, doc string) (*project.Project, *Result) {
	t.Helper()
	s, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	p, res, err := Build(s, Options{Rate: 1000, Width: 1280, Height: 720})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return p, res
}

func TestBuildNested(t *testing.T) {
	p, res := build(t, nestedDoc)

	root, ok := p.Root()
	if !ok || root != res.Root || res.Root != res.Compositions["main"] {
		t.Fatalf("root mismatch: project %v, result %v", root, res.Root)
	}

	layers, err := p.Resolve(res.Root, 3000)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	var visual []project.Layer
	for _, l := range layers {
		if l.Visual() {
			visual = append(visual, l)
		}
	}
	if len(visual) != 1 {
		t.Fatalf("expected 1 visual layer, got %d", len(visual))
	}
	l := visual[0]
	if l.Media.Path != "color:#ff0000" {
		t.Errorf("expected generator media, got %s", l.Media)
	}
	if l.Time != 1000 {
		t.Errorf("expected media time 1000, got %d", l.Time)
	}
	if l.Composition != res.Compositions["title"] {
		t.Errorf("layer should come from the nested composition")
	}

	bus := res.Tracks["main/mix"]
	music, err := p.Track(res.Tracks["main/music"])
	if err != nil {
		t.Fatal(err)
	}
	if music.Bus != bus || music.Gain != 0.5 {
		t.Errorf("music track: bus %d gain %.2f", music.Bus, music.Gain)
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "exclusive overlap",
			doc: `
compositions:
  - name: main
    tracks:
      - name: V1
        exclusive: true
        clips:
          - {media: a.png, kind: image, start: 0, duration: 4}
          - {media: b.png, kind: image, start: 3, duration: 4}
`,
			want: ErrOverlap,
		},
		{
			name: "unknown bus",
			doc: `
compositions:
  - name: main
    tracks:
      - {name: A1, kind: audio, bus: nowhere}
`,
			want: ErrInvalid,
		},
		{
			name: "unknown composition",
			doc: `
compositions:
  - name: main
    tracks:
      - name: V1
        clips:
          - {media: missing, kind: composition, start: 0, duration: 1}
`,
			want: ErrInvalid,
		},
		{
			name: "duplicate name",
			doc: `
compositions:
  - name: main
  - name: main
`,
			want: ErrInvalid,
		},
		{
			name: "audio on video track",
			doc: `
compositions:
  - name: main
    tracks:
      - name: V1
        clips:
          - {media: a.mp3, kind: audio, start: 0, duration: 1}
`,
			want: project.ErrTypeMismatch,
		},
		{
			name: "self nesting",
			doc: `
compositions:
  - name: main
    tracks:
      - name: V1
        clips:
          - {media: main, kind: composition, start: 0, duration: 1}
`,
			want: project.ErrCyclicComposition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse([]byte(tt.doc))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			_, _, err = Build(s, Options{Rate: 1000})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestBuildCamera(t *testing.T) {
	p, res := build(t, `
compositions:
  - name: main
    tracks:
      - name: V1
        clips:
          - media: page.png
            kind: image
            start: 0
            duration: 6
            camera:
              - {time: 0, focus: full_view, rect: {x: 0, y: 0, w: 1280, h: 720}, zoom: 1}
              - {time: 3, focus: block, rect: {x: 0, y: 0, w: 640, h: 360}, zoom: 2}
`)
	tr, err := p.Track(res.Tracks["main/V1"])
	if err != nil {
		t.Fatal(err)
	}
	c, err := p.Clip(tr.Clips()[0])
	if err != nil {
		t.Fatal(err)
	}

	checks := []struct {
		prop project.Property
		at   timebase.Tick
		want float64
	}{
		{project.PositionX, 0, 0},
		{project.ScaleX, 0, 1},
		{project.PositionX, 3000, 640},
		{project.PositionY, 3000, 360},
		{project.ScaleY, 3000, 2},
	}
	for _, ch := range checks {
		if got := c.Value(ch.prop, ch.at); math.Abs(got-ch.want) > 1e-9 {
			t.Errorf("%s at %d: expected %.2f, got %.2f", ch.prop, ch.at, ch.want, got)
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	p, res := build(t, nestedDoc)

	doc, err := Snapshot(p, 1000)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	if err := WriteScenario(doc, path); err != nil {
		t.Fatalf("WriteScenario failed: %v", err)
	}
	back, err := ReadScenario(path)
	if err != nil {
		t.Fatalf("ReadScenario failed: %v", err)
	}
	p2, res2, err := Build(back, Options{Rate: 1000})
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	for _, at := range []timebase.Tick{0, 2500, 3000, 6999, 9000} {
		a, err := p.Resolve(res.Root, at)
		if err != nil {
			t.Fatal(err)
		}
		b, err := p2.Resolve(res2.Root, at)
		if err != nil {
			t.Fatal(err)
		}
		if len(a) != len(b) {
			t.Fatalf("at %d: %d layers before, %d after", at, len(a), len(b))
		}
		for i := range a {
			if a[i].Media.Path != b[i].Media.Path || a[i].Time != b[i].Time ||
				math.Abs(a[i].Opacity-b[i].Opacity) > 1e-9 || math.Abs(a[i].Gain-b[i].Gain) > 1e-9 {
				t.Errorf("at %d layer %d differs: %+v vs %+v", at, i, a[i], b[i])
			}
		}
	}
}

func TestSnapshotKeepsSplitFades(t *testing.T) {
	p, res := build(t, `
compositions:
  - name: main
    root: true
    tracks:
      - name: V1
        kind: video
        clips:
          - media: slide.png
            kind: image
            start: 0
            duration: 1
            fade_in: {length: 0.8}
            fade_out: {length: 0.8, curve: ease-out}
`)
	ids, err := p.ClipsAt(res.Root, 100)
	if err != nil || len(ids) != 1 {
		t.Fatalf("ClipsAt = %v, %v", ids, err)
	}
	if _, err := p.SplitClip(ids[0], 500); err != nil {
		t.Fatalf("SplitClip: %v", err)
	}

	doc, err := Snapshot(p, 1000)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	clips := doc.Compositions[0].Tracks[0].Clips
	if len(clips) != 2 || clips[1].FadeIn == nil || clips[1].FadeIn.Offset != 0.5 {
		t.Fatalf("split clips = %+v", clips)
	}
	p2, res2, err := Build(doc, Options{Rate: 1000})
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	for _, at := range []timebase.Tick{100, 499, 500, 501, 900} {
		a, _ := p.Resolve(res.Root, at)
		b, _ := p2.Resolve(res2.Root, at)
		if len(a) != 1 || len(b) != 1 {
			t.Fatalf("at %d: %d layers before, %d after", at, len(a), len(b))
		}
		if math.Abs(a[0].Opacity-b[0].Opacity) > 1e-9 {
			t.Errorf("at %d: opacity %v, rebuilt %v", at, a[0].Opacity, b[0].Opacity)
		}
	}
}

func TestCalculateDurations(t *testing.T) {
	const (
		n     = 10
		total = 100.0
		fade  = 0.5
	)
	durations := calculateDurations(n, total, fade, rand.New(rand.NewSource(7)))
	if len(durations) != n {
		t.Fatalf("expected %d durations, got %d", n, len(durations))
	}

	// sum(D_i) - (N-1)*F == A
	sum := 0.0
	for _, d := range durations {
		sum += d
		if d <= fade {
			t.Errorf("clip shorter than fade: %f", d)
		}
	}
	expected := total + float64(n-1)*fade
	if math.Abs(sum-expected) > 0.0001 {
		t.Errorf("expected sum %f, got %f", expected, sum)
	}

	for i := 1; i < n; i++ {
		variation := durations[i]/durations[i-1] - 1
		if math.Abs(variation) > 0.1501 {
			t.Errorf("clip %d variation too high: %f", i, variation)
		}
	}
}

func TestSlideshow(t *testing.T) {
	slides := PDFSlides("deck.pdf", 5, 10)
	if slides[3].SourceIn != 30 {
		t.Fatalf("expected page 3 at 30s, got %f", slides[3].SourceIn)
	}

	doc, err := Slideshow(context.Background(), SlideshowOptions{Slides: slides, Total: 20, Fade: 1, Zoom: 0.02, Seed: 42})
	if err != nil {
		t.Fatalf("Slideshow failed: %v", err)
	}
	main := doc.Compositions[0]
	if len(main.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(main.Tracks))
	}
	v1, v2 := main.Tracks[0], main.Tracks[1]
	if len(v1.Clips) != 3 || len(v2.Clips) != 2 {
		t.Fatalf("expected 3+2 clips, got %d+%d", len(v1.Clips), len(v2.Clips))
	}
	for _, c := range v2.Clips {
		if c.FadeIn == nil || c.FadeIn.Length != 1 {
			t.Errorf("V2 clip at %.2f should fade in", c.Start)
		}
		if c.FadeOut == nil {
			t.Errorf("V2 clip at %.2f should fade out", c.Start)
		}
	}
	for _, c := range v1.Clips {
		if c.FadeIn != nil || c.FadeOut != nil {
			t.Errorf("V1 clip at %.2f should not fade", c.Start)
		}
		if len(c.Keys["scale.x"]) != 2 {
			t.Errorf("expected Ken Burns keys on V1 clip")
		}
	}
	last := v1.Clips[2]
	if end := last.Start + last.Duration; math.Abs(end-20) > 1e-6 {
		t.Errorf("slideshow should end at 20s, ends at %f", end)
	}
	// Each V2 clip starts one fade before the V1 clip it covers ends.
	if overlap := v1.Clips[0].Start + v1.Clips[0].Duration - v2.Clips[0].Start; math.Abs(overlap-1) > 1e-9 {
		t.Errorf("expected 1s overlap, got %f", overlap)
	}

	p, res, err := Build(doc, Options{Rate: 1000})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	d, err := p.Duration(res.Root)
	if err != nil {
		t.Fatal(err)
	}
	if d < 19999 || d > 20001 {
		t.Errorf("expected 20000 ticks, got %d", d)
	}
}

func TestSlideshowShortensFade(t *testing.T) {
	doc, err := Slideshow(context.Background(), SlideshowOptions{Slides: FileSlides([]string{"a.png", "b.png", "c.png"}), Total: 3, Fade: 3, Seed: 1})
	if err != nil {
		t.Fatalf("Slideshow failed: %v", err)
	}
	fade := doc.Compositions[0].Tracks[1].Clips[0].FadeIn.Length
	if fade >= 3 {
		t.Errorf("fade should have been shortened, got %f", fade)
	}
	t.Logf("fade shortened to %.3fs", fade)
}

func TestGenerateScenarioPath(t *testing.T) {
	path := GenerateScenarioPath("scenarios")
	if !strings.HasPrefix(filepath.Base(path), "scenario_") || filepath.Dir(path) != "scenarios" {
		t.Errorf("unexpected path: %s", path)
	}
	t.Logf("Generated path: %s", path)
}

func TestFindLatestScenario(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		filepath.Join(dir, "scenario_2026-02-12_10-00-00.yaml"),
		filepath.Join(dir, "scenario_2026-02-13_01-00-00.yml"),
		filepath.Join(dir, "scenario_2026-02-11_15-30-00.yaml"),
	}
	for i, f := range files {
		if err := os.WriteFile(f, []byte("version: \"1\"\n"), 0644); err != nil {
			t.Fatal(err)
		}
		modTime := time.Now().Add(time.Duration(i) * time.Hour)
		os.Chtimes(f, modTime, modTime)
	}
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)

	latest, err := FindLatestScenario(dir)
	if err != nil {
		t.Fatalf("FindLatestScenario failed: %v", err)
	}
	if latest != files[len(files)-1] {
		t.Errorf("expected %s, got %s", files[len(files)-1], latest)
	}
}
