package video

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestBuildFFmpegArgs(t *testing.T) {
	tests := []struct {
		encoder string
		audio   string
		want    []string
	}{
		{"libx264", "", []string{"-crf", "23", "-preset", "medium"}},
		{"h264_nvenc", "", []string{"-cq", "23"}},
		{"h264_videotoolbox", "", []string{"-b:v", "2300k"}},
		{"libx264", "song.mp3", []string{"-i", "song.mp3", "-map", "1:a", "-shortest"}},
	}

	for _, tt := range tests {
		t.Run(tt.encoder+tt.audio, func(t *testing.T) {
			e := &FFmpegSink{Path: "out.mp4", Encoder: tt.encoder, Quality: 23, Audio: tt.audio}
			args := e.buildFFmpegArgs(Format{Width: 1280, Height: 720, FPS: 30})
			joined := strings.Join(args, " ")
			for _, w := range tt.want {
				if !slices.Contains(args, w) {
					t.Errorf("missing %q in %s", w, joined)
				}
			}
			if !strings.Contains(joined, "-video_size 1280x720") || !strings.Contains(joined, "-framerate 30") {
				t.Errorf("bad input args: %s", joined)
			}
			if args[len(args)-1] != "out.mp4" {
				t.Errorf("output path must come last: %s", joined)
			}
		})
	}
}

func TestWriteRawRGBA(t *testing.T) {
	// offset sub-image forces a copy
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	src.Set(1, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	sub := src.SubImage(image.Rect(1, 1, 3, 3))

	var buf bytes.Buffer
	if err := writeRawRGBA(&buf, sub); err != nil {
		t.Fatalf("writeRawRGBA failed: %v", err)
	}
	if buf.Len() != 2*2*4 {
		t.Fatalf("expected 16 bytes, got %d", buf.Len())
	}
	if got := buf.Bytes()[:4]; !bytes.Equal(got, []byte{10, 20, 30, 255}) {
		t.Errorf("first pixel: %v", got)
	}
}

func TestFFmpegSinkNotStarted(t *testing.T) {
	e := &FFmpegSink{}
	if err := e.WriteFrame(image.NewRGBA(image.Rect(0, 0, 2, 2))); err != ErrNotStarted {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close on idle sink: %v", err)
	}
}

func TestPNGSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	s := &PNGSink{Dir: dir}
	if err := s.Begin(context.Background(), Format{Width: 8, Height: 8, FPS: 25}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		img.Set(0, 0, color.RGBA{R: uint8(i * 50), A: 255})
		if err := s.WriteFrame(img); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if s.Frames() != 3 {
		t.Errorf("expected 3 frames, got %d", s.Frames())
	}

	f, err := os.Open(filepath.Join(dir, "frame_000002.png"))
	if err != nil {
		t.Fatalf("third frame missing: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if r, _, _, _ := img.At(0, 0).RGBA(); r>>8 != 100 {
		t.Errorf("expected red 100, got %d", r>>8)
	}
}
