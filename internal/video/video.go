// Package video writes exported frames to ffmpeg or to image files.
package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/ivlev/timeline/internal/system"
)

var ErrNotStarted = errors.New("sink not started")

// Format describes the frames a sink receives.
type Format struct {
	Width, Height int
	FPS           int
}

// Sink consumes rendered frames in presentation order.
type Sink interface {
	Begin(ctx context.Context, f Format) error
	WriteFrame(img image.Image) error
	Close() error
}

// FFmpegSink pipes raw RGBA frames into an ffmpeg encoder.
type FFmpegSink struct {
	Path    string
	Encoder string // "auto" probes for a hardware encoder
	Quality int
	// Audio is muxed in when set; the output stops at the shorter stream.
	Audio string
	Bin   string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	w      *bufio.Writer
	stderr bytes.Buffer
	format Format
	frames int
	mu     sync.Mutex
}

func (e *FFmpegSink) Begin(ctx context.Context, f Format) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Encoder == "" || e.Encoder == "auto" {
		e.Encoder = system.GetBestH264Encoder()
	}
	bin := e.Bin
	if bin == "" {
		bin = "ffmpeg"
	}
	e.format = f
	e.cmd = exec.CommandContext(ctx, bin, e.buildFFmpegArgs(f)...)
	e.cmd.Stderr = &e.stderr

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe error: %w", err)
	}
	if err := e.cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start error: %w", err)
	}
	e.stdin = stdin
	e.w = bufio.NewWriterSize(stdin, f.Width*f.Height*4)
	return nil
}

func (e *FFmpegSink) buildFFmpegArgs(f Format) []string {
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", f.Width, f.Height),
		"-framerate", fmt.Sprintf("%d", f.FPS),
		"-i", "-",
	}
	if e.Audio != "" {
		args = append(args, "-i", e.Audio, "-map", "0:v", "-map", "1:a", "-c:a", "aac", "-shortest")
	}
	args = append(args, "-pix_fmt", "yuv420p", "-c:v", e.Encoder)

	// Качество в зависимости от энкодера
	switch e.Encoder {
	case "h264_videotoolbox":
		bitrate := e.Quality * 100
		args = append(args, "-b:v", fmt.Sprintf("%dk", bitrate))
	case "h264_nvenc":
		args = append(args, "-cq", fmt.Sprintf("%d", e.Quality))
	default: // libx264
		args = append(args, "-crf", fmt.Sprintf("%d", e.Quality), "-preset", "medium")
	}

	return append(args, e.Path)
}

func (e *FFmpegSink) WriteFrame(img image.Image) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.w == nil {
		return ErrNotStarted
	}
	if b := img.Bounds(); b.Dx() != e.format.Width || b.Dy() != e.format.Height {
		return fmt.Errorf("frame %d is %dx%d, want %dx%d", e.frames, b.Dx(), b.Dy(), e.format.Width, e.format.Height)
	}
	// Запись raw RGBA данных
	if err := writeRawRGBA(e.w, img); err != nil {
		return fmt.Errorf("write raw error: %w", err)
	}
	e.frames++
	return nil
}

func (e *FFmpegSink) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd == nil {
		return nil
	}
	flushErr := e.w.Flush()
	e.stdin.Close()
	err := e.cmd.Wait()
	e.cmd = nil
	e.w = nil
	if err != nil {
		return fmt.Errorf("ffmpeg wait error: %w, output: %s", err, e.stderr.String())
	}
	return flushErr
}

// Frames reports how many frames were written.
func (e *FFmpegSink) Frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

func writeRawRGBA(w io.Writer, img image.Image) error {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	// Проверяем, является ли изображение уже RGBA и имеет ли стандартный шаг (stride)
	if !ok || rgba.Stride != bounds.Dx()*4 || rgba.Rect.Min.X != 0 || rgba.Rect.Min.Y != 0 {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Rect, img, bounds.Min, draw.Src)
	}
	_, err := w.Write(rgba.Pix)
	return err
}

// PNGSink writes numbered PNG files into Dir.
type PNGSink struct {
	Dir     string
	Pattern string // default "frame_%06d.png"

	enc    png.Encoder
	frames int
}

func (s *PNGSink) Begin(ctx context.Context, f Format) error {
	if s.Pattern == "" {
		s.Pattern = "frame_%06d.png"
	}
	s.enc.CompressionLevel = png.BestSpeed
	return os.MkdirAll(s.Dir, 0755)
}

func (s *PNGSink) WriteFrame(img image.Image) error {
	path := filepath.Join(s.Dir, fmt.Sprintf(s.Pattern, s.frames))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.enc.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	s.frames++
	return f.Close()
}

func (s *PNGSink) Close() error { return nil }

func (s *PNGSink) Frames() int { return s.frames }
