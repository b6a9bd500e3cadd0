package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os/exec"

	"github.com/ivlev/timeline/internal/project"
	"github.com/ivlev/timeline/internal/timebase"
)

// FFmpegDecoder extracts single frames from video files with ffmpeg.
type FFmpegDecoder struct {
	Rate int64
	Bin  string
}

func (d FFmpegDecoder) DecodeFrame(ctx context.Context, ref project.MediaRef, local timebase.Tick) (image.Image, error) {
	bin := d.Bin
	if bin == "" {
		bin = "ffmpeg"
	}
	rate := d.Rate
	if rate <= 0 {
		rate = timebase.DefaultRate
	}
	cmd := exec.CommandContext(ctx, bin, d.args(ref.Path, timebase.Seconds(local, rate))...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame error: %v, output: %s", err, stderr.String())
	}
	return png.Decode(&stdout)
}

func (d FFmpegDecoder) args(path string, seconds float64) []string {
	return []string{
		"-v", "error",
		"-ss", fmt.Sprintf("%f", max(seconds, 0)),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	}
}
