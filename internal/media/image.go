package media

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"slices"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ivlev/timeline/internal/project"
	"github.com/ivlev/timeline/internal/system"
	"github.com/ivlev/timeline/internal/timebase"
)

func isImageExt(ext string) bool {
	return slices.Contains(system.ImageExtensions, ext)
}

// ImageDecoder reads stills and image sequences. A directory is a
// sequence ordered by file name, one image per FrameTicks.
type ImageDecoder struct {
	FrameTicks timebase.Tick
	// MaxCached bounds the decoded images kept in memory.
	MaxCached int

	mu     sync.Mutex
	cache  map[string]image.Image
	order  []string
	listed map[string][]string
}

func NewImageDecoder(frameTicks timebase.Tick) *ImageDecoder {
	return &ImageDecoder{FrameTicks: frameTicks, MaxCached: 64}
}

func (d *ImageDecoder) DecodeFrame(ctx context.Context, ref project.MediaRef, local timebase.Tick) (image.Image, error) {
	path, err := d.resolve(ref.Path, local)
	if err != nil {
		return nil, err
	}
	if img, ok := d.cached(path); ok {
		return img, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	d.remember(path, img)
	return img, nil
}

// Dimensions returns the size of the first image without decoding pixels.
func (d *ImageDecoder) Dimensions(path string) (int, int, error) {
	p, err := d.resolve(path, 0)
	if err != nil {
		return 0, 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func (d *ImageDecoder) resolve(path string, local timebase.Tick) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return path, nil
	}

	d.mu.Lock()
	files, ok := d.listed[path]
	d.mu.Unlock()
	if !ok {
		files, err = system.ListFiles(path, system.ImageExtensions)
		if err != nil {
			return "", err
		}
		d.mu.Lock()
		if d.listed == nil {
			d.listed = make(map[string][]string)
		}
		d.listed[path] = files
		d.mu.Unlock()
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no images in %s", path)
	}
	i := 0
	if d.FrameTicks > 0 && local > 0 {
		i = int(local / d.FrameTicks)
	}
	return files[min(i, len(files)-1)], nil
}

func (d *ImageDecoder) cached(path string) (image.Image, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.cache[path]
	return img, ok
}

func (d *ImageDecoder) remember(path string, img image.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cache == nil {
		d.cache = make(map[string]image.Image)
	}
	if _, ok := d.cache[path]; ok {
		return
	}
	if d.MaxCached > 0 && len(d.order) >= d.MaxCached {
		delete(d.cache, d.order[0])
		d.order = d.order[1:]
	}
	d.cache[path] = img
	d.order = append(d.order, path)
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return img, nil
}
