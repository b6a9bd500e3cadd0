package media

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/ivlev/timeline/internal/project"
	"github.com/ivlev/timeline/internal/timebase"
)

// Generator paths:
//
//	color:#rrggbb[aa]  solid fill
//	qr:<text>          QR code of text
const (
	schemeColor = "color:"
	schemeQR    = "qr:"
)

func isGenerator(path string) bool {
	return strings.HasPrefix(path, schemeColor) || strings.HasPrefix(path, schemeQR)
}

// GeneratorDecoder synthesizes frames. Size is the edge of QR codes and
// solid fills are Size×Size; the compositor scales them to the frame.
type GeneratorDecoder struct {
	Size int
}

func (g GeneratorDecoder) DecodeFrame(ctx context.Context, ref project.MediaRef, local timebase.Tick) (image.Image, error) {
	size := g.Size
	if size <= 0 {
		size = 256
	}
	switch {
	case strings.HasPrefix(ref.Path, schemeColor):
		c, err := ParseHexColor(strings.TrimPrefix(ref.Path, schemeColor))
		if err != nil {
			return nil, err
		}
		img := image.NewRGBA(image.Rect(0, 0, size, size))
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
		}
		return img, nil
	case strings.HasPrefix(ref.Path, schemeQR):
		return QRCode(strings.TrimPrefix(ref.Path, schemeQR), size)
	}
	return nil, fmt.Errorf("%w: generator %q", ErrUnsupported, ref.Path)
}

// QRCode renders text as a size×size QR image.
func QRCode(text string, size int) (image.Image, error) {
	q, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	return q.Image(size), nil
}

// ParseHexColor parses #rgb, #rrggbb or #rrggbbaa. The result is
// premultiplied.
func ParseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) == 6 {
		s += "ff"
	}
	if len(s) != 8 {
		return color.RGBA{}, fmt.Errorf("bad color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("bad color %q: %w", s, err)
	}
	nc := color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
	return color.RGBAModel.Convert(nc).(color.RGBA), nil
}
