package compute

import (
	"image"

	"github.com/ivlev/timeline/internal/project"
)

// blendRows blends rows [y0,y1) of src over dst. Both are premultiplied
// and share bounds.
func blendRows(dst, src *image.RGBA, y0, y1 int, opacity float64, mode project.BlendMode) {
	op := float32(min(opacity, 1))
	w := dst.Rect.Dx()
	for y := y0; y < y1; y++ {
		d := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		s := src.Pix[y*src.Stride : y*src.Stride+w*4]
		for i := 0; i < len(d); i += 4 {
			if s[i+3] == 0 {
				continue
			}
			sa := float32(s[i+3]) / 255 * op
			da := float32(d[i+3]) / 255
			for c := 0; c < 3; c++ {
				sc := float32(s[i+c]) / 255 * op
				dc := float32(d[i+c]) / 255
				d[i+c] = to8(blend(mode, sc, sa, dc, da))
			}
			if mode == project.BlendAdd {
				d[i+3] = to8(sa + da)
			} else {
				d[i+3] = to8(sa + da*(1-sa))
			}
		}
	}
}

// blend combines premultiplied channel values.
func blend(mode project.BlendMode, sc, sa, dc, da float32) float32 {
	switch mode {
	case project.BlendAdd:
		return sc + dc
	case project.BlendMultiply:
		return sc*dc + sc*(1-da) + dc*(1-sa)
	case project.BlendScreen:
		return sc + dc - sc*dc
	default:
		return sc + dc*(1-sa)
	}
}

func to8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
