package render

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/ivlev/timeline/internal/media"
)

var slateColor = color.RGBA{40, 40, 48, 255}

// Placeholder draws a dark slate with a QR code of text in the middle.
func Placeholder(w, h int, text string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.Draw(img, img.Bounds(), image.NewUniform(slateColor), image.Point{}, draw.Src)

	side := min(w, h) / 2
	if side < 21 || text == "" {
		return img
	}
	qr, err := media.QRCode(text, side)
	if err != nil {
		return img
	}
	at := image.Pt((w-side)/2, (h-side)/2)
	draw.NearestNeighbor.Scale(img, image.Rectangle{Min: at, Max: at.Add(image.Pt(side, side))}, qr, qr.Bounds(), draw.Src, nil)
	return img
}
