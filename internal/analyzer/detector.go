// Package analyzer finds regions of interest on stills. The slideshow
// generator frames them with camera moves.
package analyzer

import (
	"errors"
	"image"
)

var (
	ErrEmptyImage      = errors.New("analyzer: empty image")
	ErrUnknownDetector = errors.New("analyzer: unknown detector")
)

// Block is a detected region in the coordinates of the analyzed image.
type Block struct {
	Rect image.Rectangle
	// Density is the share of edge pixels inside Rect, 0..1.
	Density float64
}

func (b Block) Area() int { return b.Rect.Dx() * b.Rect.Dy() }

// Detector is an image analysis strategy.
type Detector interface {
	Detect(img image.Image) ([]Block, error)
}
