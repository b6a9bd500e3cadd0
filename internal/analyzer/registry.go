package analyzer

import "fmt"

// NewDetector returns the detector named by variant. An empty variant is
// the contrast detector.
func NewDetector(variant string) (Detector, error) {
	switch variant {
	case "contrast", "":
		return NewContrastDetector(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDetector, variant)
	}
}
