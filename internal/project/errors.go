package project

import "errors"

var (
	ErrTypeMismatch        = errors.New("media kind does not match track kind")
	ErrClipNotFound        = errors.New("clip not found")
	ErrTrackNotFound       = errors.New("track not found")
	ErrCompositionNotFound = errors.New("composition not found")
	ErrInvalidDuration     = errors.New("invalid duration")
	ErrInvalidPosition     = errors.New("invalid position")
	ErrInvalidSplit        = errors.New("split point outside clip")
	ErrCyclicComposition   = errors.New("composition would contain itself")
	ErrCompositionInUse    = errors.New("composition is referenced by a clip")
	ErrTrackLocked         = errors.New("track is locked")
	ErrKeyNotFound         = errors.New("keyframe not found")
)
