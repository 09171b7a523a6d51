package domain

import "errors"

var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrOverlayNotFound   = errors.New("overlay not found")
	ErrSettingNotFound   = errors.New("stream setting not found")
	ErrInvalidOverlay    = errors.New("invalid overlay")
	ErrInvalidSource     = errors.New("invalid stream source")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrSubprocessFailure = errors.New("transcoder retry budget exhausted")
)
