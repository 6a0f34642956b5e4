package media

import "errors"

var (
	// ErrNotStarted means a toggle arrived before Start acquired a capture.
	ErrNotStarted = errors.New("local media not started")
	// ErrNoDevice means the platform capture device is unavailable or
	// permission was denied.
	ErrNoDevice = errors.New("capture device unavailable")
)
