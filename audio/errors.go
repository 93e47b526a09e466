package audio

import "errors"

// Sentinel errors returned by Open and FindDeviceByName. The lifecycle controller
// surfaces these to the caller of start() without retrying.
var (
	ErrDeviceUnavailable = errors.New("audio: no matching capture device available")
	ErrPermissionDenied  = errors.New("audio: OS denied capture permission")
	ErrUnsupportedFormat = errors.New("audio: no compatible stream configuration")
)
