package realtime

import "errors"

// Realtime errors.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrStreaming      = errors.New("streaming unsupported")
	ErrBusUnavailable = errors.New("realtime bus unavailable")
)
