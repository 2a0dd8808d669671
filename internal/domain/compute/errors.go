package compute

import "errors"

// Sentinel kinds for compute errors.
var (
	// ErrUnavailable reports that no implementation could serve the request.
	ErrUnavailable = errors.New("compute unavailable")
	// ErrInvalidUpdate reports an out-of-contract result.
	ErrInvalidUpdate = errors.New("invalid compute update")
	// ErrRemoteStatus reports a non-2xx response from the remote service.
	ErrRemoteStatus = errors.New("unexpected remote status")
)
