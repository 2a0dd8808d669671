package battle

import "errors"

// Session errors.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrNotParticipant    = errors.New("not a session participant")
	ErrPlayerBusy        = errors.New("player already in an active session")
	ErrInvalidMatch      = errors.New("invalid match request")
	ErrEmptySubmission   = errors.New("empty code submission")
)
