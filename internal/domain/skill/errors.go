package skill

import "errors"

// ErrInvalidParameter rejects non-finite or out-of-range model inputs.
var ErrInvalidParameter = errors.New("invalid parameter")
