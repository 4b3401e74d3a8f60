package voice

import "errors"

// ErrAlreadyStarted reports a Start call while a session is live. Exactly
// one session may be active per Controller instance; stop the current one
// first.
var ErrAlreadyStarted = errors.New("voice: session already active")
