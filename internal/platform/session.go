package platform

import "errors"

// ErrSessionUnsupported indicates no session manager integration is available.
var ErrSessionUnsupported = errors.New("session integration unsupported")
