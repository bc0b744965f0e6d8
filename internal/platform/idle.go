package platform

import (
	"fmt"
	"time"

	"restbreak/internal/core/model"
)

// ErrIdleUnsupported indicates idle detection is not available on this system.
var ErrIdleUnsupported = fmt.Errorf("%w: idle provider unsupported", model.ErrAdapterUnavailable)

// IdleProvider returns the duration since last user input.
type IdleProvider interface {
	IdleDuration() (time.Duration, error)
}

// NewIdleProvider returns a platform-specific idle provider.
func NewIdleProvider() IdleProvider {
	return newIdleProvider()
}

// IdleSource turns idle time into one-shot watch and resume notifications.
type IdleSource interface {
	ArmIdleWatch(d time.Duration) (model.WatchID, error)
	CancelAllWatches()
	WatchForResume()
	SetHandler(handler func(model.IdleSignal))
	Close() error
}
