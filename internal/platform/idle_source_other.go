//go:build !linux

package platform

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// NewIdleSource returns a polling source over the platform idle provider.
func NewIdleSource(ctx context.Context, pollInterval time.Duration, logger zerolog.Logger) IdleSource {
	source := NewPollingIdleSource(NewIdleProvider(), pollInterval, logger)
	source.Start(ctx)
	return source
}
