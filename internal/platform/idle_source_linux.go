package platform

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewIdleSource picks the best idle backend for the running session. Wayland
// sessions use ext-idle-notify; everything else polls the platform provider.
func NewIdleSource(ctx context.Context, pollInterval time.Duration, logger zerolog.Logger) IdleSource {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		source, err := NewWaylandIdleSource(logger)
		if err == nil {
			logger.Info().Str("backend", "wayland").Msg("idle source ready")
			return source
		}
		logger.Warn().Err(err).Msg("Wayland idle notifier unavailable, falling back to polling")
	}
	source := NewPollingIdleSource(NewIdleProvider(), pollInterval, logger)
	source.Start(ctx)
	logger.Info().Str("backend", "poll").Msg("idle source ready")
	return source
}
