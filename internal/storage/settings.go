package storage

import (
	"fmt"

	"restbreak/internal/core/model"
)

// Settings are the user preferences persisted between runs.
type Settings struct {
	Policy model.BreakPolicy

	// GrayLevel dims the screen behind the break overlay, 0 (clear) to 100 (black).
	GrayLevel  int
	Fullscreen bool
	// EscapeSkips lets the Escape key skip an interactive break.
	EscapeSkips bool
	Autostart   bool
	// History records break outcomes in the local database.
	History  bool
	LogLevel string
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	return Settings{
		Policy:      model.DefaultPolicy(),
		GrayLevel:   80,
		Fullscreen:  true,
		EscapeSkips: true,
		Autostart:   false,
		History:     true,
		LogLevel:    "info",
	}
}

// Validate checks the policy and the overlay range.
func (settings Settings) Validate() error {
	if err := settings.Policy.Validate(); err != nil {
		return err
	}
	if settings.GrayLevel < 0 || settings.GrayLevel > 100 {
		return fmt.Errorf("gray level %d out of range 0-100", settings.GrayLevel)
	}
	return nil
}

// OverlayAlpha maps GrayLevel onto an 8-bit alpha channel.
func (settings Settings) OverlayAlpha() uint8 {
	level := min(max(settings.GrayLevel, 0), 100)
	return uint8(level * 255 / 100)
}
