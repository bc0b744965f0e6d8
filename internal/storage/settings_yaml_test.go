package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"restbreak/internal/core/model"
)

func TestLoadSettingsMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	got, err := LoadSettings(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if got != DefaultSettings() {
		t.Fatalf("LoadSettings() = %+v, want defaults", got)
	}
}

func TestSaveLoadSettings(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	want := DefaultSettings()
	want.Policy.TinyInterval = 10 * time.Minute
	want.Policy.TinyDuration = 30 * time.Second
	want.Policy.TinyMode = model.TinyModeSimple
	want.Policy.BigEnabled = false
	want.Policy.MaxTinyPostponements = 0
	want.Policy.IdleResetThreshold = 0
	want.GrayLevel = 40
	want.EscapeSkips = false
	want.LogLevel = "debug"

	if err := SaveSettings(path, want); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}
	got, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if got != want {
		t.Fatalf("LoadSettings() = %+v, want %+v", got, want)
	}
}

func TestLoadSettingsPartialFileKeepsDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	data := "tiny:\n  interval_minutes: 15\noverlay:\n  fullscreen: false\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	got, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	want := DefaultSettings()
	want.Policy.TinyInterval = 15 * time.Minute
	want.Fullscreen = false
	if got != want {
		t.Fatalf("LoadSettings() = %+v, want %+v", got, want)
	}
}

func TestLoadSettingsRejectsInvalidPolicy(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	data := "tiny:\n  enabled: false\nbig:\n  enabled: false\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := LoadSettings(path)
	if !errors.Is(err, model.ErrInvalidPolicy) {
		t.Fatalf("LoadSettings() error = %v, want %v", err, model.ErrInvalidPolicy)
	}
}

func TestSaveSettingsRejectsInvalid(t *testing.T) {
	t.Parallel()

	settings := DefaultSettings()
	settings.GrayLevel = 101
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := SaveSettings(path, settings); err == nil {
		t.Fatalf("SaveSettings() error = nil, want range error")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Stat() error = %v, want not exist", err)
	}
}

func TestOverlayAlpha(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level int
		want  uint8
	}{
		{0, 0},
		{50, 127},
		{100, 255},
		{150, 255},
	}
	for _, tc := range cases {
		settings := Settings{GrayLevel: tc.level}
		if got := settings.OverlayAlpha(); got != tc.want {
			t.Fatalf("OverlayAlpha(%d) = %d, want %d", tc.level, got, tc.want)
		}
	}
}
