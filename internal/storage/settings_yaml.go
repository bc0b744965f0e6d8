package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"restbreak/internal/core/model"
	"restbreak/internal/platform"
)

const settingsFileName = "settings.yaml"

// yamlSettings is the on-disk layout. Pointers distinguish a missing key from
// an explicit zero so absent keys keep their defaults.
type yamlSettings struct {
	Tiny struct {
		Enabled          *bool  `yaml:"enabled"`
		Mode             string `yaml:"mode,omitempty"`
		IntervalMinutes  *int   `yaml:"interval_minutes"`
		DurationSeconds  *int   `yaml:"duration_seconds"`
		MaxPostponements *int   `yaml:"max_postponements"`
	} `yaml:"tiny"`
	Big struct {
		Enabled          *bool `yaml:"enabled"`
		IntervalMinutes  *int  `yaml:"interval_minutes"`
		DurationMinutes  *int  `yaml:"duration_minutes"`
		MaxPostponements *int  `yaml:"max_postponements"`
	} `yaml:"big"`
	PostponeMinutes  *int  `yaml:"postpone_minutes"`
	IdleResetMinutes *int  `yaml:"idle_reset_minutes"`
	SuspendOnLock    *bool `yaml:"suspend_on_lock"`

	Overlay struct {
		GrayLevel   *int  `yaml:"gray_level"`
		Fullscreen  *bool `yaml:"fullscreen"`
		EscapeSkips *bool `yaml:"escape_skips"`
	} `yaml:"overlay"`
	Autostart *bool  `yaml:"autostart"`
	History   *bool  `yaml:"history"`
	LogLevel  string `yaml:"log_level,omitempty"`
}

// SettingsPath returns the settings file location for appName.
func SettingsPath(appName string) (string, error) {
	configDir, err := platform.ConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve settings path: %w", err)
	}
	return filepath.Join(configDir, appName, settingsFileName), nil
}

// LoadSettings reads preferences from the YAML file at path. A missing file
// yields the defaults. Settings that fail validation are returned together
// with the error so callers can decide whether to fall back.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	rawData, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return settings, fmt.Errorf("read settings file: %w", err)
	}

	var fileData yamlSettings
	if err := yaml.Unmarshal(rawData, &fileData); err != nil {
		return settings, fmt.Errorf("parse settings yaml: %w", err)
	}
	applyYamlSettings(&settings, fileData)
	if err := settings.Validate(); err != nil {
		return settings, fmt.Errorf("settings %s: %w", path, err)
	}
	return settings, nil
}

// SaveSettings writes preferences to path, replacing the file atomically.
func SaveSettings(path string, settings Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	serialized, err := yaml.Marshal(toYamlSettings(settings))
	if err != nil {
		return fmt.Errorf("marshal settings yaml: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), settingsFileName+".*")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(serialized); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}

func toYamlSettings(settings Settings) yamlSettings {
	policy := settings.Policy
	var fileData yamlSettings
	fileData.Tiny.Enabled = ptr(policy.TinyEnabled)
	fileData.Tiny.Mode = string(policy.TinyMode)
	fileData.Tiny.IntervalMinutes = ptr(int(policy.TinyInterval / time.Minute))
	fileData.Tiny.DurationSeconds = ptr(int(policy.TinyDuration / time.Second))
	fileData.Tiny.MaxPostponements = ptr(policy.MaxTinyPostponements)
	fileData.Big.Enabled = ptr(policy.BigEnabled)
	fileData.Big.IntervalMinutes = ptr(int(policy.BigInterval / time.Minute))
	fileData.Big.DurationMinutes = ptr(int(policy.BigDuration / time.Minute))
	fileData.Big.MaxPostponements = ptr(policy.MaxBigPostponements)
	fileData.PostponeMinutes = ptr(int(policy.PostponeLength / time.Minute))
	fileData.IdleResetMinutes = ptr(int(policy.IdleResetThreshold / time.Minute))
	fileData.SuspendOnLock = ptr(policy.SuspendOnLock)
	fileData.Overlay.GrayLevel = ptr(settings.GrayLevel)
	fileData.Overlay.Fullscreen = ptr(settings.Fullscreen)
	fileData.Overlay.EscapeSkips = ptr(settings.EscapeSkips)
	fileData.Autostart = ptr(settings.Autostart)
	fileData.History = ptr(settings.History)
	fileData.LogLevel = settings.LogLevel
	return fileData
}

func applyYamlSettings(settings *Settings, fileData yamlSettings) {
	policy := &settings.Policy
	setBool(&policy.TinyEnabled, fileData.Tiny.Enabled)
	if fileData.Tiny.Mode != "" {
		policy.TinyMode = model.TinyMode(fileData.Tiny.Mode)
	}
	setDuration(&policy.TinyInterval, fileData.Tiny.IntervalMinutes, time.Minute)
	setDuration(&policy.TinyDuration, fileData.Tiny.DurationSeconds, time.Second)
	setInt(&policy.MaxTinyPostponements, fileData.Tiny.MaxPostponements)
	setBool(&policy.BigEnabled, fileData.Big.Enabled)
	setDuration(&policy.BigInterval, fileData.Big.IntervalMinutes, time.Minute)
	setDuration(&policy.BigDuration, fileData.Big.DurationMinutes, time.Minute)
	setInt(&policy.MaxBigPostponements, fileData.Big.MaxPostponements)
	setDuration(&policy.PostponeLength, fileData.PostponeMinutes, time.Minute)
	setDuration(&policy.IdleResetThreshold, fileData.IdleResetMinutes, time.Minute)
	setBool(&policy.SuspendOnLock, fileData.SuspendOnLock)

	setInt(&settings.GrayLevel, fileData.Overlay.GrayLevel)
	setBool(&settings.Fullscreen, fileData.Overlay.Fullscreen)
	setBool(&settings.EscapeSkips, fileData.Overlay.EscapeSkips)
	setBool(&settings.Autostart, fileData.Autostart)
	setBool(&settings.History, fileData.History)
	if fileData.LogLevel != "" {
		settings.LogLevel = fileData.LogLevel
	}
}

func ptr[T any](v T) *T { return &v }

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *int, unit time.Duration) {
	if src != nil {
		*dst = time.Duration(*src) * unit
	}
}
