package platform

import (
	"fmt"
	"os"
	"strings"
)

// Autostart registers the application to launch at login.
type Autostart struct {
	appName  string
	execPath string
}

// NewAutostart prepares autostart for the running executable.
func NewAutostart(appName string) (*Autostart, error) {
	name := strings.TrimSpace(appName)
	if name == "" {
		return nil, fmt.Errorf("autostart: app name is empty")
	}
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("autostart: resolve executable: %w", err)
	}
	return &Autostart{appName: name, execPath: execPath}, nil
}

// Apply installs or removes the login entry.
func (autostart *Autostart) Apply(enabled bool) error {
	if enabled {
		if err := autostart.install(); err != nil {
			return fmt.Errorf("enable autostart: %w", err)
		}
		return nil
	}
	if err := autostart.remove(); err != nil {
		return fmt.Errorf("disable autostart: %w", err)
	}
	return nil
}

// ConfigDir returns the OS-standard configuration directory.
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err == nil && configDir != "" {
		return configDir, nil
	}
	homeDir, homeErr := os.UserHomeDir()
	if homeErr != nil {
		if err != nil {
			return "", fmt.Errorf("get config dir: %w", err)
		}
		return "", fmt.Errorf("get config dir: %w", homeErr)
	}
	return fallbackConfigDir(homeDir), nil
}

func slug(appName string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(appName)), " ", "-")
}
