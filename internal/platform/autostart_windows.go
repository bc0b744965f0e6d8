//go:build windows

package platform

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

const runKey = `HKCU\Software\Microsoft\Windows\CurrentVersion\Run`

func (autostart *Autostart) install() error {
	value := `"` + strings.Trim(autostart.execPath, `"`) + `"`
	return reg("add", runKey, "/v", autostart.appName, "/t", "REG_SZ", "/d", value, "/f")
}

func (autostart *Autostart) remove() error {
	return reg("delete", runKey, "/v", autostart.appName, "/f")
}

func reg(args ...string) error {
	output, err := exec.Command("reg", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("reg %s: %w: %s", args[0], err, strings.TrimSpace(string(output)))
	}
	return nil
}

func fallbackConfigDir(homeDir string) string {
	return filepath.Join(homeDir, "AppData", "Roaming")
}
