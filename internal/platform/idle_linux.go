package platform

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	mutterIdleDest   = "org.gnome.Mutter.IdleMonitor"
	mutterIdlePath   = dbus.ObjectPath("/org/gnome/Mutter/IdleMonitor/Core")
	mutterIdleMethod = "org.gnome.Mutter.IdleMonitor.GetIdletime"
)

// chainIdleProvider asks each backend in turn and sticks with the first one
// that answers.
type chainIdleProvider struct {
	mu       sync.Mutex
	backends []IdleProvider
	chosen   IdleProvider
}

func newIdleProvider() IdleProvider {
	var backends []IdleProvider
	if os.Getenv("DISPLAY") != "" {
		if path, err := exec.LookPath("xprintidle"); err == nil {
			backends = append(backends, xprintidleProvider{path: path})
		}
	}
	backends = append(backends, &mutterIdleProvider{})
	return &chainIdleProvider{backends: backends}
}

func (chain *chainIdleProvider) IdleDuration() (time.Duration, error) {
	chain.mu.Lock()
	chosen := chain.chosen
	chain.mu.Unlock()
	if chosen != nil {
		return chosen.IdleDuration()
	}

	var errs []error
	for _, backend := range chain.backends {
		idle, err := backend.IdleDuration()
		if err == nil {
			chain.mu.Lock()
			chain.chosen = backend
			chain.mu.Unlock()
			return idle, nil
		}
		errs = append(errs, err)
	}
	return 0, fmt.Errorf("%w: %w", ErrIdleUnsupported, errors.Join(errs...))
}

// xprintidleProvider reads X11 idle time through the xprintidle tool.
type xprintidleProvider struct {
	path string
}

func (provider xprintidleProvider) IdleDuration() (time.Duration, error) {
	output, err := exec.Command(provider.path).Output()
	if err != nil {
		return 0, fmt.Errorf("xprintidle: %w", err)
	}
	return parseIdleMillis(string(output))
}

// mutterIdleProvider asks GNOME Shell, which also covers GNOME on Wayland.
type mutterIdleProvider struct {
	once sync.Once
	conn *dbus.Conn
	err  error
}

func (provider *mutterIdleProvider) IdleDuration() (time.Duration, error) {
	provider.once.Do(func() {
		provider.conn, provider.err = dbus.ConnectSessionBus()
	})
	if provider.err != nil {
		return 0, fmt.Errorf("mutter idle monitor: connect session bus: %w", provider.err)
	}
	var idleMillis uint64
	call := provider.conn.Object(mutterIdleDest, mutterIdlePath).Call(mutterIdleMethod, 0)
	if err := call.Store(&idleMillis); err != nil {
		return 0, fmt.Errorf("mutter idle monitor: %w", err)
	}
	return time.Duration(idleMillis) * time.Millisecond, nil
}

func parseIdleMillis(output string) (time.Duration, error) {
	value := strings.TrimSpace(output)
	idleMillis, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse idle milliseconds %q: %w", value, err)
	}
	return time.Duration(max(idleMillis, 0)) * time.Millisecond, nil
}
