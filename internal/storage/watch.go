package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	reloadDebounce     = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// SettingsWatcher reloads the settings file when it changes on disk and
// publishes every valid, changed result to its subscribers.
type SettingsWatcher struct {
	path string
	log  zerolog.Logger

	mu      sync.Mutex
	current Settings

	subsMu sync.Mutex
	subs   []chan Settings
}

// NewSettingsWatcher starts from the settings already loaded from path.
func NewSettingsWatcher(path string, current Settings, logger zerolog.Logger) *SettingsWatcher {
	return &SettingsWatcher{
		path:    path,
		current: current,
		log:     logger.With().Str("component", "settings_watch").Str("path", path).Logger(),
	}
}

// Current returns the last committed settings.
func (watcher *SettingsWatcher) Current() Settings {
	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	return watcher.current
}

// Commit records settings written by this process so the resulting file event
// is not published back as a change.
func (watcher *SettingsWatcher) Commit(settings Settings) {
	watcher.mu.Lock()
	watcher.current = settings
	watcher.mu.Unlock()
}

// Apply commits settings saved by this process and publishes them at once.
func (watcher *SettingsWatcher) Apply(settings Settings) {
	watcher.Commit(settings)
	watcher.publish(settings)
}

// Subscribe returns a channel that always holds the newest published settings.
func (watcher *SettingsWatcher) Subscribe(buffer int) <-chan Settings {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Settings, buffer)
	watcher.subsMu.Lock()
	watcher.subs = append(watcher.subs, ch)
	watcher.subsMu.Unlock()
	return ch
}

// Reload reads the file once and publishes it if it differs from Current.
func (watcher *SettingsWatcher) Reload() {
	settings, err := LoadSettings(watcher.path)
	if err != nil {
		watcher.log.Warn().Err(err).Msg("settings rejected")
		return
	}
	watcher.mu.Lock()
	unchanged := settings == watcher.current
	if !unchanged {
		watcher.current = settings
	}
	watcher.mu.Unlock()
	if unchanged {
		watcher.log.Debug().Msg("settings unchanged; skipping publish")
		return
	}
	watcher.publish(settings)
	watcher.log.Info().Msg("settings reloaded")
}

func (watcher *SettingsWatcher) publish(settings Settings) {
	watcher.subsMu.Lock()
	defer watcher.subsMu.Unlock()
	for _, ch := range watcher.subs {
		select {
		case ch <- settings:
			continue
		default:
		}
		// Drop the oldest pending update, then deliver the newest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- settings:
		default:
			watcher.log.Debug().Msg("settings update dropped (subscriber slow)")
		}
	}
}

// Watch blocks until ctx is done. The fsnotify watcher is recreated with
// exponential backoff whenever it breaks.
func (watcher *SettingsWatcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(watcher.path)
	file := filepath.Base(watcher.path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, watcher.Reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	backoff := restartBackoffBase
	wait := func() bool {
		delay := backoff
		backoff = min(backoff*2, restartBackoffMax)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
			return true
		}
	}

	for ctx.Err() == nil {
		fsWatcher, err := fsnotify.NewWatcher()
		if err != nil {
			watcher.log.Warn().Err(err).Msg("settings watch init failed")
			if !wait() {
				return nil
			}
			continue
		}
		if err := fsWatcher.Add(dir); err != nil {
			_ = fsWatcher.Close()
			watcher.log.Warn().Err(err).Str("dir", dir).Msg("settings watch add failed")
			if !wait() {
				return nil
			}
			continue
		}
		backoff = restartBackoffBase
		watcher.log.Debug().Str("dir", dir).Msg("settings watcher started")

		broken := watcher.consume(ctx, fsWatcher, file, debounce)
		_ = fsWatcher.Close()
		if !broken {
			return nil
		}
		watcher.log.Warn().Msg("settings watcher stopped; restarting")
		if !wait() {
			return nil
		}
	}
	return nil
}

// consume forwards matching file events until ctx ends (false) or the
// watcher breaks (true).
func (watcher *SettingsWatcher) consume(ctx context.Context, fsWatcher *fsnotify.Watcher, file string, debounce func()) bool {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	for {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return true
			}
			if strings.EqualFold(filepath.Base(event.Name), file) && event.Op&relevant != 0 {
				debounce()
			}
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return true
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				watcher.log.Warn().Err(err).Msg("settings watch overflow; forcing reload")
				debounce()
				continue
			}
			watcher.log.Warn().Err(err).Msg("settings watch error")
		}
	}
}
