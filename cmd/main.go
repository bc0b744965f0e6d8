package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog"

	"restbreak/internal/core/model"
	"restbreak/internal/core/scheduler"
	"restbreak/internal/logging"
	"restbreak/internal/platform"
	"restbreak/internal/storage"
	"restbreak/internal/ui/overlay"
	"restbreak/internal/ui/preferences"
	"restbreak/internal/ui/tray"
)

const (
	appName = "restbreak"
	appID   = "org.restbreak.app"

	requestPreferences = "preferences"

	idlePollInterval = time.Second
	statusInterval   = time.Second
	statsInterval    = time.Minute
	historyRetention = 90 * 24 * time.Hour
	shutdownTimeout  = 3 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run() error {
	guard, err := platform.AcquireSingleInstance(appName)
	if errors.Is(err, platform.ErrAlreadyRunning) {
		// Bring the running instance forward instead of starting a second scheduler.
		if notifyErr := platform.NotifyRunning(appName, requestPreferences); notifyErr != nil {
			return fmt.Errorf("%w (notify: %v)", err, notifyErr)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("single instance: %w", err)
	}
	defer func() {
		_ = guard.Release()
	}()

	settingsPath, err := storage.SettingsPath(appName)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(settingsPath)
	firstRun := errors.Is(statErr, fs.ErrNotExist)
	settings, loadErr := storage.LoadSettings(settingsPath)
	if loadErr != nil {
		settings = storage.DefaultSettings()
	}

	logger, logCloser, logErr := logging.New(logging.Config{
		Level: settings.LogLevel,
		File:  os.Getenv("RESTBREAK_LOG_FILE"),
	})
	defer func() {
		_ = logCloser.Close()
	}()
	if logErr != nil {
		logger.Warn().Err(logErr).Msg("log file unavailable")
	}
	if loadErr != nil {
		logger.Warn().Err(loadErr).Str("path", settingsPath).Msg("settings rejected; using defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	autostart, err := platform.NewAutostart(appName)
	if err != nil {
		logger.Warn().Err(err).Msg("autostart unavailable")
	} else if err := autostart.Apply(settings.Autostart); err != nil {
		logger.Warn().Err(err).Msg("apply autostart")
	}

	history := openHistory(ctx, logger)
	if history != nil {
		defer func() {
			_ = history.Close()
		}()
	}

	fyneApp := app.NewWithID(appID)
	fyneApp.SetIcon(theme.VisibilityIcon())
	desktopApp, ok := fyneApp.(desktop.App)
	if !ok {
		return errors.New("system tray unsupported on this platform")
	}

	trayWindow := fyneApp.NewWindow(appName)
	trayWindow.SetContent(widget.NewLabel("restbreak is running in the system tray."))
	trayWindow.SetCloseIntercept(trayWindow.Hide)
	desktopApp.SetSystemTrayWindow(trayWindow)

	idle := platform.NewIdleSource(ctx, idlePollInterval, logger)
	defer func() {
		_ = idle.Close()
	}()

	var lockSession scheduler.Session
	session, err := platform.NewLogindSession(logger)
	if err != nil {
		logger.Info().Err(err).Msg("session lock integration disabled")
	} else {
		defer func() {
			_ = session.Close()
		}()
		lockSession = session
	}

	var ctl *controller
	overlayWindow := overlay.New(fyneApp, overlayConfig(settings), overlay.Actions{
		Skip:     func() { ctl.Skip() },
		Postpone: func() { ctl.Postpone() },
		Lock:     func() { ctl.Lock() },
	}, logger)

	kick := make(chan struct{}, 1)
	ctl = newController(scheduler.Dependencies{
		Idle:    idle,
		Overlay: overlayWindow,
		Session: lockSession,
		Logger:  &logger,
	}, history, func(scheduler.Event) {
		select {
		case kick <- struct{}{}:
		default:
		}
	}, logger)

	if session != nil {
		session.SetHandler(platform.SessionEvents{
			Locked:   func(locked bool) { ctl.SessionLocked(ctx, locked) },
			Sleeping: func(sleeping bool) { ctl.Sleeping(ctx, sleeping) },
		})
	}

	watcher := storage.NewSettingsWatcher(settingsPath, settings, logger)
	prefsWindow := preferences.New(fyneApp, settings, func(updated storage.Settings) error {
		if err := storage.SaveSettings(settingsPath, updated); err != nil {
			return err
		}
		watcher.Apply(updated)
		logger.Info().Msg("settings saved")
		return nil
	})

	trayManager := tray.New(desktopApp, tray.Callbacks{
		OnPreferences: prefsWindow.Show,
		OnPauseFor:    ctl.PauseFor,
		OnPause:       ctl.Pause,
		OnResume:      ctl.Resume,
		OnForceBreak:  ctl.ForceBreak,
		OnSkip:        ctl.Skip,
		OnPostpone:    ctl.Postpone,
		OnLock:        ctl.Lock,
		OnQuit: func() {
			stop()
			fyneApp.Quit()
		},
	})
	desktopApp.SetSystemTrayIcon(theme.VisibilityIcon())

	schedulerSettings := watcher.Subscribe(1)
	uiSettings := watcher.Subscribe(1)
	go func() {
		if err := watcher.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("settings watcher stopped")
		}
	}()
	go followSettings(ctx, uiSettings, settings, overlayWindow, prefsWindow, autostart, logger)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		err := ctl.Run(ctx, settings, schedulerSettings)
		if err == nil {
			return
		}
		logger.Error().Err(err).Msg("scheduling stopped")
		fyne.Do(func() {
			trayManager.SetUnavailable("stopped")
			showFatal(fyneApp, err)
		})
	}()

	go statusLoop(ctx, ctl, history, kick, desktopApp, trayManager, logger)
	go func() {
		for {
			select {
			case <-ctx.Done():
				fyne.Do(fyneApp.Quit)
				return
			case request, ok := <-guard.Requests():
				if !ok {
					return
				}
				logger.Debug().Str("request", request).Msg("request from second instance")
				if request == requestPreferences {
					fyne.Do(prefsWindow.Show)
				}
			}
		}
	}()

	if firstRun {
		prefsWindow.Show()
	}
	fyneApp.Run()

	stop()
	select {
	case <-runDone:
	case <-time.After(shutdownTimeout):
		logger.Warn().Msg("scheduler did not stop in time")
	}
	logger.Info().Msg("bye")
	return nil
}

func openHistory(ctx context.Context, logger zerolog.Logger) *storage.History {
	path, err := storage.HistoryPath(appName)
	if err != nil {
		logger.Warn().Err(err).Msg("history disabled")
		return nil
	}
	history, err := storage.OpenHistory(ctx, path, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("history disabled")
		return nil
	}
	if pruned, err := history.Prune(ctx, time.Now().Add(-historyRetention)); err != nil {
		logger.Warn().Err(err).Msg("prune history")
	} else if pruned > 0 {
		logger.Info().Int64("rows", pruned).Msg("history pruned")
	}
	return history
}

func overlayConfig(settings storage.Settings) overlay.Config {
	return overlay.Config{
		Alpha:       settings.OverlayAlpha(),
		Fullscreen:  settings.Fullscreen,
		EscapeSkips: settings.EscapeSkips,
	}
}

// followSettings applies settings that do not need a scheduler restart.
func followSettings(ctx context.Context, updates <-chan storage.Settings, current storage.Settings, overlayWindow *overlay.Window, prefsWindow *preferences.Window, autostart *platform.Autostart, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case next := <-updates:
			overlayWindow.UpdateConfig(overlayConfig(next))
			if autostart != nil && next.Autostart != current.Autostart {
				if err := autostart.Apply(next.Autostart); err != nil {
					logger.Warn().Err(err).Msg("apply autostart")
				}
			}
			if next.LogLevel != current.LogLevel {
				logger.Info().Str("level", next.LogLevel).Msg("log level takes effect after restart")
			}
			current = next
			fyne.Do(func() {
				prefsWindow.UpdateSettings(next)
			})
		}
	}
}

// statusLoop keeps the tray in sync with the scheduler and the history.
func statusLoop(ctx context.Context, ctl *controller, history *storage.History, kick <-chan struct{}, desktopApp desktop.App, trayManager *tray.Manager, logger zerolog.Logger) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	lastStats := time.Time{}
	paused := false

	refresh := func() {
		snapshot, policy, err := ctl.Snapshot(ctx)
		if err != nil {
			return
		}
		iconChanged := snapshot.Suspended != paused
		paused = snapshot.Suspended
		fyne.Do(func() {
			trayManager.Update(snapshot, policy)
			if iconChanged {
				if snapshot.Suspended {
					desktopApp.SetSystemTrayIcon(theme.MediaPauseIcon())
				} else {
					desktopApp.SetSystemTrayIcon(theme.VisibilityIcon())
				}
			}
		})

		if history == nil || time.Since(lastStats) < statsInterval {
			return
		}
		lastStats = time.Now()
		stats, err := history.Stats(ctx, startOfDay(lastStats))
		if err != nil {
			logger.Debug().Err(err).Msg("read history stats")
			return
		}
		fyne.Do(func() {
			trayManager.SetStats(stats)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-kick:
			// Outcomes change the counts.
			lastStats = time.Time{}
			refresh()
		case <-ticker.C:
			refresh()
		}
	}
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func showFatal(fyneApp fyne.App, err error) {
	message := "Scheduling stopped unexpectedly."
	if errors.Is(err, model.ErrAdapterUnavailable) {
		message = "restbreak cannot detect idle time, so breaks are switched off."
	}
	window := fyneApp.NewWindow("restbreak")
	details := widget.NewLabel(err.Error())
	details.Wrapping = fyne.TextWrapWord
	window.SetContent(container.NewVBox(
		widget.NewLabelWithStyle(message, fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		details,
		container.NewHBox(
			widget.NewButton("Quit", fyneApp.Quit),
			widget.NewButton("Close", window.Close),
		),
	))
	window.Resize(fyne.NewSize(420, 160))
	window.Show()
}
