package tray

import (
	"fmt"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/driver/desktop"

	"restbreak/internal/core/model"
	"restbreak/internal/core/scheduler"
	"restbreak/internal/storage"
)

// PauseChoices are offered under "Pause for".
var PauseChoices = []time.Duration{15 * time.Minute, 30 * time.Minute, time.Hour, 2 * time.Hour}

// Callbacks defines tray action handlers. Nil handlers are ignored.
type Callbacks struct {
	OnPreferences func()
	OnPauseFor    func(time.Duration)
	OnPause       func()
	OnResume      func()
	OnForceBreak  func(model.BreakKind)
	OnSkip        func()
	OnPostpone    func()
	OnLock        func()
	OnQuit        func()
}

// Manager handles system tray state. Its methods must run on the fyne thread.
type Manager struct {
	app       desktop.App
	menu      *fyne.Menu
	callbacks Callbacks

	statusItem   *fyne.MenuItem
	todayItem    *fyne.MenuItem
	pauseItem    *fyne.MenuItem
	pauseFor     *fyne.MenuItem
	resumeItem   *fyne.MenuItem
	forceTiny    *fyne.MenuItem
	forceBig     *fyne.MenuItem
	skipItem     *fyne.MenuItem
	postponeItem *fyne.MenuItem
	lockItem     *fyne.MenuItem
}

// New creates a tray manager with the provided callbacks.
func New(app desktop.App, callbacks Callbacks) *Manager {
	manager := &Manager{
		app:       app,
		callbacks: callbacks,
	}

	manager.statusItem = fyne.NewMenuItem("Status: starting...", nil)
	manager.statusItem.Disabled = true
	manager.todayItem = fyne.NewMenuItem("Today: no breaks yet", nil)
	manager.todayItem.Disabled = true

	preferences := fyne.NewMenuItem("Preferences", func() {
		call(manager.callbacks.OnPreferences)
	})

	manager.pauseItem = fyne.NewMenuItem("Pause", func() {
		call(manager.callbacks.OnPause)
	})
	manager.pauseFor = fyne.NewMenuItem("Pause for...", nil)
	choices := make([]*fyne.MenuItem, 0, len(PauseChoices))
	for _, choice := range PauseChoices {
		choices = append(choices, fyne.NewMenuItem(formatPause(choice), func() {
			if manager.callbacks.OnPauseFor != nil {
				manager.callbacks.OnPauseFor(choice)
			}
		}))
	}
	manager.pauseFor.ChildMenu = fyne.NewMenu("", choices...)
	manager.resumeItem = fyne.NewMenuItem("Resume", func() {
		call(manager.callbacks.OnResume)
	})

	manager.forceTiny = fyne.NewMenuItem("Take a micro-pause now", func() {
		if manager.callbacks.OnForceBreak != nil {
			manager.callbacks.OnForceBreak(model.BreakTiny)
		}
	})
	manager.forceBig = fyne.NewMenuItem("Take a break now", func() {
		if manager.callbacks.OnForceBreak != nil {
			manager.callbacks.OnForceBreak(model.BreakBig)
		}
	})

	manager.skipItem = fyne.NewMenuItem("Skip break", func() {
		call(manager.callbacks.OnSkip)
	})
	manager.postponeItem = fyne.NewMenuItem("Postpone break", func() {
		call(manager.callbacks.OnPostpone)
	})
	manager.lockItem = fyne.NewMenuItem("Lock screen", func() {
		call(manager.callbacks.OnLock)
	})

	quit := fyne.NewMenuItem("Quit", func() {
		call(manager.callbacks.OnQuit)
	})

	manager.menu = fyne.NewMenu("restbreak",
		manager.statusItem,
		manager.todayItem,
		fyne.NewMenuItemSeparator(),
		manager.skipItem,
		manager.postponeItem,
		manager.lockItem,
		fyne.NewMenuItemSeparator(),
		manager.forceTiny,
		manager.forceBig,
		manager.pauseItem,
		manager.pauseFor,
		manager.resumeItem,
		fyne.NewMenuItemSeparator(),
		preferences,
		quit,
	)
	manager.Update(scheduler.Snapshot{Phase: scheduler.PhaseWorking}, model.DefaultPolicy())
	return manager
}

// Update reflects a scheduler snapshot in the menu.
func (manager *Manager) Update(snapshot scheduler.Snapshot, policy model.BreakPolicy) {
	manager.statusItem.Label = "Status: " + StatusText(snapshot)

	kind, inBreak := snapshot.Phase.Kind()
	interactive := inBreak && policy.Interactive(kind)
	showing := snapshot.Phase.Showing()
	working := snapshot.Phase == scheduler.PhaseWorking

	manager.skipItem.Disabled = !(showing && interactive)
	manager.postponeItem.Disabled = !(showing && interactive && snapshot.Postponements(kind) < policy.MaxPostponements(kind))
	manager.lockItem.Disabled = !interactive
	manager.forceTiny.Disabled = !working || !policy.TinyEnabled
	manager.forceBig.Disabled = !working || !policy.BigEnabled
	manager.pauseItem.Disabled = snapshot.Suspended
	manager.pauseFor.Disabled = snapshot.Suspended
	manager.resumeItem.Disabled = !snapshot.Suspended
	manager.refreshMenu()
}

// SetStats shows today's break counts.
func (manager *Manager) SetStats(stats storage.Stats) {
	manager.todayItem.Label = "Today: " + StatsText(stats)
	manager.refreshMenu()
}

// SetUnavailable marks scheduling as stopped for good.
func (manager *Manager) SetUnavailable(reason string) {
	manager.statusItem.Label = "Status: " + reason
	for _, item := range []*fyne.MenuItem{
		manager.skipItem, manager.postponeItem, manager.lockItem,
		manager.forceTiny, manager.forceBig, manager.pauseItem, manager.pauseFor, manager.resumeItem,
	} {
		item.Disabled = true
	}
	manager.refreshMenu()
}

func (manager *Manager) refreshMenu() {
	if manager.app != nil && manager.menu != nil {
		manager.app.SetSystemTrayMenu(manager.menu)
	}
}

// StatusText is the one-line state description shown in the tray.
func StatusText(snapshot scheduler.Snapshot) string {
	switch phase := snapshot.Phase; {
	case phase == scheduler.PhaseSuspended:
		if snapshot.SuspendReason != "" {
			return fmt.Sprintf("paused (%s)", snapshot.SuspendReason)
		}
		return "paused"
	case phase.Showing():
		kind, _ := phase.Kind()
		return fmt.Sprintf("%s, %s left", breakName(kind), formatClock(snapshot.BreakRemaining))
	case phase.Postponed():
		kind, _ := phase.Kind()
		return breakName(kind) + " postponed"
	case snapshot.Away:
		return "away"
	case snapshot.NextBreakIn > 0:
		return "next break in " + formatClock(snapshot.NextBreakIn)
	default:
		return "working"
	}
}

// StatsText summarizes break outcomes for the tray.
func StatsText(stats storage.Stats) string {
	taken := stats.Tiny.Taken() + stats.Big.Taken()
	skipped := stats.Tiny.Skipped + stats.Big.Skipped
	if taken == 0 && skipped == 0 {
		return "no breaks yet"
	}
	return fmt.Sprintf("%d taken, %d skipped", taken, skipped)
}

func breakName(kind model.BreakKind) string {
	if kind == model.BreakBig {
		return "break"
	}
	return "micro-pause"
}

func formatClock(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	seconds := int(remaining.Round(time.Second).Seconds())
	if seconds >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, seconds/60%60, seconds%60)
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func formatPause(d time.Duration) string {
	if d >= time.Hour {
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}

func call(handler func()) {
	if handler != nil {
		handler()
	}
}
