package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"restbreak/internal/core/model"
	"restbreak/internal/core/scheduler"
	"restbreak/internal/storage"
)

const (
	reasonUser   = "user"
	reasonLocked = "locked"
	reasonSleep  = "sleep"

	snapshotTimeout = 2 * time.Second
	eventBuffer     = 256
)

// errStopped is returned by Snapshot when no scheduler is running.
var errStopped = errors.New("scheduler stopped")

// controller owns the running scheduler. A settings change that touches the
// policy or history replaces it with a fresh instance.
type controller struct {
	log     zerolog.Logger
	deps    scheduler.Dependencies
	history *storage.History
	onEvent func(scheduler.Event)

	mu         sync.Mutex
	sched      *scheduler.Scheduler
	policy     model.BreakPolicy
	pauseTimer *time.Timer
	holds      holds

	// settleMu orders settle calls so each sees the commands of the last.
	settleMu sync.Mutex
}

// holds records every condition that keeps scheduling suspended. They
// outlive a scheduler restart.
type holds struct {
	user     bool
	locked   bool
	sleeping bool
}

// reason picks the suspend reason for the holds in effect, if any. Screen lock
// and sleep only count when the policy follows the session.
func (h holds) reason(policy model.BreakPolicy) (string, bool) {
	switch {
	case h.user:
		return reasonUser, true
	case policy.SuspendOnLock && h.locked:
		return reasonLocked, true
	case policy.SuspendOnLock && h.sleeping:
		return reasonSleep, true
	}
	return "", false
}

func newController(deps scheduler.Dependencies, history *storage.History, onEvent func(scheduler.Event), logger zerolog.Logger) *controller {
	return &controller{
		log:     logger.With().Str("component", "controller").Logger(),
		deps:    deps,
		history: history,
		onEvent: onEvent,
	}
}

// Run keeps a scheduler running until ctx is done. It returns the scheduler's
// error when scheduling stops on its own, e.g. model.ErrAdapterUnavailable.
func (ctl *controller) Run(ctx context.Context, settings storage.Settings, updates <-chan storage.Settings) error {
	for {
		sched, err := scheduler.New(settings.Policy, ctl.deps)
		if err != nil {
			return fmt.Errorf("build scheduler: %w", err)
		}
		runCtx, stop := context.WithCancel(ctx)
		ctl.forward(runCtx, sched, settings.History)

		done := make(chan error, 1)
		go func() { done <- sched.Run(runCtx) }()
		ctl.install(sched, settings.Policy)
		ctl.settle(ctx)
		ctl.log.Info().Bool("history", settings.History).Msg("scheduler started")

		restart := false
		for !restart {
			select {
			case <-ctx.Done():
				stop()
				<-done
				ctl.install(nil, settings.Policy)
				return nil
			case err := <-done:
				stop()
				ctl.install(nil, settings.Policy)
				return err
			case next, ok := <-updates:
				if !ok {
					updates = nil
					continue
				}
				if next.Policy == settings.Policy && next.History == settings.History {
					settings = next
					continue
				}
				settings = next
				restart = true
			}
		}
		stop()
		<-done
		ctl.log.Info().Msg("policy changed; restarting scheduler")
	}
}

func (ctl *controller) forward(ctx context.Context, sched *scheduler.Scheduler, history bool) {
	events := sched.Subscribe(eventBuffer)
	go func() {
		for event := range events {
			if ctl.onEvent != nil {
				ctl.onEvent(event)
			}
		}
	}()
	if history && ctl.history != nil {
		go ctl.history.Consume(ctx, sched.Subscribe(eventBuffer))
	}
}

func (ctl *controller) install(sched *scheduler.Scheduler, policy model.BreakPolicy) {
	ctl.mu.Lock()
	ctl.sched = sched
	ctl.policy = policy
	ctl.mu.Unlock()
}

func (ctl *controller) current() (*scheduler.Scheduler, model.BreakPolicy) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.sched, ctl.policy
}

// Snapshot returns the running scheduler's state and policy.
func (ctl *controller) Snapshot(ctx context.Context) (scheduler.Snapshot, model.BreakPolicy, error) {
	sched, policy := ctl.current()
	if sched == nil {
		return scheduler.Snapshot{}, policy, errStopped
	}
	snapshot, err := ctl.snapshotOf(ctx, sched)
	return snapshot, policy, err
}

func (ctl *controller) snapshotOf(ctx context.Context, sched *scheduler.Scheduler) (scheduler.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	return sched.Snapshot(ctx)
}

func (ctl *controller) with(fn func(*scheduler.Scheduler)) {
	if sched, _ := ctl.current(); sched != nil {
		fn(sched)
	}
}

func (ctl *controller) Skip()     { ctl.with((*scheduler.Scheduler).Skip) }
func (ctl *controller) Postpone() { ctl.with((*scheduler.Scheduler).Postpone) }
func (ctl *controller) Lock()     { ctl.with((*scheduler.Scheduler).Lock) }

func (ctl *controller) ForceBreak(kind model.BreakKind) {
	ctl.with(func(sched *scheduler.Scheduler) { sched.ForceBreak(kind) })
}

// Pause suspends until Resume.
func (ctl *controller) Pause() {
	ctl.stopPauseTimer()
	ctl.update(func(h *holds) { h.user = true })
	go ctl.settle(context.Background())
}

// PauseFor suspends and lifts the pause after d unless Resume came first.
func (ctl *controller) PauseFor(d time.Duration) {
	ctl.Pause()
	ctl.mu.Lock()
	ctl.pauseTimer = time.AfterFunc(d, func() {
		ctl.update(func(h *holds) { h.user = false })
		ctl.settle(context.Background())
	})
	ctl.mu.Unlock()
}

// Resume ends any suspension, including one the session reported, so a missed
// unlock signal cannot leave scheduling off.
func (ctl *controller) Resume() {
	ctl.stopPauseTimer()
	ctl.update(func(h *holds) { *h = holds{} })
	go ctl.settle(context.Background())
}

// SessionLocked follows the screen lock when the policy asks for it.
func (ctl *controller) SessionLocked(ctx context.Context, locked bool) {
	ctl.update(func(h *holds) { h.locked = locked })
	ctl.settle(ctx)
}

// Sleeping follows system sleep when the policy asks for it.
func (ctl *controller) Sleeping(ctx context.Context, sleeping bool) {
	ctl.update(func(h *holds) { h.sleeping = sleeping })
	ctl.settle(ctx)
}

func (ctl *controller) update(fn func(*holds)) {
	ctl.mu.Lock()
	fn(&ctl.holds)
	ctl.mu.Unlock()
}

// settle suspends or resumes the running scheduler to match the holds. Only
// the controller suspends the scheduler, so a suspension with no hold left is
// always safe to end.
func (ctl *controller) settle(ctx context.Context) {
	ctl.settleMu.Lock()
	defer ctl.settleMu.Unlock()

	ctl.mu.Lock()
	sched, policy := ctl.sched, ctl.policy
	reason, hold := ctl.holds.reason(policy)
	ctl.mu.Unlock()
	if sched == nil {
		return
	}
	snapshot, err := ctl.snapshotOf(ctx, sched)
	if err != nil {
		ctl.log.Debug().Err(err).Msg("snapshot before settle")
		return
	}
	switch {
	case hold && !snapshot.Suspended:
		sched.Suspend(reason)
	case !hold && snapshot.Suspended:
		sched.Resume()
	}
}

func (ctl *controller) stopPauseTimer() {
	ctl.mu.Lock()
	if ctl.pauseTimer != nil {
		ctl.pauseTimer.Stop()
		ctl.pauseTimer = nil
	}
	ctl.mu.Unlock()
}
