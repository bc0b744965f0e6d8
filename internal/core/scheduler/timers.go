package scheduler

import (
	"errors"
	"time"

	"restbreak/internal/core/clock"
	"restbreak/internal/core/model"
)

// settleAfter is how long the user must stay idle during a break before it
// counts as being taken.
const settleAfter = 2 * time.Second

// coincideWindow is how close two due times must be to count as simultaneous.
const coincideWindow = time.Second

type timerRole int

const (
	roleDueTiny timerRole = iota
	roleDueBig
	roleDuration
	rolePostpone
)

func (role timerRole) String() string {
	switch role {
	case roleDueTiny:
		return "due_tiny"
	case roleDueBig:
		return "due_big"
	case roleDuration:
		return "duration"
	case rolePostpone:
		return "postpone"
	default:
		return "unknown"
	}
}

func dueRole(kind model.BreakKind) timerRole {
	if kind == model.BreakBig {
		return roleDueBig
	}
	return roleDueTiny
}

type watchRole int

const (
	watchAway watchRole = iota
	watchSettle
)

type armedTimer struct {
	token    model.WatchID
	timer    clock.Timer
	deadline time.Time
}

// accumulator counts active time since the last break of one kind.
type accumulator struct {
	since   time.Duration
	running bool
	start   time.Time
}

func (acc *accumulator) value(now time.Time) time.Duration {
	if !acc.running {
		return acc.since
	}
	return acc.since + now.Sub(acc.start)
}

func (sched *Scheduler) startTimer(role timerRole, d time.Duration) {
	if existing, ok := sched.timers[role]; ok {
		existing.timer.Stop()
	}
	sched.nextToken++
	token := sched.nextToken
	now := sched.clock.Now()
	timer := sched.clock.AfterFunc(d, func() {
		sched.postTimer(role, token)
	})
	sched.timers[role] = armedTimer{token: token, timer: timer, deadline: now.Add(d)}
}

func (sched *Scheduler) stopTimer(role timerRole) {
	if existing, ok := sched.timers[role]; ok {
		existing.timer.Stop()
		delete(sched.timers, role)
	}
}

// consumeTimer reports whether a firing belongs to the currently armed timer.
func (sched *Scheduler) consumeTimer(role timerRole, token model.WatchID) bool {
	current, ok := sched.timers[role]
	if !ok || current.token != token {
		return false
	}
	delete(sched.timers, role)
	return true
}

// cancelAll stops every clock timer and idle watch the scheduler armed.
func (sched *Scheduler) cancelAll() {
	for role, armed := range sched.timers {
		armed.timer.Stop()
		delete(sched.timers, role)
	}
	sched.idle.CancelAllWatches()
	clear(sched.watches)
	sched.resumeArmed = false
}

func (sched *Scheduler) armWatch(role watchRole, d time.Duration) {
	id, err := sched.idle.ArmIdleWatch(d)
	if err != nil {
		sched.idleFailure(err)
		return
	}
	sched.watches[id] = role
}

func (sched *Scheduler) armResume() {
	sched.resumeArmed = true
	sched.idle.WatchForResume()
}

func (sched *Scheduler) idleFailure(err error) {
	if errors.Is(err, model.ErrAdapterUnavailable) {
		sched.log.Error().Err(err).Msg("idle detection unavailable, scheduling halted")
		sched.cancelAll()
		if sched.phase.Showing() {
			sched.overlay.Deactivate()
		}
		sched.fatal = err
		sched.emit(Event{Type: EventIdleError, Phase: sched.phase, Message: err.Error()})
		return
	}
	sched.log.Warn().Err(err).Msg("arm idle watch failed")
	sched.emit(Event{Type: EventIdleError, Phase: sched.phase, Message: err.Error()})
}

// dueIn returns the active time left before a break of kind falls due.
// Accumulated time past a full interval keeps the cadence of the interval,
// so a break that was superseded is not pushed back a whole interval.
func (sched *Scheduler) dueIn(kind model.BreakKind, now time.Time) time.Duration {
	interval := sched.policy.Interval(kind)
	since := sched.acc[kind].value(now)
	if since <= 0 {
		return interval
	}
	rest := since % interval
	if rest == 0 {
		return 0
	}
	return interval - rest
}

func (sched *Scheduler) armDue(kind model.BreakKind) {
	if !sched.policy.Enabled(kind) {
		return
	}
	d := sched.dueIn(kind, sched.clock.Now())
	if d <= 0 {
		d = sched.policy.Interval(kind)
	}
	sched.startTimer(dueRole(kind), d)
}

// settle folds running accrual into the accumulators and restarts them at now.
func (sched *Scheduler) settle(now time.Time) {
	for _, acc := range sched.acc {
		if acc.running {
			acc.since += now.Sub(acc.start)
			acc.start = now
		}
	}
}

// updateAccrual decides which accumulators run in the current phase.
func (sched *Scheduler) updateAccrual(now time.Time) {
	for kind, acc := range sched.acc {
		running := sched.accrues(kind)
		if running && !acc.running {
			acc.start = now
		}
		acc.running = running
	}
}

func (sched *Scheduler) accrues(kind model.BreakKind) bool {
	if sched.phase == PhaseSuspended || sched.away {
		return false
	}
	return sched.phase != pendingPhase(kind) && sched.phase != activePhase(kind)
}
