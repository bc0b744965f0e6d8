package scheduler

import (
	"time"

	"restbreak/internal/core/model"
)

func (sched *Scheduler) start() {
	if sched.started {
		return
	}
	sched.started = true
	now := sched.clock.Now()
	sched.lastTransition = now
	sched.updateAccrual(now)
	sched.emit(Event{Type: EventStateChange, Phase: sched.phase, At: now})
	sched.armWorking()
}

func (sched *Scheduler) handle(in input) {
	if sched.fatal != nil {
		if in.kind == inputSnapshot {
			in.reply <- sched.snapshot()
		}
		return
	}
	switch in.kind {
	case inputSignal:
		sched.onSignal(in.signal)
	case inputTimer:
		sched.onTimer(in.role, in.token)
	case inputCommand:
		sched.onCommand(in)
	case inputSnapshot:
		in.reply <- sched.snapshot()
	}
}

// transition switches phase, keeping accumulators consistent. It does not
// touch timers.
func (sched *Scheduler) transition(to Phase) {
	now := sched.clock.Now()
	sched.settle(now)
	from := sched.phase
	sched.phase = to
	sched.lastTransition = now
	sched.updateAccrual(now)
	sched.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("transition")

	event := Event{Type: EventStateChange, Phase: to, At: now}
	if kind, ok := to.Kind(); ok {
		event.Kind = kind
		event.Postponements = sched.postponements[kind]
		if to.Showing() {
			event.Remaining = sched.policy.Duration(kind)
			if armed, ok := sched.timers[roleDuration]; ok {
				event.Remaining = positive(armed.deadline.Sub(now))
			}
		}
	}
	sched.emit(event)
}

func (sched *Scheduler) armWorking() {
	if sched.away {
		sched.armResume()
		return
	}
	sched.armDue(model.BreakTiny)
	sched.armDue(model.BreakBig)
	if sched.policy.IdleResetThreshold > 0 {
		sched.armWatch(watchAway, sched.policy.IdleResetThreshold)
	}
}

func (sched *Scheduler) enterWorking() {
	sched.cancelAll()
	sched.transition(PhaseWorking)
	sched.armWorking()
}

func (sched *Scheduler) activation(kind model.BreakKind) model.Activation {
	interactive := sched.policy.Interactive(kind)
	return model.Activation{
		Kind:        kind,
		Remaining:   sched.policy.Duration(kind),
		CanSkip:     interactive,
		CanPostpone: interactive && sched.postponements[kind] < sched.policy.MaxPostponements(kind),
		CanLock:     interactive,
	}
}

func (sched *Scheduler) startBreak(kind model.BreakKind) {
	sched.cancelAll()
	sched.transition(pendingPhase(kind))
	sched.overlay.Activate(sched.activation(kind))
	sched.startTimer(roleDuration, sched.policy.Duration(kind))
	if kind == model.BreakTiny {
		sched.armDue(model.BreakBig)
	}
	sched.armWatch(watchSettle, settleAfter)
}

func (sched *Scheduler) completeBreak(kind model.BreakKind, outcome Outcome) {
	now := sched.clock.Now()
	sched.settle(now)
	acc := sched.acc[kind]
	acc.since = 0
	acc.start = now
	sched.postponements[kind] = 0
	if sched.phase.Showing() {
		sched.overlay.Deactivate()
	}
	sched.log.Debug().Str("kind", string(kind)).Str("outcome", string(outcome)).Msg("break done")
	sched.emit(Event{Type: EventBreakDone, Phase: sched.phase, Kind: kind, Outcome: outcome, At: now})
	sched.enterWorking()
}

func (sched *Scheduler) onTimer(role timerRole, token model.WatchID) {
	if !sched.consumeTimer(role, token) {
		sched.log.Debug().Str("timer", role.String()).Uint64("token", uint64(token)).Msg("stale timer ignored")
		return
	}
	switch role {
	case roleDueTiny:
		if sched.phase != PhaseWorking {
			return
		}
		if sched.policy.BigEnabled && sched.dueIn(model.BreakBig, sched.clock.Now()) <= coincideWindow {
			sched.startBreak(model.BreakBig)
			return
		}
		sched.startBreak(model.BreakTiny)
	case roleDueBig:
		switch sched.phase {
		case PhaseWorking:
			sched.startBreak(model.BreakBig)
		case PhaseTinyPending, PhaseTinyActive, PhaseTinyPostponed:
			if sched.phase.Showing() {
				sched.overlay.Deactivate()
			}
			sched.emit(Event{
				Type:          EventSuperseded,
				Phase:         sched.phase,
				Kind:          model.BreakTiny,
				Postponements: sched.postponements[model.BreakTiny],
			})
			sched.startBreak(model.BreakBig)
		}
	case roleDuration:
		if kind, ok := sched.phase.Kind(); ok && sched.phase.Showing() {
			sched.completeBreak(kind, OutcomeCompleted)
		}
	case rolePostpone:
		if kind, ok := sched.phase.Kind(); ok && sched.phase.Postponed() {
			sched.startBreak(kind)
		}
	}
}

func (sched *Scheduler) onSignal(signal model.IdleSignal) {
	switch signal.Kind {
	case model.IdleTimeout:
		role, ok := sched.watches[signal.Watch]
		if !ok {
			sched.log.Debug().Uint64("watch", uint64(signal.Watch)).Msg("stale idle watch ignored")
			return
		}
		delete(sched.watches, signal.Watch)
		switch role {
		case watchAway:
			if sched.phase == PhaseWorking && !sched.away {
				sched.goAway()
			}
		case watchSettle:
			if kind, ok := sched.phase.Kind(); ok && sched.phase == pendingPhase(kind) {
				sched.transition(activePhase(kind))
				sched.armResume()
			}
		}
	case model.Resumed:
		if !sched.resumeArmed {
			sched.log.Debug().Msg("unexpected resume ignored")
			return
		}
		sched.resumeArmed = false
		switch {
		case sched.phase == PhaseWorking && sched.away:
			sched.comeBack()
		case sched.phase == PhaseTinyActive || sched.phase == PhaseBigActive:
			kind, _ := sched.phase.Kind()
			sched.transition(pendingPhase(kind))
			sched.armWatch(watchSettle, settleAfter)
		}
	}
}

func (sched *Scheduler) goAway() {
	now := sched.clock.Now()
	sched.cancelAll()
	sched.settle(now)
	sched.away = true
	sched.updateAccrual(now)
	sched.log.Debug().Msg("user away")
	sched.emit(Event{Type: EventAway, Phase: sched.phase, At: now})
	sched.armResume()
}

func (sched *Scheduler) comeBack() {
	now := sched.clock.Now()
	sched.cancelAll()
	sched.away = false
	sched.updateAccrual(now)
	sched.log.Debug().Msg("user back")
	sched.emit(Event{Type: EventBack, Phase: sched.phase, At: now})
	sched.armWorking()
}

func (sched *Scheduler) onCommand(in input) {
	switch in.command {
	case cmdSkip:
		kind, ok := sched.phase.Kind()
		if !ok || !sched.phase.Showing() || !sched.policy.Interactive(kind) {
			sched.reject(in.command, "no skippable break")
			return
		}
		sched.completeBreak(kind, OutcomeSkipped)
	case cmdPostpone:
		sched.postpone(in.command)
	case cmdLock:
		kind, ok := sched.phase.Kind()
		if !ok || !sched.policy.Interactive(kind) {
			sched.reject(in.command, "no lockable break")
			return
		}
		sched.completeBreak(kind, OutcomeLocked)
		if err := sched.session.RequestLock(); err != nil {
			sched.log.Warn().Err(err).Msg("request screen lock")
		}
	case cmdSuspend:
		if sched.phase == PhaseSuspended {
			sched.reject(in.command, "already suspended")
			return
		}
		sched.suspend(in.reason)
	case cmdResume:
		if sched.phase != PhaseSuspended {
			sched.reject(in.command, "not suspended")
			return
		}
		sched.resume()
	case cmdForceBreak:
		if sched.phase != PhaseWorking || !sched.policy.Enabled(in.breakOf) {
			sched.reject(in.command, "cannot force a break now")
			return
		}
		if sched.away {
			sched.away = false
		}
		sched.startBreak(in.breakOf)
	}
}

func (sched *Scheduler) postpone(cmd command) {
	kind, ok := sched.phase.Kind()
	if !ok || !sched.phase.Showing() || !sched.policy.Interactive(kind) {
		sched.reject(cmd, "no postponable break")
		return
	}
	if sched.postponements[kind] >= sched.policy.MaxPostponements(kind) {
		sched.reject(cmd, "postponement limit reached")
		return
	}
	sched.postponements[kind]++
	sched.cancelAll()
	sched.overlay.Deactivate()
	sched.transition(postponedPhase(kind))
	sched.startTimer(rolePostpone, sched.policy.PostponeLength)
	if kind == model.BreakTiny {
		sched.armDue(model.BreakBig)
	}
	sched.emit(Event{
		Type:          EventPostponed,
		Phase:         sched.phase,
		Kind:          kind,
		Remaining:     sched.policy.PostponeLength,
		Postponements: sched.postponements[kind],
	})
}

func (sched *Scheduler) suspend(reason string) {
	interrupted := sched.phase
	sched.cancelAll()
	if interrupted.Showing() {
		sched.overlay.Deactivate()
	}
	sched.away = false
	sched.interrupted = interrupted
	sched.suspendReason = reason
	sched.transition(PhaseSuspended)
	sched.emit(Event{Type: EventSuspended, Phase: PhaseSuspended, Reason: reason})
}

func (sched *Scheduler) resume() {
	now := sched.clock.Now()
	for kind, acc := range sched.acc {
		acc.since = 0
		acc.start = now
		sched.postponements[kind] = 0
	}
	reason := sched.suspendReason
	sched.suspendReason = ""
	sched.interrupted = ""
	sched.emit(Event{Type: EventResumed, Phase: sched.phase, Reason: reason, At: now})
	sched.enterWorking()
}

func (sched *Scheduler) reject(cmd command, why string) {
	sched.rejectLog.Do(func() {
		sched.log.Debug().Str("command", cmd.String()).Str("phase", string(sched.phase)).Msg("command rejected: " + why)
	})
	sched.emit(Event{Type: EventRejected, Phase: sched.phase, Message: cmd.String() + ": " + why})
}

func (sched *Scheduler) snapshot() Snapshot {
	now := sched.clock.Now()
	snapshot := Snapshot{
		Phase:             sched.phase,
		TinySinceLast:     sched.acc[model.BreakTiny].value(now),
		BigSinceLast:      sched.acc[model.BreakBig].value(now),
		TinyPostponements: sched.postponements[model.BreakTiny],
		BigPostponements:  sched.postponements[model.BreakBig],
		Suspended:         sched.phase == PhaseSuspended,
		SuspendReason:     sched.suspendReason,
		Interrupted:       sched.interrupted,
		Away:              sched.away,
		LastTransition:    sched.lastTransition,
	}
	if armed, ok := sched.timers[roleDuration]; ok {
		snapshot.BreakRemaining = positive(armed.deadline.Sub(now))
	}
	for _, role := range []timerRole{roleDueTiny, roleDueBig} {
		armed, ok := sched.timers[role]
		if !ok {
			continue
		}
		left := positive(armed.deadline.Sub(now))
		if snapshot.NextBreakIn == 0 || left < snapshot.NextBreakIn {
			snapshot.NextBreakIn = left
		}
	}
	return snapshot
}

func positive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
