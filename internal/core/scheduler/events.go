package scheduler

import (
	"time"

	"restbreak/internal/core/model"
)

// Phase is the current state of the break scheduler.
type Phase string

const (
	PhaseWorking       Phase = "working"
	PhaseTinyPending   Phase = "tiny_pending"
	PhaseTinyActive    Phase = "tiny_active"
	PhaseTinyPostponed Phase = "tiny_postponed"
	PhaseBigPending    Phase = "big_pending"
	PhaseBigActive     Phase = "big_active"
	PhaseBigPostponed  Phase = "big_postponed"
	PhaseSuspended     Phase = "suspended"
)

// Kind returns the break kind a phase belongs to.
func (phase Phase) Kind() (model.BreakKind, bool) {
	switch phase {
	case PhaseTinyPending, PhaseTinyActive, PhaseTinyPostponed:
		return model.BreakTiny, true
	case PhaseBigPending, PhaseBigActive, PhaseBigPostponed:
		return model.BreakBig, true
	default:
		return "", false
	}
}

// Showing reports whether the overlay is up in this phase.
func (phase Phase) Showing() bool {
	switch phase {
	case PhaseTinyPending, PhaseTinyActive, PhaseBigPending, PhaseBigActive:
		return true
	default:
		return false
	}
}

// Postponed reports whether a break has been deferred.
func (phase Phase) Postponed() bool {
	return phase == PhaseTinyPostponed || phase == PhaseBigPostponed
}

func pendingPhase(kind model.BreakKind) Phase {
	if kind == model.BreakBig {
		return PhaseBigPending
	}
	return PhaseTinyPending
}

func activePhase(kind model.BreakKind) Phase {
	if kind == model.BreakBig {
		return PhaseBigActive
	}
	return PhaseTinyActive
}

func postponedPhase(kind model.BreakKind) Phase {
	if kind == model.BreakBig {
		return PhaseBigPostponed
	}
	return PhaseTinyPostponed
}

// EventType defines the type of scheduler event.
type EventType string

const (
	EventStateChange EventType = "state_change"
	EventBreakDone   EventType = "break_done"
	EventPostponed   EventType = "postponed"
	EventSuperseded  EventType = "superseded"
	EventSuspended   EventType = "suspended"
	EventResumed     EventType = "resumed"
	EventAway        EventType = "away"
	EventBack        EventType = "back"
	EventIdleError   EventType = "idle_error"
	EventRejected    EventType = "rejected"
)

// Outcome tells how a break ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeLocked    Outcome = "locked"
)

// Event is a scheduler update for observers.
type Event struct {
	Type          EventType
	Phase         Phase
	Kind          model.BreakKind
	Outcome       Outcome
	Remaining     time.Duration
	Postponements int
	Reason        string
	Message       string
	At            time.Time
}

// Snapshot is a read-only copy of the scheduler state.
type Snapshot struct {
	Phase             Phase
	TinySinceLast     time.Duration
	BigSinceLast      time.Duration
	TinyPostponements int
	BigPostponements  int
	Suspended         bool
	SuspendReason     string
	Interrupted       Phase
	Away              bool
	// NextBreakIn is zero when no due timer is armed.
	NextBreakIn    time.Duration
	BreakRemaining time.Duration
	LastTransition time.Time
}

// Postponements returns the postponement count of kind.
func (snapshot Snapshot) Postponements(kind model.BreakKind) int {
	if kind == model.BreakBig {
		return snapshot.BigPostponements
	}
	return snapshot.TinyPostponements
}
