package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"restbreak/internal/core/clock"
	"restbreak/internal/core/model"
)

// ErrAlreadyRunning is returned when Run is called twice on the same scheduler.
var ErrAlreadyRunning = errors.New("scheduler already running")

// IdleSource reports user idleness. Notifications are delivered asynchronously
// through the handler installed with SetHandler.
type IdleSource interface {
	// ArmIdleWatch asks to be notified once after d of continuous idle time.
	ArmIdleWatch(d time.Duration) (model.WatchID, error)
	// CancelAllWatches invalidates every outstanding watch.
	CancelAllWatches()
	// WatchForResume asks to be notified once when the user becomes active again.
	WatchForResume()
	SetHandler(handler func(model.IdleSignal))
}

// Overlay is the break-control surface shown during a break.
type Overlay interface {
	Activate(activation model.Activation)
	Deactivate()
}

// Session receives lock requests.
type Session interface {
	RequestLock() error
}

// Dependencies are the collaborators injected into a Scheduler.
type Dependencies struct {
	Idle    IdleSource
	Overlay Overlay
	Session Session
	// Clock defaults to the real clock.
	Clock  clock.Clock
	Logger *zerolog.Logger
	// InboxSize bounds the event inbox; defaults to 256.
	InboxSize int
}

type command int

const (
	cmdSkip command = iota
	cmdPostpone
	cmdLock
	cmdSuspend
	cmdResume
	cmdForceBreak
)

func (cmd command) String() string {
	switch cmd {
	case cmdSkip:
		return "skip"
	case cmdPostpone:
		return "postpone"
	case cmdLock:
		return "lock"
	case cmdSuspend:
		return "suspend"
	case cmdResume:
		return "resume"
	case cmdForceBreak:
		return "force_break"
	default:
		return "unknown"
	}
}

type inputKind int

const (
	inputSignal inputKind = iota
	inputTimer
	inputCommand
	inputSnapshot
)

type input struct {
	kind    inputKind
	signal  model.IdleSignal
	role    timerRole
	token   model.WatchID
	command command
	reason  string
	breakOf model.BreakKind
	reply   chan Snapshot
}

// Scheduler is the break-scheduling state machine. All state is owned by the
// goroutine running Run; every other method only posts to its inbox.
type Scheduler struct {
	policy  model.BreakPolicy
	idle    IdleSource
	overlay Overlay
	session Session
	clock   clock.Clock
	log     zerolog.Logger

	inbox   chan input
	done    chan struct{}
	runOnce sync.Once
	started bool

	subMu  sync.Mutex
	events []chan Event

	rejectLog rate.Sometimes

	// Everything below is touched only by the event loop.
	phase          Phase
	interrupted    Phase
	suspendReason  string
	away           bool
	lastTransition time.Time
	acc            map[model.BreakKind]*accumulator
	postponements  map[model.BreakKind]int
	timers         map[timerRole]armedTimer
	watches        map[model.WatchID]watchRole
	resumeArmed    bool
	nextToken      model.WatchID
	fatal          error
}

// New creates a Scheduler for a validated policy.
func New(policy model.BreakPolicy, deps Dependencies) (*Scheduler, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if deps.Idle == nil {
		return nil, fmt.Errorf("new scheduler: %w: no idle source", model.ErrAdapterUnavailable)
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewReal()
	}
	if deps.Overlay == nil {
		deps.Overlay = nopOverlay{}
	}
	if deps.Session == nil {
		deps.Session = nopSession{}
	}
	if deps.InboxSize <= 0 {
		deps.InboxSize = 256
	}
	logger := zerolog.Nop()
	if deps.Logger != nil {
		logger = deps.Logger.With().Str("component", "scheduler").Logger()
	}

	sched := &Scheduler{
		policy:    policy,
		idle:      deps.Idle,
		overlay:   deps.Overlay,
		session:   deps.Session,
		clock:     deps.Clock,
		log:       logger,
		inbox:     make(chan input, deps.InboxSize),
		done:      make(chan struct{}),
		rejectLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
		phase:     PhaseWorking,
		acc: map[model.BreakKind]*accumulator{
			model.BreakTiny: {},
			model.BreakBig:  {},
		},
		postponements: map[model.BreakKind]int{},
		timers:        map[timerRole]armedTimer{},
		watches:       map[model.WatchID]watchRole{},
	}
	sched.idle.SetHandler(sched.postSignal)
	return sched, nil
}

// Policy returns the policy the scheduler was built with.
func (sched *Scheduler) Policy() model.BreakPolicy {
	return sched.policy
}

// Subscribe registers a new observer channel. Slow observers miss events.
func (sched *Scheduler) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	sched.subMu.Lock()
	sched.events = append(sched.events, ch)
	sched.subMu.Unlock()
	return ch
}

// Run processes events until ctx is cancelled. It returns a wrapped
// model.ErrAdapterUnavailable when idle detection fails; scheduling stops then.
func (sched *Scheduler) Run(ctx context.Context) error {
	err := ErrAlreadyRunning
	sched.runOnce.Do(func() {
		err = sched.loop(ctx)
	})
	return err
}

func (sched *Scheduler) loop(ctx context.Context) error {
	defer sched.closeSubscribers()
	defer close(sched.done)

	sched.start()
	for {
		if sched.fatal != nil {
			return sched.fatal
		}
		select {
		case <-ctx.Done():
			sched.shutdown()
			return nil
		case in := <-sched.inbox:
			sched.handle(in)
		}
	}
}

// Skip ends the current break as if it was taken.
func (sched *Scheduler) Skip() {
	sched.post(input{kind: inputCommand, command: cmdSkip})
}

// Postpone defers the current break by the policy's postpone length.
func (sched *Scheduler) Postpone() {
	sched.post(input{kind: inputCommand, command: cmdPostpone})
}

// Lock ends the current break and asks the session layer to lock the screen.
func (sched *Scheduler) Lock() {
	sched.post(input{kind: inputCommand, command: cmdLock})
}

// Suspend pauses all scheduling until Resume.
func (sched *Scheduler) Suspend(reason string) {
	sched.post(input{kind: inputCommand, command: cmdSuspend, reason: reason})
}

// Resume restarts scheduling from zero after a Suspend.
func (sched *Scheduler) Resume() {
	sched.post(input{kind: inputCommand, command: cmdResume})
}

// ForceBreak starts a break immediately while working.
func (sched *Scheduler) ForceBreak(kind model.BreakKind) {
	sched.post(input{kind: inputCommand, command: cmdForceBreak, breakOf: kind})
}

// Snapshot returns the current state as seen by the event loop.
func (sched *Scheduler) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case sched.inbox <- input{kind: inputSnapshot, reply: reply}:
	case <-sched.done:
		return Snapshot{}, context.Canceled
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snapshot := <-reply:
		return snapshot, nil
	case <-sched.done:
		return Snapshot{}, context.Canceled
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (sched *Scheduler) postSignal(signal model.IdleSignal) {
	sched.post(input{kind: inputSignal, signal: signal})
}

func (sched *Scheduler) postTimer(role timerRole, token model.WatchID) {
	sched.post(input{kind: inputTimer, role: role, token: token})
}

func (sched *Scheduler) post(in input) {
	select {
	case sched.inbox <- in:
	case <-sched.done:
	}
}

func (sched *Scheduler) emit(event Event) {
	if event.At.IsZero() {
		event.At = sched.clock.Now()
	}
	sched.subMu.Lock()
	defer sched.subMu.Unlock()
	for _, ch := range sched.events {
		select {
		case ch <- event:
		default:
		}
	}
}

func (sched *Scheduler) closeSubscribers() {
	sched.subMu.Lock()
	events := sched.events
	sched.events = nil
	sched.subMu.Unlock()
	for _, ch := range events {
		close(ch)
	}
}

func (sched *Scheduler) shutdown() {
	sched.cancelAll()
	if sched.phase.Showing() {
		sched.overlay.Deactivate()
	}
}

type nopOverlay struct{}

func (nopOverlay) Activate(model.Activation) {}
func (nopOverlay) Deactivate()               {}

type nopSession struct{}

func (nopSession) RequestLock() error { return nil }
