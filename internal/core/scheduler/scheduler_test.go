package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"restbreak/internal/core/clock"
	"restbreak/internal/core/model"
	"restbreak/internal/platform"
)

var epoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

type recordingOverlay struct {
	calls       []string
	activations []model.Activation
}

func (overlay *recordingOverlay) Activate(activation model.Activation) {
	overlay.activations = append(overlay.activations, activation)
	overlay.calls = append(overlay.calls, fmt.Sprintf("activate(%s, %s)", activation.Kind, activation.Remaining))
}

func (overlay *recordingOverlay) Deactivate() {
	overlay.calls = append(overlay.calls, "deactivate()")
}

func (overlay *recordingOverlay) take() []string {
	calls := overlay.calls
	overlay.calls = nil
	return calls
}

type countingSession struct {
	locks int
	err   error
}

func (session *countingSession) RequestLock() error {
	session.locks++
	return session.err
}

type harness struct {
	t       *testing.T
	sched   *Scheduler
	clock   *clock.Fake
	idle    *platform.FakeIdleSource
	overlay *recordingOverlay
	session *countingSession
	events  <-chan Event
}

func newHarness(t *testing.T, policy model.BreakPolicy) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		clock:   clock.NewFake(epoch),
		idle:    platform.NewFakeIdleSource(),
		overlay: &recordingOverlay{},
		session: &countingSession{},
	}
	sched, err := New(policy, Dependencies{
		Idle:    h.idle,
		Overlay: h.overlay,
		Session: h.session,
		Clock:   h.clock,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.sched = sched
	h.events = sched.Subscribe(1024)
	return h
}

func (h *harness) start() {
	h.sched.start()
	h.drain()
}

// drain applies every queued input, the way Run would.
func (h *harness) drain() {
	for {
		select {
		case in := <-h.sched.inbox:
			h.sched.handle(in)
		default:
			return
		}
	}
}

// advance moves the fake clock forward one timer deadline at a time so each
// firing is handled at its own instant.
func (h *harness) advance(d time.Duration) {
	for d > 0 {
		step := d
		if pending := h.clock.Pending(); len(pending) > 0 && pending[0] <= d {
			step = max(pending[0], 0)
		}
		h.clock.Advance(step)
		h.drain()
		d -= step
	}
}

func (h *harness) send(post func()) {
	post()
	h.drain()
}

func (h *harness) phase() Phase {
	return h.sched.phase
}

func (h *harness) snapshot() Snapshot {
	return h.sched.snapshot()
}

func (h *harness) takeEvents() []Event {
	var events []Event
	for {
		select {
		case event, ok := <-h.events:
			if !ok {
				return events
			}
			events = append(events, event)
		default:
			return events
		}
	}
}

func (h *harness) eventsOf(eventType EventType) []Event {
	var matched []Event
	for _, event := range h.takeEvents() {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func (h *harness) wantPhase(want Phase) {
	h.t.Helper()
	if got := h.phase(); got != want {
		h.t.Fatalf("phase = %s, want %s", got, want)
	}
}

func (h *harness) wantCalls(want ...string) {
	h.t.Helper()
	got := h.overlay.take()
	if !slices.Equal(got, want) {
		h.t.Fatalf("overlay calls = %q, want %q", got, want)
	}
}

func (h *harness) wantPending(want ...time.Duration) {
	h.t.Helper()
	got := h.clock.Pending()
	if !slices.Equal(got, want) {
		h.t.Fatalf("pending timers = %v, want %v", got, want)
	}
}

func tinyOnlyPolicy() model.BreakPolicy {
	policy := model.DefaultPolicy()
	policy.TinyInterval = 1200 * time.Second
	policy.TinyDuration = 30 * time.Second
	policy.MaxTinyPostponements = 2
	policy.BigEnabled = false
	return policy
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	policy.TinyEnabled = false
	policy.BigEnabled = false
	_, err := New(policy, Dependencies{Idle: platform.NewFakeIdleSource()})
	if !errors.Is(err, model.ErrInvalidPolicy) {
		t.Fatalf("New() error = %v, want %v", err, model.ErrInvalidPolicy)
	}
}

func TestNewRequiresIdleSource(t *testing.T) {
	t.Parallel()

	_, err := New(model.DefaultPolicy(), Dependencies{})
	if !errors.Is(err, model.ErrAdapterUnavailable) {
		t.Fatalf("New() error = %v, want %v", err, model.ErrAdapterUnavailable)
	}
}

func TestStartArmsWatchesAtFullInterval(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	h := newHarness(t, policy)
	h.start()

	h.wantPhase(PhaseWorking)
	h.wantPending(policy.TinyInterval, policy.BigInterval)
	if got := h.idle.Watches(); !slices.Equal(got, []time.Duration{policy.IdleResetThreshold}) {
		t.Fatalf("idle watches = %v, want [%v]", got, policy.IdleResetThreshold)
	}
	if got := h.snapshot().NextBreakIn; got != policy.TinyInterval {
		t.Fatalf("NextBreakIn = %v, want %v", got, policy.TinyInterval)
	}
}

func TestTinyTriggerYieldsTinyPending(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		mode model.TinyMode
		caps [3]bool
	}{
		{name: "simple", mode: model.TinyModeSimple, caps: [3]bool{false, false, false}},
		{name: "interactive", mode: model.TinyModeInteractive, caps: [3]bool{true, true, true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			policy := model.DefaultPolicy()
			policy.TinyMode = tc.mode
			h := newHarness(t, policy)
			h.start()

			h.advance(policy.TinyInterval)
			h.wantPhase(PhaseTinyPending)
			h.wantCalls(fmt.Sprintf("activate(tiny, %s)", policy.TinyDuration))

			activation := h.overlay.activations[0]
			got := [3]bool{activation.CanSkip, activation.CanPostpone, activation.CanLock}
			if got != tc.caps {
				t.Fatalf("caps (skip, postpone, lock) = %v, want %v", got, tc.caps)
			}
		})
	}
}

func TestTinyBreakCompletesAfterDuration(t *testing.T) {
	t.Parallel()

	policy := tinyOnlyPolicy()
	h := newHarness(t, policy)
	h.start()

	h.advance(policy.TinyInterval)
	h.takeEvents()
	h.advance(policy.TinyDuration)

	h.wantPhase(PhaseWorking)
	h.wantCalls("activate(tiny, 30s)", "deactivate()")
	done := h.eventsOf(EventBreakDone)
	if len(done) != 1 || done[0].Outcome != OutcomeCompleted || done[0].Kind != model.BreakTiny {
		t.Fatalf("break_done events = %+v, want one completed tiny", done)
	}
	if got := h.snapshot().TinySinceLast; got != 0 {
		t.Fatalf("TinySinceLast = %v, want 0", got)
	}
	h.wantPending(policy.TinyInterval)
}

// Scenario: postpone once, let the postponed break run to completion.
func TestPostponeThenCompleteScenario(t *testing.T) {
	t.Parallel()

	policy := tinyOnlyPolicy()
	h := newHarness(t, policy)
	h.start()

	h.advance(1200 * time.Second)
	h.wantCalls("activate(tiny, 30s)")

	h.advance(5 * time.Second)
	h.send(h.sched.Postpone)
	h.wantPhase(PhaseTinyPostponed)
	h.wantCalls("deactivate()")
	h.wantPending(policy.PostponeLength)

	h.advance(policy.PostponeLength)
	h.wantPhase(PhaseTinyPending)
	h.wantCalls("activate(tiny, 30s)")
	if got := h.snapshot().TinyPostponements; got != 1 {
		t.Fatalf("TinyPostponements = %d, want 1", got)
	}
	if got := h.overlay.activations[1]; !got.CanPostpone {
		t.Fatalf("second activation CanPostpone = false, want true with 1 of 2 used")
	}

	h.advance(30 * time.Second)
	h.wantPhase(PhaseWorking)
	h.wantCalls("deactivate()")
	snapshot := h.snapshot()
	if snapshot.TinyPostponements != 0 || snapshot.TinySinceLast != 0 {
		t.Fatalf("after completion postponements = %d, since = %v, want 0, 0",
			snapshot.TinyPostponements, snapshot.TinySinceLast)
	}
	h.wantPending(1200 * time.Second)
}

func TestPostponeLimit(t *testing.T) {
	t.Parallel()

	policy := tinyOnlyPolicy()
	h := newHarness(t, policy)
	h.start()
	h.advance(policy.TinyInterval)

	for i := 1; i <= policy.MaxTinyPostponements; i++ {
		h.send(h.sched.Postpone)
		h.wantPhase(PhaseTinyPostponed)
		h.advance(policy.PostponeLength)
		h.wantPhase(PhaseTinyPending)
		if got := h.snapshot().TinyPostponements; got != i {
			t.Fatalf("TinyPostponements = %d, want %d", got, i)
		}
	}
	last := h.overlay.activations[len(h.overlay.activations)-1]
	if last.CanPostpone {
		t.Fatalf("CanPostpone = true at the limit, want false")
	}

	h.overlay.take()
	h.takeEvents()
	h.send(h.sched.Postpone)
	h.wantPhase(PhaseTinyPending)
	h.wantCalls()
	if rejected := h.eventsOf(EventRejected); len(rejected) != 1 {
		t.Fatalf("rejected events = %d, want 1", len(rejected))
	}
	if got := h.snapshot().TinyPostponements; got != policy.MaxTinyPostponements {
		t.Fatalf("TinyPostponements = %d, want %d", got, policy.MaxTinyPostponements)
	}
}

func TestSkipResetsOnlyOwnCounters(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	policy.TinyInterval = 20 * time.Minute
	policy.BigInterval = time.Hour
	h := newHarness(t, policy)
	h.start()

	h.advance(20 * time.Minute)
	h.send(h.sched.Postpone)
	h.advance(policy.PostponeLength)
	h.wantPhase(PhaseTinyPending)

	h.send(h.sched.Skip)
	h.wantPhase(PhaseWorking)
	snapshot := h.snapshot()
	if snapshot.TinySinceLast != 0 || snapshot.TinyPostponements != 0 {
		t.Fatalf("tiny since = %v, postponements = %d, want 0, 0", snapshot.TinySinceLast, snapshot.TinyPostponements)
	}
	if want := 25 * time.Minute; snapshot.BigSinceLast != want {
		t.Fatalf("BigSinceLast = %v, want %v", snapshot.BigSinceLast, want)
	}
	done := h.eventsOf(EventBreakDone)
	if len(done) != 1 || done[0].Outcome != OutcomeSkipped {
		t.Fatalf("break_done events = %+v, want one skipped", done)
	}
}

func TestSimpleModeRejectsCommands(t *testing.T) {
	t.Parallel()

	policy := tinyOnlyPolicy()
	policy.TinyMode = model.TinyModeSimple
	h := newHarness(t, policy)
	h.start()
	h.advance(policy.TinyInterval)
	h.overlay.take()
	h.takeEvents()

	h.send(h.sched.Skip)
	h.send(h.sched.Postpone)
	h.send(h.sched.Lock)

	h.wantPhase(PhaseTinyPending)
	h.wantCalls()
	if got := len(h.eventsOf(EventRejected)); got != 3 {
		t.Fatalf("rejected events = %d, want 3", got)
	}
	if h.session.locks != 0 {
		t.Fatalf("RequestLock calls = %d, want 0", h.session.locks)
	}

	h.advance(policy.TinyDuration)
	h.wantPhase(PhaseWorking)
	h.wantCalls("deactivate()")
}

func TestLockCompletesAndRequestsLock(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	h := newHarness(t, policy)
	h.start()
	h.advance(policy.TinyInterval)
	h.takeEvents()

	h.send(h.sched.Lock)
	h.wantPhase(PhaseWorking)
	h.wantCalls("activate(tiny, 20s)", "deactivate()")
	if h.session.locks != 1 {
		t.Fatalf("RequestLock calls = %d, want 1", h.session.locks)
	}
	done := h.eventsOf(EventBreakDone)
	if len(done) != 1 || done[0].Outcome != OutcomeLocked {
		t.Fatalf("break_done events = %+v, want one locked", done)
	}
	if got := h.snapshot().TinySinceLast; got != 0 {
		t.Fatalf("TinySinceLast = %v, want 0", got)
	}
}

func TestLockFromPostponedCompletesWithoutOverlay(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	h := newHarness(t, policy)
	h.start()
	h.advance(policy.TinyInterval)
	h.send(h.sched.Postpone)
	h.overlay.take()

	h.send(h.sched.Lock)
	h.wantPhase(PhaseWorking)
	h.wantCalls()
	if h.session.locks != 1 {
		t.Fatalf("RequestLock calls = %d, want 1", h.session.locks)
	}
}

func TestLockErrorStillCompletes(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	h := newHarness(t, policy)
	h.session.err = errors.New("no session bus")
	h.start()
	h.advance(policy.TinyInterval)

	h.send(h.sched.Lock)
	h.wantPhase(PhaseWorking)
}

func TestCommandsOutsideBreakAreRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, model.DefaultPolicy())
	h.start()
	h.takeEvents()

	h.send(h.sched.Skip)
	h.send(h.sched.Postpone)
	h.send(h.sched.Lock)
	h.send(h.sched.Resume)

	h.wantPhase(PhaseWorking)
	h.wantCalls()
	if got := len(h.eventsOf(EventRejected)); got != 4 {
		t.Fatalf("rejected events = %d, want 4", got)
	}
	if h.session.locks != 0 {
		t.Fatalf("RequestLock calls = %d, want 0", h.session.locks)
	}
}

// Scenario: suspend during an active tiny break, then resume.
func TestSuspendDuringTinyBreak(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	h := newHarness(t, policy)
	h.start()
	h.advance(policy.TinyInterval)
	h.idle.FireThreshold(settleAfter)
	h.drain()
	h.wantPhase(PhaseTinyActive)
	h.overlay.take()
	cancels := h.idle.Cancels()

	h.send(func() { h.sched.Suspend("lock") })
	h.wantPhase(PhaseSuspended)
	h.wantCalls("deactivate()")
	h.wantPending()
	if h.idle.Cancels() <= cancels {
		t.Fatalf("CancelAllWatches not called on suspend")
	}
	if got := h.idle.Watches(); len(got) != 0 {
		t.Fatalf("idle watches = %v, want none", got)
	}
	snapshot := h.snapshot()
	if !snapshot.Suspended || snapshot.SuspendReason != "lock" || snapshot.Interrupted != PhaseTinyActive {
		t.Fatalf("snapshot = %+v, want suspended by lock from tiny_active", snapshot)
	}

	h.advance(3 * time.Hour)
	h.wantCalls()
	h.wantPhase(PhaseSuspended)

	h.send(h.sched.Resume)
	h.wantPhase(PhaseWorking)
	h.wantPending(policy.TinyInterval, policy.BigInterval)
	snapshot = h.snapshot()
	if snapshot.TinySinceLast != 0 || snapshot.BigSinceLast != 0 {
		t.Fatalf("after resume since = %v/%v, want 0/0", snapshot.TinySinceLast, snapshot.BigSinceLast)
	}
	if got := h.idle.Watches(); !slices.Equal(got, []time.Duration{policy.IdleResetThreshold}) {
		t.Fatalf("idle watches = %v, want [%v]", got, policy.IdleResetThreshold)
	}
}

func TestSuspendFromEveryPhase(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	policy.TinyInterval = 20 * time.Minute
	policy.BigInterval = time.Hour

	reach := map[Phase]func(h *harness){
		PhaseWorking:       func(h *harness) { h.advance(time.Minute) },
		PhaseTinyPending:   func(h *harness) { h.advance(20 * time.Minute) },
		PhaseTinyActive:    func(h *harness) { h.advance(20 * time.Minute); h.idle.FireThreshold(settleAfter); h.drain() },
		PhaseTinyPostponed: func(h *harness) { h.advance(20 * time.Minute); h.send(h.sched.Postpone) },
		PhaseBigPending:    func(h *harness) { h.send(func() { h.sched.ForceBreak(model.BreakBig) }) },
		PhaseBigActive: func(h *harness) {
			h.send(func() { h.sched.ForceBreak(model.BreakBig) })
			h.idle.FireThreshold(settleAfter)
			h.drain()
		},
		PhaseBigPostponed: func(h *harness) {
			h.send(func() { h.sched.ForceBreak(model.BreakBig) })
			h.send(h.sched.Postpone)
		},
	}
	for phase, setup := range reach {
		t.Run(string(phase), func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, policy)
			h.start()
			setup(h)
			h.wantPhase(phase)

			h.send(func() { h.sched.Suspend("user") })
			h.wantPhase(PhaseSuspended)
			h.wantPending()
			if got := h.snapshot().Interrupted; got != phase {
				t.Fatalf("Interrupted = %s, want %s", got, phase)
			}

			h.send(h.sched.Resume)
			h.wantPhase(PhaseWorking)
			h.wantPending(policy.TinyInterval, policy.BigInterval)
		})
	}
}

func TestSuspendTwiceIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, model.DefaultPolicy())
	h.start()
	h.send(func() { h.sched.Suspend("lock") })
	h.takeEvents()

	h.send(func() { h.sched.Suspend("user") })
	h.wantPhase(PhaseSuspended)
	if got := h.snapshot().SuspendReason; got != "lock" {
		t.Fatalf("SuspendReason = %q, want %q", got, "lock")
	}
	if got := len(h.eventsOf(EventRejected)); got != 1 {
		t.Fatalf("rejected events = %d, want 1", got)
	}
}

func TestStaleEventsAfterSuspendAreIgnored(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	h := newHarness(t, policy)
	h.start()
	h.advance(policy.TinyInterval)
	settleIDs := h.idle.WatchIDs()
	if len(settleIDs) != 1 {
		t.Fatalf("watch ids = %v, want one settle watch", settleIDs)
	}

	// The duration timer fires and is queued, then suspend is applied first.
	h.clock.Advance(policy.TinyDuration)
	h.sched.handle(input{kind: inputCommand, command: cmdSuspend, reason: "lock"})
	h.drain()
	h.wantPhase(PhaseSuspended)

	h.idle.Deliver(model.IdleSignal{Kind: model.IdleTimeout, Watch: settleIDs[0], Threshold: settleAfter})
	h.idle.Deliver(model.IdleSignal{Kind: model.Resumed})
	h.drain()
	h.wantPhase(PhaseSuspended)
	if done := h.eventsOf(EventBreakDone); len(done) != 0 {
		t.Fatalf("break_done events = %+v, want none from stale timer", done)
	}
}

func TestStaleDueTimerAfterForcedBreak(t *testing.T) {
	t.Parallel()

	policy := tinyOnlyPolicy()
	h := newHarness(t, policy)
	h.start()

	// The tiny due timer fires and is queued behind a forced break.
	h.clock.Advance(policy.TinyInterval)
	h.sched.handle(input{kind: inputCommand, command: cmdForceBreak, breakOf: model.BreakTiny})
	h.drain()

	h.wantPhase(PhaseTinyPending)
	h.wantCalls("activate(tiny, 30s)")
}

// Scenario: tiny and big fall due together; only big starts and tiny keeps its cadence.
func TestCoincidingBreaksBigWins(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	policy.TinyInterval = 1200 * time.Second
	policy.TinyDuration = 30 * time.Second
	policy.BigInterval = 1200 * time.Second
	policy.BigDuration = 300 * time.Second
	h := newHarness(t, policy)
	h.start()

	h.advance(1200 * time.Second)
	h.wantPhase(PhaseBigPending)
	h.wantCalls("activate(big, 5m0s)")

	h.advance(300 * time.Second)
	h.wantPhase(PhaseWorking)
	h.wantCalls("deactivate()")
	snapshot := h.snapshot()
	if want := 1500 * time.Second; snapshot.TinySinceLast != want {
		t.Fatalf("TinySinceLast = %v, want %v", snapshot.TinySinceLast, want)
	}
	if snapshot.BigSinceLast != 0 {
		t.Fatalf("BigSinceLast = %v, want 0", snapshot.BigSinceLast)
	}
	if want := 900 * time.Second; snapshot.NextBreakIn != want {
		t.Fatalf("NextBreakIn = %v, want %v", snapshot.NextBreakIn, want)
	}

	h.advance(899 * time.Second)
	h.wantPhase(PhaseWorking)
	h.advance(time.Second)
	h.wantPhase(PhaseTinyPending)
	h.wantCalls("activate(tiny, 30s)")
}

func TestBigDueSupersedesTinyBreak(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	policy.TinyInterval = 20 * time.Minute
	policy.BigInterval = 30 * time.Minute
	policy.PostponeLength = 15 * time.Minute
	h := newHarness(t, policy)
	h.start()

	h.advance(20 * time.Minute)
	h.send(h.sched.Postpone)
	h.wantPhase(PhaseTinyPostponed)
	h.takeEvents()

	h.advance(10 * time.Minute)
	h.wantPhase(PhaseBigPending)
	superseded := h.eventsOf(EventSuperseded)
	if len(superseded) != 1 || superseded[0].Kind != model.BreakTiny {
		t.Fatalf("superseded events = %+v, want one tiny", superseded)
	}
	if got := h.snapshot().TinyPostponements; got != 1 {
		t.Fatalf("TinyPostponements = %d, want 1", got)
	}

	h.advance(policy.BigDuration)
	h.wantPhase(PhaseWorking)
	snapshot := h.snapshot()
	if snapshot.TinyPostponements != 1 {
		t.Fatalf("TinyPostponements after big = %d, want 1", snapshot.TinyPostponements)
	}
	if snapshot.BigPostponements != 0 || snapshot.BigSinceLast != 0 {
		t.Fatalf("big counters = %d/%v, want 0/0", snapshot.BigPostponements, snapshot.BigSinceLast)
	}
}

func TestBigDueWhileTinyShowingDeactivatesFirst(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	policy.TinyInterval = 20 * time.Minute
	policy.TinyDuration = 2 * time.Minute
	policy.BigInterval = 21 * time.Minute
	h := newHarness(t, policy)
	h.start()

	h.advance(21 * time.Minute)
	h.wantPhase(PhaseBigPending)
	h.wantCalls("activate(tiny, 2m0s)", "deactivate()", "activate(big, 5m0s)")
}

func TestTinyAccruesDuringBigBreak(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	policy.TinyInterval = 20 * time.Minute
	h := newHarness(t, policy)
	h.start()

	h.advance(10 * time.Minute)
	h.send(func() { h.sched.ForceBreak(model.BreakBig) })
	h.wantPhase(PhaseBigPending)
	h.advance(policy.BigDuration)
	h.wantPhase(PhaseWorking)

	if want := 15 * time.Minute; h.snapshot().TinySinceLast != want {
		t.Fatalf("TinySinceLast = %v, want %v", h.snapshot().TinySinceLast, want)
	}
	h.advance(5 * time.Minute)
	h.wantPhase(PhaseTinyPending)
}

func TestSettleAndResumeDuringBreak(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	h := newHarness(t, policy)
	h.start()
	h.advance(policy.TinyInterval)
	h.wantPhase(PhaseTinyPending)

	h.advance(5 * time.Second)
	h.idle.FireThreshold(settleAfter)
	h.drain()
	h.wantPhase(PhaseTinyActive)
	if !h.idle.ResumeArmed() {
		t.Fatalf("resume watch not armed in active phase")
	}

	h.idle.SimulateResume()
	h.drain()
	h.wantPhase(PhaseTinyPending)
	if got := h.snapshot().BreakRemaining; got != policy.TinyDuration-5*time.Second {
		t.Fatalf("BreakRemaining = %v, want %v", got, policy.TinyDuration-5*time.Second)
	}
	if got := h.idle.Watches(); !slices.Equal(got, []time.Duration{settleAfter}) {
		t.Fatalf("idle watches = %v, want settle watch", got)
	}
}

func TestAwayPausesAccrualWithoutReset(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	h := newHarness(t, policy)
	h.start()

	h.advance(10 * time.Minute)
	if fired := h.idle.FireThreshold(policy.IdleResetThreshold); fired != 1 {
		t.Fatalf("FireThreshold() fired %d watches, want 1", fired)
	}
	h.drain()
	if !h.snapshot().Away {
		t.Fatalf("Away = false after idle reset threshold")
	}
	h.wantPending()

	h.advance(2 * time.Hour)
	h.wantPhase(PhaseWorking)
	if want := 10 * time.Minute; h.snapshot().TinySinceLast != want {
		t.Fatalf("TinySinceLast while away = %v, want %v", h.snapshot().TinySinceLast, want)
	}

	h.idle.SimulateResume()
	h.drain()
	snapshot := h.snapshot()
	if snapshot.Away {
		t.Fatalf("Away = true after resume")
	}
	h.wantPending(policy.TinyInterval-10*time.Minute, policy.BigInterval-10*time.Minute)
	if got := len(h.eventsOf(EventBack)); got != 1 {
		t.Fatalf("back events = %d, want 1", got)
	}
}

func TestForceBreakOnlyWhileWorking(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	h := newHarness(t, policy)
	h.start()

	h.send(func() { h.sched.ForceBreak(model.BreakTiny) })
	h.wantPhase(PhaseTinyPending)
	h.takeEvents()

	h.send(func() { h.sched.ForceBreak(model.BreakBig) })
	h.wantPhase(PhaseTinyPending)
	if got := len(h.eventsOf(EventRejected)); got != 1 {
		t.Fatalf("rejected events = %d, want 1", got)
	}
}

func TestForceBreakDisabledKindRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tinyOnlyPolicy())
	h.start()

	h.send(func() { h.sched.ForceBreak(model.BreakBig) })
	h.wantPhase(PhaseWorking)
}

func TestAdapterUnavailableIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, model.DefaultPolicy())
	h.idle.SetUnavailable(true)

	err := h.sched.Run(context.Background())
	if !errors.Is(err, model.ErrAdapterUnavailable) {
		t.Fatalf("Run() error = %v, want %v", err, model.ErrAdapterUnavailable)
	}
	var sawIdleError bool
	for event := range h.events {
		if event.Type == EventIdleError {
			sawIdleError = true
		}
	}
	if !sawIdleError {
		t.Fatalf("no idle_error event before shutdown")
	}
	h.wantPending()
}

func TestAdapterLostDuringBreakDeactivatesOverlay(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	h := newHarness(t, policy)
	h.start()
	h.advance(policy.TinyInterval)
	h.idle.SetUnavailable(true)
	h.overlay.take()

	h.advance(policy.TinyDuration)
	h.wantCalls("deactivate()")
	if !errors.Is(h.sched.fatal, model.ErrAdapterUnavailable) {
		t.Fatalf("fatal = %v, want %v", h.sched.fatal, model.ErrAdapterUnavailable)
	}

	h.send(func() { h.sched.ForceBreak(model.BreakTiny) })
	h.wantCalls()
}

func TestRunServesSnapshotAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	h := newHarness(t, policy)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sched.Run(ctx) }()

	snapshot, err := h.sched.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snapshot.Phase != PhaseWorking {
		t.Fatalf("Phase = %s, want %s", snapshot.Phase, PhaseWorking)
	}
	if snapshot.NextBreakIn != policy.TinyInterval {
		t.Fatalf("NextBreakIn = %v, want %v", snapshot.NextBreakIn, policy.TinyInterval)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
	if err := h.sched.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run() error = %v, want %v", err, ErrAlreadyRunning)
	}
	if _, err := h.sched.Snapshot(context.Background()); err == nil {
		t.Fatalf("Snapshot() after stop error = nil, want error")
	}
}

func TestTransitionEventsCarryRemaining(t *testing.T) {
	t.Parallel()

	policy := model.DefaultPolicy()
	h := newHarness(t, policy)
	h.start()
	h.takeEvents()

	h.advance(policy.TinyInterval)
	changes := h.eventsOf(EventStateChange)
	if len(changes) != 1 {
		t.Fatalf("state_change events = %d, want 1", len(changes))
	}
	if changes[0].Phase != PhaseTinyPending || changes[0].Remaining != policy.TinyDuration {
		t.Fatalf("state_change = %+v, want tiny_pending with %v", changes[0], policy.TinyDuration)
	}
}
