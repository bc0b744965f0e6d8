package platform

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"restbreak/internal/core/model"
)

// FakeIdleSource is a deterministic IdleSource driven by tests.
// Notifications are only delivered when a Fire or Simulate method is called.
type FakeIdleSource struct {
	mu          sync.Mutex
	handler     func(model.IdleSignal)
	nextID      model.WatchID
	watches     map[model.WatchID]time.Duration
	resumeArmed bool
	unavailable bool
	cancels     int
}

// NewFakeIdleSource returns an empty fake.
func NewFakeIdleSource() *FakeIdleSource {
	return &FakeIdleSource{watches: make(map[model.WatchID]time.Duration)}
}

// SetUnavailable makes every following ArmIdleWatch fail.
func (fake *FakeIdleSource) SetUnavailable(unavailable bool) {
	fake.mu.Lock()
	fake.unavailable = unavailable
	fake.mu.Unlock()
}

func (fake *FakeIdleSource) SetHandler(handler func(model.IdleSignal)) {
	fake.mu.Lock()
	fake.handler = handler
	fake.mu.Unlock()
}

func (fake *FakeIdleSource) ArmIdleWatch(d time.Duration) (model.WatchID, error) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.unavailable {
		return 0, fmt.Errorf("fake idle source: %w", model.ErrAdapterUnavailable)
	}
	fake.nextID++
	fake.watches[fake.nextID] = d
	return fake.nextID, nil
}

func (fake *FakeIdleSource) CancelAllWatches() {
	fake.mu.Lock()
	clear(fake.watches)
	fake.cancels++
	fake.mu.Unlock()
}

func (fake *FakeIdleSource) WatchForResume() {
	fake.mu.Lock()
	fake.resumeArmed = true
	fake.mu.Unlock()
}

func (fake *FakeIdleSource) Close() error {
	return nil
}

// Watches returns the thresholds of all armed watches, shortest first.
func (fake *FakeIdleSource) Watches() []time.Duration {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	thresholds := make([]time.Duration, 0, len(fake.watches))
	for _, d := range fake.watches {
		thresholds = append(thresholds, d)
	}
	sort.Slice(thresholds, func(i, j int) bool { return thresholds[i] < thresholds[j] })
	return thresholds
}

// WatchIDs returns the identifiers of all armed watches in arming order.
func (fake *FakeIdleSource) WatchIDs() []model.WatchID {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	ids := make([]model.WatchID, 0, len(fake.watches))
	for id := range fake.watches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ResumeArmed reports whether a resume notification is pending.
func (fake *FakeIdleSource) ResumeArmed() bool {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.resumeArmed
}

// Cancels counts CancelAllWatches calls.
func (fake *FakeIdleSource) Cancels() int {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.cancels
}

// FireThreshold fires every armed watch whose threshold is at most idle, as if
// the user had been idle that long. It returns how many watches fired.
func (fake *FakeIdleSource) FireThreshold(idle time.Duration) int {
	fake.mu.Lock()
	var ids []model.WatchID
	for id, d := range fake.watches {
		if d <= idle {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	signals := make([]model.IdleSignal, 0, len(ids))
	for _, id := range ids {
		signals = append(signals, model.IdleSignal{Kind: model.IdleTimeout, Watch: id, Threshold: fake.watches[id]})
		delete(fake.watches, id)
	}
	handler := fake.handler
	fake.mu.Unlock()

	for _, signal := range signals {
		if handler != nil {
			handler(signal)
		}
	}
	return len(signals)
}

// SimulateResume delivers a Resumed notification if one was requested.
func (fake *FakeIdleSource) SimulateResume() bool {
	fake.mu.Lock()
	armed := fake.resumeArmed
	fake.resumeArmed = false
	handler := fake.handler
	fake.mu.Unlock()

	if !armed || handler == nil {
		return false
	}
	handler(model.IdleSignal{Kind: model.Resumed})
	return true
}

// Deliver sends an arbitrary signal, including ones for watches that no longer exist.
func (fake *FakeIdleSource) Deliver(signal model.IdleSignal) {
	fake.mu.Lock()
	handler := fake.handler
	fake.mu.Unlock()
	if handler != nil {
		handler(signal)
	}
}
