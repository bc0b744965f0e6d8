package platform

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MatthiasKunnen/go-wayland/wayland/client"
	idleNotify "github.com/MatthiasKunnen/go-wayland/wayland/staging/ext-idle-notify-v1"
	"github.com/rs/zerolog"

	"restbreak/internal/core/model"
)

// resumeProbe is the timeout of the notification used to catch the next
// input event. The user is already idle when a resume is requested, so the
// notification idles almost at once and reports resumed on the next input.
const resumeProbe = time.Millisecond

const signalBuffer = 64

// WaylandIdleSource implements IdleSource with the ext-idle-notify-v1 protocol.
// All Wayland requests run on one goroutine, which also dispatches events.
type WaylandIdleSource struct {
	log      zerolog.Logger
	display  *client.Display
	registry *client.Registry
	seat     *client.Seat
	notifier *idleNotify.IdleNotifier

	calls    chan func()
	dispatch chan func() error
	signals  chan model.IdleSignal
	closeCh  chan struct{}
	closeErr error
	once     sync.Once

	mu      sync.Mutex
	handler func(model.IdleSignal)

	// Owned by the Wayland goroutine.
	nextID  model.WatchID
	watches map[model.WatchID]*idleNotify.IdleNotification
	resume  *idleNotify.IdleNotification
}

// NewWaylandIdleSource connects to the compositor and binds the idle notifier.
// It fails with model.ErrAdapterUnavailable when the protocol is missing.
func NewWaylandIdleSource(logger zerolog.Logger) (*WaylandIdleSource, error) {
	source := &WaylandIdleSource{
		log:      logger.With().Str("component", "idle_wayland").Logger(),
		calls:    make(chan func()),
		dispatch: make(chan func() error),
		signals:  make(chan model.IdleSignal, signalBuffer),
		closeCh:  make(chan struct{}),
		watches:  make(map[model.WatchID]*idleNotify.IdleNotification),
	}

	var err error
	source.display, err = client.Connect("")
	if err != nil {
		return nil, fmt.Errorf("%w: connect to Wayland server: %v", model.ErrAdapterUnavailable, err)
	}
	fail := func(err error) (*WaylandIdleSource, error) {
		if destroyErr := source.destroy(); destroyErr != nil {
			source.log.Warn().Err(destroyErr).Msg("close Wayland connection")
		}
		return nil, err
	}

	source.registry, err = source.display.GetRegistry()
	if err != nil {
		return fail(fmt.Errorf("get Wayland registry: %w", err))
	}

	var bindErr error
	source.registry.SetGlobalHandler(func(e client.RegistryGlobalEvent) {
		switch e.Interface {
		case idleNotify.IdleNotifierInterfaceName:
			source.notifier = idleNotify.NewIdleNotifier(source.display.Context())
			if err := source.registry.Bind(e.Name, e.Interface, e.Version, source.notifier); err != nil {
				bindErr = errors.Join(bindErr, fmt.Errorf("bind %s: %w", e.Interface, err))
			}
		case client.SeatInterfaceName:
			if source.seat != nil {
				return
			}
			seat := client.NewSeat(source.display.Context())
			if err := source.registry.Bind(e.Name, e.Interface, e.Version, seat); err != nil {
				bindErr = errors.Join(bindErr, fmt.Errorf("bind %s: %w", e.Interface, err))
			}
			source.seat = seat
		}
	})

	for round := 1; round <= 2; round++ {
		if err := source.display.Roundtrip(); err != nil {
			return fail(fmt.Errorf("Wayland roundtrip %d: %w", round, err))
		}
		if bindErr != nil {
			return fail(fmt.Errorf("Wayland registry after roundtrip %d: %w", round, bindErr))
		}
	}

	if source.notifier == nil || source.seat == nil {
		return fail(fmt.Errorf("%w: ext-idle-notify not supported by compositor", model.ErrAdapterUnavailable))
	}

	go source.read()
	go source.run()
	go source.notify()
	return source, nil
}

// read blocks on the socket and hands each decoded event to run.
func (source *WaylandIdleSource) read() {
	for {
		select {
		case source.dispatch <- source.display.Context().GetDispatch():
		case <-source.closeCh:
			return
		}
	}
}

func (source *WaylandIdleSource) run() {
	for {
		select {
		case <-source.closeCh:
			return
		case dispatchFunc := <-source.dispatch:
			if err := dispatchFunc(); err != nil {
				source.log.Debug().Err(err).Msg("Wayland dispatch")
			}
		case call := <-source.calls:
			call()
		}
	}
}

// do runs fn on the Wayland goroutine and waits for it.
func (source *WaylandIdleSource) do(fn func()) bool {
	done := make(chan struct{})
	select {
	case source.calls <- func() { fn(); close(done) }:
	case <-source.closeCh:
		return false
	}
	select {
	case <-done:
		return true
	case <-source.closeCh:
		return false
	}
}

func (source *WaylandIdleSource) SetHandler(handler func(model.IdleSignal)) {
	source.mu.Lock()
	source.handler = handler
	source.mu.Unlock()
}

// queue hands a signal to notify without waiting for the handler.
func (source *WaylandIdleSource) queue(signal model.IdleSignal) {
	select {
	case source.signals <- signal:
	case <-source.closeCh:
	}
}

// notify delivers queued signals one at a time, in the order they were queued.
func (source *WaylandIdleSource) notify() {
	for {
		select {
		case <-source.closeCh:
			return
		case signal := <-source.signals:
			source.deliver(signal)
		}
	}
}

func (source *WaylandIdleSource) deliver(signal model.IdleSignal) {
	source.mu.Lock()
	handler := source.handler
	source.mu.Unlock()
	if handler != nil {
		handler(signal)
	}
}

func (source *WaylandIdleSource) ArmIdleWatch(d time.Duration) (model.WatchID, error) {
	durationMs := d.Milliseconds()
	switch {
	case durationMs > math.MaxUint32:
		return 0, fmt.Errorf("arm idle watch: duration too large, %d > %d", durationMs, uint32(math.MaxUint32))
	case durationMs < 0:
		durationMs = 0
	}

	var (
		id  model.WatchID
		err error
	)
	ok := source.do(func() {
		notification, getErr := source.notifier.GetIdleNotification(uint32(durationMs), source.seat)
		if getErr != nil {
			err = fmt.Errorf("get idle notification: %w", getErr)
			return
		}
		source.nextID++
		id = source.nextID
		source.watches[id] = notification
		notification.SetIdledHandler(func(idleNotify.IdleNotificationIdledEvent) {
			if _, live := source.watches[id]; !live {
				return
			}
			source.dropWatch(id)
			source.queue(model.IdleSignal{Kind: model.IdleTimeout, Watch: id, Threshold: d})
		})
	})
	if !ok {
		return 0, fmt.Errorf("arm idle watch: %w: Wayland source closed", model.ErrAdapterUnavailable)
	}
	return id, err
}

// dropWatch destroys a watch notification. Runs on the Wayland goroutine.
func (source *WaylandIdleSource) dropWatch(id model.WatchID) {
	notification, ok := source.watches[id]
	if !ok {
		return
	}
	delete(source.watches, id)
	if err := notification.Destroy(); err != nil {
		source.log.Debug().Err(err).Msg("destroy idle notification")
	}
}

func (source *WaylandIdleSource) CancelAllWatches() {
	source.do(func() {
		for id := range source.watches {
			source.dropWatch(id)
		}
	})
}

func (source *WaylandIdleSource) WatchForResume() {
	source.do(func() {
		if source.resume != nil {
			return
		}
		notification, err := source.notifier.GetIdleNotification(uint32(resumeProbe.Milliseconds()), source.seat)
		if err != nil {
			source.log.Warn().Err(err).Msg("get resume notification")
			return
		}
		source.resume = notification
		notification.SetResumedHandler(func(idleNotify.IdleNotificationResumedEvent) {
			if source.resume != notification {
				return
			}
			source.resume = nil
			if err := notification.Destroy(); err != nil {
				source.log.Debug().Err(err).Msg("destroy resume notification")
			}
			source.queue(model.IdleSignal{Kind: model.Resumed})
		})
	})
}

// Close releases every Wayland object and stops the event goroutines.
func (source *WaylandIdleSource) Close() error {
	source.once.Do(func() {
		source.do(func() {
			for id := range source.watches {
				source.dropWatch(id)
			}
			if source.resume != nil {
				_ = source.resume.Destroy()
				source.resume = nil
			}
		})
		source.closeErr = source.destroy()
	})
	return source.closeErr
}

func (source *WaylandIdleSource) destroy() error {
	var totalErr error
	if source.seat != nil {
		if err := source.seat.Release(); err != nil {
			totalErr = errors.Join(totalErr, fmt.Errorf("release seat: %w", err))
		}
	}
	if source.notifier != nil {
		if err := source.notifier.Destroy(); err != nil {
			totalErr = errors.Join(totalErr, fmt.Errorf("destroy %s: %w", idleNotify.IdleNotifierInterfaceName, err))
		}
	}
	if source.display != nil {
		if err := source.display.Destroy(); err != nil {
			totalErr = errors.Join(totalErr, fmt.Errorf("destroy display: %w", err))
		}
	}
	close(source.closeCh)
	if source.display != nil {
		if err := source.display.Context().Close(); err != nil {
			totalErr = errors.Join(totalErr, fmt.Errorf("close Wayland connection: %w", err))
		}
	}
	return totalErr
}
