package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"restbreak/internal/core/model"
)

// PollingIdleSource samples an IdleProvider on a fixed interval and turns the
// readings into watch and resume notifications.
type PollingIdleSource struct {
	provider IdleProvider
	interval time.Duration
	log      zerolog.Logger
	errorLog rate.Sometimes

	mu          sync.Mutex
	handler     func(model.IdleSignal)
	nextID      model.WatchID
	watches     map[model.WatchID]time.Duration
	resumeArmed bool
	lastIdle    time.Duration
	// Result of the latest provider reading, reported by ArmIdleWatch.
	probed      bool
	unavailable error

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPollingIdleSource creates a source polling provider every interval.
// Call Start to begin sampling.
func NewPollingIdleSource(provider IdleProvider, interval time.Duration, logger zerolog.Logger) *PollingIdleSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollingIdleSource{
		provider: provider,
		interval: interval,
		log:      logger.With().Str("component", "idle_poll").Logger(),
		errorLog: rate.Sometimes{First: 1, Interval: time.Minute},
		watches:  make(map[model.WatchID]time.Duration),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sampling loop. It stops when ctx is done or Close is called.
func (source *PollingIdleSource) Start(ctx context.Context) {
	go source.run(ctx)
}

// SetHandler installs the notification sink.
func (source *PollingIdleSource) SetHandler(handler func(model.IdleSignal)) {
	source.mu.Lock()
	source.handler = handler
	source.mu.Unlock()
}

// ArmIdleWatch registers a one-shot watch. It fails when the latest reading
// found the idle service unusable. The provider is only read here before the
// first poll.
func (source *PollingIdleSource) ArmIdleWatch(d time.Duration) (model.WatchID, error) {
	source.mu.Lock()
	probed := source.probed
	source.mu.Unlock()
	if !probed {
		_, err := source.provider.IdleDuration()
		source.record(err)
	}

	source.mu.Lock()
	defer source.mu.Unlock()
	if source.unavailable != nil {
		return 0, fmt.Errorf("arm idle watch: %w", source.unavailable)
	}
	source.nextID++
	source.watches[source.nextID] = d
	return source.nextID, nil
}

// CancelAllWatches drops every armed watch.
func (source *PollingIdleSource) CancelAllWatches() {
	source.mu.Lock()
	clear(source.watches)
	source.mu.Unlock()
}

// WatchForResume requests one Resumed notification on the next user input.
func (source *PollingIdleSource) WatchForResume() {
	source.mu.Lock()
	source.resumeArmed = true
	source.mu.Unlock()
}

// Close stops the sampling loop.
func (source *PollingIdleSource) Close() error {
	source.stopOnce.Do(func() { close(source.stopCh) })
	return nil
}

func (source *PollingIdleSource) run(ctx context.Context) {
	ticker := time.NewTicker(source.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-source.stopCh:
			return
		case <-ticker.C:
			source.poll()
		}
	}
}

// record keeps the availability seen by a provider reading. Transient
// failures leave the previous result in place.
func (source *PollingIdleSource) record(err error) {
	source.mu.Lock()
	defer source.mu.Unlock()
	source.probed = true
	switch {
	case err == nil:
		source.unavailable = nil
	case errors.Is(err, model.ErrAdapterUnavailable):
		source.unavailable = err
	}
}

func (source *PollingIdleSource) poll() {
	idle, err := source.provider.IdleDuration()
	source.record(err)
	if err != nil {
		source.errorLog.Do(func() {
			source.log.Warn().Err(err).Msg("read idle time")
		})
		return
	}
	signals, handler := source.observe(idle)
	if handler == nil {
		return
	}
	for _, signal := range signals {
		handler(signal)
	}
}

// observe records one idle reading and returns the notifications it triggers.
func (source *PollingIdleSource) observe(idle time.Duration) ([]model.IdleSignal, func(model.IdleSignal)) {
	source.mu.Lock()
	defer source.mu.Unlock()

	var signals []model.IdleSignal
	if source.resumeArmed && idle < source.lastIdle {
		source.resumeArmed = false
		signals = append(signals, model.IdleSignal{Kind: model.Resumed})
	}
	source.lastIdle = idle

	var reached []model.WatchID
	for id, threshold := range source.watches {
		if idle >= threshold {
			reached = append(reached, id)
		}
	}
	sort.Slice(reached, func(i, j int) bool { return reached[i] < reached[j] })
	for _, id := range reached {
		signals = append(signals, model.IdleSignal{Kind: model.IdleTimeout, Watch: id, Threshold: source.watches[id]})
		delete(source.watches, id)
	}
	return signals, source.handler
}
