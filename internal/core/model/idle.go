package model

import (
	"errors"
	"time"
)

// ErrAdapterUnavailable indicates the idle-time service cannot be reached.
// Scheduling halts when it is returned; it is never retried.
var ErrAdapterUnavailable = errors.New("cannot detect idle time")

// WatchID identifies one armed idle watch or scheduled timer.
type WatchID uint64

// IdleSignalKind distinguishes idle notifications.
type IdleSignalKind int

const (
	// IdleTimeout means the user has been idle for the watch's threshold.
	IdleTimeout IdleSignalKind = iota
	// Resumed means the user became active again after being idle.
	Resumed
)

func (kind IdleSignalKind) String() string {
	switch kind {
	case IdleTimeout:
		return "idle_timeout"
	case Resumed:
		return "resumed"
	default:
		return "unknown"
	}
}

// IdleSignal is a notification delivered by an idle source.
type IdleSignal struct {
	Kind      IdleSignalKind
	Watch     WatchID
	Threshold time.Duration
}

// Activation describes what the break overlay should show.
type Activation struct {
	Kind        BreakKind
	Remaining   time.Duration
	CanSkip     bool
	CanPostpone bool
	CanLock     bool
}
