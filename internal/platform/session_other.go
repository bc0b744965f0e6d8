//go:build !linux

package platform

import (
	"github.com/rs/zerolog"
)

// SessionEvents receives session lock and system sleep changes.
type SessionEvents struct {
	Locked   func(locked bool)
	Sleeping func(sleeping bool)
}

// LogindSession is only available on Linux.
type LogindSession struct{}

// NewLogindSession always fails outside Linux.
func NewLogindSession(zerolog.Logger) (*LogindSession, error) {
	return nil, ErrSessionUnsupported
}

func (*LogindSession) SetHandler(SessionEvents) {}

func (*LogindSession) RequestLock() error { return ErrSessionUnsupported }

func (*LogindSession) Close() error { return nil }
