package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy indicates a policy the scheduler refuses to run with.
var ErrInvalidPolicy = errors.New("invalid break policy")

// BreakKind identifies one of the two break types.
type BreakKind string

const (
	BreakTiny BreakKind = "tiny"
	BreakBig  BreakKind = "big"
)

// TinyMode selects how much control the user has over a tiny break.
type TinyMode string

const (
	// TinyModeSimple breaks can only run to completion.
	TinyModeSimple TinyMode = "simple"
	// TinyModeInteractive breaks accept skip, postpone and lock.
	TinyModeInteractive TinyMode = "interactive"
)

// BreakPolicy is the immutable configuration snapshot a scheduler runs with.
type BreakPolicy struct {
	TinyInterval time.Duration
	TinyDuration time.Duration
	BigInterval  time.Duration
	BigDuration  time.Duration

	MaxTinyPostponements int
	MaxBigPostponements  int
	PostponeLength       time.Duration

	// IdleResetThreshold separates a short pause from the user being away.
	IdleResetThreshold time.Duration

	TinyMode      TinyMode
	TinyEnabled   bool
	BigEnabled    bool
	SuspendOnLock bool
}

// DefaultPolicy returns the policy used when no settings file exists.
func DefaultPolicy() BreakPolicy {
	return BreakPolicy{
		TinyInterval:         20 * time.Minute,
		TinyDuration:         20 * time.Second,
		BigInterval:          time.Hour,
		BigDuration:          5 * time.Minute,
		MaxTinyPostponements: 3,
		MaxBigPostponements:  3,
		PostponeLength:       5 * time.Minute,
		IdleResetThreshold:   5 * time.Minute,
		TinyMode:             TinyModeInteractive,
		TinyEnabled:          true,
		BigEnabled:           true,
		SuspendOnLock:        true,
	}
}

// Validate rejects policies with negative values or nothing to schedule.
func (policy BreakPolicy) Validate() error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"tiny interval", policy.TinyInterval},
		{"tiny duration", policy.TinyDuration},
		{"big interval", policy.BigInterval},
		{"big duration", policy.BigDuration},
		{"postpone length", policy.PostponeLength},
		{"idle reset threshold", policy.IdleResetThreshold},
	}
	for _, item := range durations {
		if item.value < 0 {
			return fmt.Errorf("%w: %s is negative (%s)", ErrInvalidPolicy, item.name, item.value)
		}
	}
	if policy.MaxTinyPostponements < 0 {
		return fmt.Errorf("%w: max tiny postponements is negative (%d)", ErrInvalidPolicy, policy.MaxTinyPostponements)
	}
	if policy.MaxBigPostponements < 0 {
		return fmt.Errorf("%w: max big postponements is negative (%d)", ErrInvalidPolicy, policy.MaxBigPostponements)
	}
	if !policy.TinyEnabled && !policy.BigEnabled {
		return fmt.Errorf("%w: both tiny and big breaks are disabled", ErrInvalidPolicy)
	}
	if policy.TinyEnabled && policy.TinyInterval == 0 {
		return fmt.Errorf("%w: tiny breaks enabled with a zero interval", ErrInvalidPolicy)
	}
	if policy.BigEnabled && policy.BigInterval == 0 {
		return fmt.Errorf("%w: big breaks enabled with a zero interval", ErrInvalidPolicy)
	}
	switch policy.TinyMode {
	case TinyModeSimple, TinyModeInteractive:
	default:
		return fmt.Errorf("%w: unknown tiny mode %q", ErrInvalidPolicy, policy.TinyMode)
	}
	return nil
}

// Interval returns the configured interval for a break kind.
func (policy BreakPolicy) Interval(kind BreakKind) time.Duration {
	if kind == BreakBig {
		return policy.BigInterval
	}
	return policy.TinyInterval
}

// Duration returns the configured break length for a break kind.
func (policy BreakPolicy) Duration(kind BreakKind) time.Duration {
	if kind == BreakBig {
		return policy.BigDuration
	}
	return policy.TinyDuration
}

// MaxPostponements returns the postponement limit for a break kind.
func (policy BreakPolicy) MaxPostponements(kind BreakKind) int {
	if kind == BreakBig {
		return policy.MaxBigPostponements
	}
	return policy.MaxTinyPostponements
}

// Enabled reports whether the break kind is scheduled at all.
func (policy BreakPolicy) Enabled(kind BreakKind) bool {
	if kind == BreakBig {
		return policy.BigEnabled
	}
	return policy.TinyEnabled
}

// Interactive reports whether the user may skip, postpone or lock a break of this kind.
func (policy BreakPolicy) Interactive(kind BreakKind) bool {
	if kind == BreakBig {
		return true
	}
	return policy.TinyMode == TinyModeInteractive
}
