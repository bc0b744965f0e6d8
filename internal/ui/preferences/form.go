package preferences

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"restbreak/internal/core/model"
	"restbreak/internal/storage"
)

// form is the text and toggle state of the preferences window.
type form struct {
	TinyEnabled     bool
	TinyInteractive bool
	TinyInterval    string // minutes
	TinyDuration    string // seconds
	TinyPostpones   string

	BigEnabled    bool
	BigInterval   string // minutes
	BigDuration   string // minutes
	BigPostpones  string
	PostponeAfter string // minutes
	IdleReset     string // minutes, 0 disables

	SuspendOnLock bool
	GrayLevel     float64
	Fullscreen    bool
	EscapeSkips   bool
	Autostart     bool
	History       bool
}

func formFrom(settings storage.Settings) form {
	policy := settings.Policy
	return form{
		TinyEnabled:     policy.TinyEnabled,
		TinyInteractive: policy.TinyMode == model.TinyModeInteractive,
		TinyInterval:    units(policy.TinyInterval, time.Minute),
		TinyDuration:    units(policy.TinyDuration, time.Second),
		TinyPostpones:   strconv.Itoa(policy.MaxTinyPostponements),
		BigEnabled:      policy.BigEnabled,
		BigInterval:     units(policy.BigInterval, time.Minute),
		BigDuration:     units(policy.BigDuration, time.Minute),
		BigPostpones:    strconv.Itoa(policy.MaxBigPostponements),
		PostponeAfter:   units(policy.PostponeLength, time.Minute),
		IdleReset:       units(policy.IdleResetThreshold, time.Minute),
		SuspendOnLock:   policy.SuspendOnLock,
		GrayLevel:       float64(settings.GrayLevel),
		Fullscreen:      settings.Fullscreen,
		EscapeSkips:     settings.EscapeSkips,
		Autostart:       settings.Autostart,
		History:         settings.History,
	}
}

// apply merges the form into base and validates the result. Every bad field is
// reported, not only the first.
func (values form) apply(base storage.Settings) (storage.Settings, error) {
	settings := base
	policy := &settings.Policy
	var errs []error

	parse := func(label, text string, unit time.Duration, dst *time.Duration) {
		n, err := nonNegative(label, text)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = time.Duration(n) * unit
	}
	count := func(label, text string, dst *int) {
		n, err := nonNegative(label, text)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = n
	}

	policy.TinyEnabled = values.TinyEnabled
	policy.TinyMode = model.TinyModeSimple
	if values.TinyInteractive {
		policy.TinyMode = model.TinyModeInteractive
	}
	parse("micro-pause interval", values.TinyInterval, time.Minute, &policy.TinyInterval)
	parse("micro-pause duration", values.TinyDuration, time.Second, &policy.TinyDuration)
	count("micro-pause postponements", values.TinyPostpones, &policy.MaxTinyPostponements)

	policy.BigEnabled = values.BigEnabled
	parse("break interval", values.BigInterval, time.Minute, &policy.BigInterval)
	parse("break duration", values.BigDuration, time.Minute, &policy.BigDuration)
	count("break postponements", values.BigPostpones, &policy.MaxBigPostponements)
	parse("postpone length", values.PostponeAfter, time.Minute, &policy.PostponeLength)
	parse("idle reset", values.IdleReset, time.Minute, &policy.IdleResetThreshold)
	policy.SuspendOnLock = values.SuspendOnLock

	settings.GrayLevel = int(values.GrayLevel + 0.5)
	settings.Fullscreen = values.Fullscreen
	settings.EscapeSkips = values.EscapeSkips
	settings.Autostart = values.Autostart
	settings.History = values.History

	if len(errs) > 0 {
		return base, errors.Join(errs...)
	}
	if err := settings.Validate(); err != nil {
		return base, err
	}
	return settings, nil
}

func nonNegative(label, text string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a whole number", label, text)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: must not be negative", label)
	}
	return n, nil
}

func units(d, unit time.Duration) string {
	return strconv.Itoa(int(d / unit))
}
