package preferences

import (
	"errors"
	"strings"
	"testing"
	"time"

	"restbreak/internal/core/model"
	"restbreak/internal/storage"
)

func TestFormRoundTripKeepsSettings(t *testing.T) {
	base := storage.DefaultSettings()
	got, err := formFrom(base).apply(base)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != base {
		t.Fatalf("settings changed:\n got  %+v\n want %+v", got, base)
	}
}

func TestFormApplyEdits(t *testing.T) {
	base := storage.DefaultSettings()
	values := formFrom(base)
	values.TinyInterval = " 10 "
	values.TinyDuration = "15"
	values.TinyInteractive = false
	values.BigDuration = "8"
	values.IdleReset = "0"
	values.GrayLevel = 42.6
	values.Autostart = true

	got, err := values.apply(base)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.Policy.TinyInterval != 10*time.Minute || got.Policy.TinyDuration != 15*time.Second {
		t.Fatalf("tiny timing = %v/%v", got.Policy.TinyInterval, got.Policy.TinyDuration)
	}
	if got.Policy.TinyMode != model.TinyModeSimple {
		t.Fatalf("tiny mode = %q", got.Policy.TinyMode)
	}
	if got.Policy.BigDuration != 8*time.Minute {
		t.Fatalf("big duration = %v", got.Policy.BigDuration)
	}
	if got.Policy.IdleResetThreshold != 0 {
		t.Fatalf("idle reset = %v", got.Policy.IdleResetThreshold)
	}
	if got.GrayLevel != 43 || !got.Autostart {
		t.Fatalf("gray=%d autostart=%v", got.GrayLevel, got.Autostart)
	}
}

func TestFormApplyReportsEveryBadField(t *testing.T) {
	base := storage.DefaultSettings()
	values := formFrom(base)
	values.TinyInterval = "soon"
	values.BigPostpones = "-1"

	got, err := values.apply(base)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got != base {
		t.Fatalf("base settings not returned on error")
	}
	for _, want := range []string{"micro-pause interval", "break postponements"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestFormApplyRejectsInvalidPolicy(t *testing.T) {
	base := storage.DefaultSettings()
	values := formFrom(base)
	values.TinyEnabled = false
	values.BigEnabled = false

	if _, err := values.apply(base); !errors.Is(err, model.ErrInvalidPolicy) {
		t.Fatalf("err = %v, want ErrInvalidPolicy", err)
	}
}
