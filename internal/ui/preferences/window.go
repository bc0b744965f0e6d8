package preferences

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/widget"

	"restbreak/internal/storage"
)

// Window handles the preferences UI. Its methods must run on the fyne thread.
type Window struct {
	window   fyne.Window
	settings storage.Settings
	onSave   func(storage.Settings) error

	tinyEnabled     *widget.Check
	tinyInteractive *widget.Check
	tinyInterval    *widget.Entry
	tinyDuration    *widget.Entry
	tinyPostpones   *widget.Entry

	bigEnabled   *widget.Check
	bigInterval  *widget.Entry
	bigDuration  *widget.Entry
	bigPostpones *widget.Entry

	postponeAfter *widget.Entry
	idleReset     *widget.Entry
	suspendOnLock *widget.Check

	grayLevel   *widget.Slider
	fullscreen  *widget.Check
	escapeSkips *widget.Check
	autostart   *widget.Check
	history     *widget.Check
}

// New creates a preferences window. onSave persists accepted settings; an
// error keeps the window open.
func New(app fyne.App, settings storage.Settings, onSave func(storage.Settings) error) *Window {
	window := app.NewWindow("restbreak Settings")

	prefs := &Window{
		window:          window,
		settings:        settings,
		onSave:          onSave,
		tinyEnabled:     widget.NewCheck("Enable micro-pauses", nil),
		tinyInteractive: widget.NewCheck("Allow skip, postpone and lock", nil),
		tinyInterval:    widget.NewEntry(),
		tinyDuration:    widget.NewEntry(),
		tinyPostpones:   widget.NewEntry(),
		bigEnabled:      widget.NewCheck("Enable breaks", nil),
		bigInterval:     widget.NewEntry(),
		bigDuration:     widget.NewEntry(),
		bigPostpones:    widget.NewEntry(),
		postponeAfter:   widget.NewEntry(),
		idleReset:       widget.NewEntry(),
		suspendOnLock:   widget.NewCheck("Pause while the screen is locked", nil),
		grayLevel:       widget.NewSlider(0, 100),
		fullscreen:      widget.NewCheck("Fullscreen overlay", nil),
		escapeSkips:     widget.NewCheck("Escape skips a break", nil),
		autostart:       widget.NewCheck("Start on login", nil),
		history:         widget.NewCheck("Keep break history", nil),
	}
	prefs.grayLevel.Step = 1

	tiny := widget.NewForm(
		widget.NewFormItem("", prefs.tinyEnabled),
		widget.NewFormItem("Every (min)", prefs.tinyInterval),
		widget.NewFormItem("Lasts (sec)", prefs.tinyDuration),
		widget.NewFormItem("", prefs.tinyInteractive),
		widget.NewFormItem("Max postpones", prefs.tinyPostpones),
	)
	big := widget.NewForm(
		widget.NewFormItem("", prefs.bigEnabled),
		widget.NewFormItem("Every (min)", prefs.bigInterval),
		widget.NewFormItem("Lasts (min)", prefs.bigDuration),
		widget.NewFormItem("Max postpones", prefs.bigPostpones),
	)
	general := widget.NewForm(
		widget.NewFormItem("Postpone by (min)", prefs.postponeAfter),
		widget.NewFormItem("Away after (min)", prefs.idleReset),
		widget.NewFormItem("", prefs.suspendOnLock),
		widget.NewFormItem("Overlay gray", prefs.grayLevel),
		widget.NewFormItem("", prefs.fullscreen),
		widget.NewFormItem("", prefs.escapeSkips),
		widget.NewFormItem("", prefs.autostart),
		widget.NewFormItem("", prefs.history),
	)
	tabs := container.NewAppTabs(
		container.NewTabItem("Micro-pause", tiny),
		container.NewTabItem("Break", big),
		container.NewTabItem("General", general),
	)

	saveButton := widget.NewButton("Save", prefs.handleSave)
	cancelButton := widget.NewButton("Cancel", func() {
		prefs.load(prefs.settings)
		window.Hide()
	})
	buttons := container.NewHBox(layout.NewSpacer(), cancelButton, saveButton)

	window.SetContent(container.NewBorder(nil, buttons, nil, nil, tabs))
	window.Resize(fyne.NewSize(440, 420))
	window.SetCloseIntercept(window.Hide)
	prefs.load(settings)
	return prefs
}

// Show displays the preferences window.
func (prefs *Window) Show() {
	prefs.window.Show()
	prefs.window.RequestFocus()
}

// UpdateSettings replaces window values, e.g. after the file changed on disk.
func (prefs *Window) UpdateSettings(settings storage.Settings) {
	prefs.settings = settings
	prefs.load(settings)
}

func (prefs *Window) load(settings storage.Settings) {
	values := formFrom(settings)
	prefs.tinyEnabled.SetChecked(values.TinyEnabled)
	prefs.tinyInteractive.SetChecked(values.TinyInteractive)
	prefs.tinyInterval.SetText(values.TinyInterval)
	prefs.tinyDuration.SetText(values.TinyDuration)
	prefs.tinyPostpones.SetText(values.TinyPostpones)
	prefs.bigEnabled.SetChecked(values.BigEnabled)
	prefs.bigInterval.SetText(values.BigInterval)
	prefs.bigDuration.SetText(values.BigDuration)
	prefs.bigPostpones.SetText(values.BigPostpones)
	prefs.postponeAfter.SetText(values.PostponeAfter)
	prefs.idleReset.SetText(values.IdleReset)
	prefs.suspendOnLock.SetChecked(values.SuspendOnLock)
	prefs.grayLevel.SetValue(values.GrayLevel)
	prefs.fullscreen.SetChecked(values.Fullscreen)
	prefs.escapeSkips.SetChecked(values.EscapeSkips)
	prefs.autostart.SetChecked(values.Autostart)
	prefs.history.SetChecked(values.History)
}

func (prefs *Window) read() form {
	return form{
		TinyEnabled:     prefs.tinyEnabled.Checked,
		TinyInteractive: prefs.tinyInteractive.Checked,
		TinyInterval:    prefs.tinyInterval.Text,
		TinyDuration:    prefs.tinyDuration.Text,
		TinyPostpones:   prefs.tinyPostpones.Text,
		BigEnabled:      prefs.bigEnabled.Checked,
		BigInterval:     prefs.bigInterval.Text,
		BigDuration:     prefs.bigDuration.Text,
		BigPostpones:    prefs.bigPostpones.Text,
		PostponeAfter:   prefs.postponeAfter.Text,
		IdleReset:       prefs.idleReset.Text,
		SuspendOnLock:   prefs.suspendOnLock.Checked,
		GrayLevel:       prefs.grayLevel.Value,
		Fullscreen:      prefs.fullscreen.Checked,
		EscapeSkips:     prefs.escapeSkips.Checked,
		Autostart:       prefs.autostart.Checked,
		History:         prefs.history.Checked,
	}
}

func (prefs *Window) handleSave() {
	settings, err := prefs.read().apply(prefs.settings)
	if err != nil {
		dialog.ShowError(err, prefs.window)
		return
	}
	if prefs.onSave != nil {
		if err := prefs.onSave(settings); err != nil {
			dialog.ShowError(err, prefs.window)
			return
		}
	}
	prefs.settings = settings
	prefs.window.Hide()
}
