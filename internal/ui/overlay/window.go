package overlay

import (
	"fmt"
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"restbreak/internal/core/model"
)

const (
	countdownTick         = 250 * time.Millisecond
	overlayWidthFraction  = float32(0.30)
	overlayHeightFraction = float32(0.25)
	defaultScreenWidth    = float32(1920)
	defaultScreenHeight   = float32(1080)
)

// Config defines overlay visuals.
type Config struct {
	Alpha       uint8
	Fullscreen  bool
	EscapeSkips bool
}

// Actions are invoked when the user picks a control on the overlay.
type Actions struct {
	Skip     func()
	Postpone func()
	Lock     func()
}

// Window is the break overlay. It implements the scheduler's Overlay.
type Window struct {
	window  fyne.Window
	log     zerolog.Logger
	actions Actions
	escape  *rate.Limiter

	mu       sync.Mutex
	config   Config
	current  model.Activation
	active   bool
	deadline time.Time
	stopTick chan struct{}

	background    *canvas.Rectangle
	titleLabel    *canvas.Text
	subtitleLabel *canvas.Text
	timerLabel    *canvas.Text
	skipButton    *widget.Button
	postponeBtn   *widget.Button
	lockButton    *widget.Button
}

type splashWindowDriver interface {
	CreateSplashWindow() fyne.Window
}

// New creates the overlay window. It stays hidden until Activate.
func New(app fyne.App, config Config, actions Actions, logger zerolog.Logger) *Window {
	window := app.NewWindow("restbreak")
	if driver, ok := app.Driver().(splashWindowDriver); ok {
		// Splash window is undecorated (no native frame/buttons).
		window = driver.CreateSplashWindow()
	}
	if app.Icon() != nil {
		window.SetIcon(app.Icon())
	}
	window.SetPadded(false)

	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	background := canvas.NewRectangle(color.NRGBA{A: config.Alpha})

	titleLabel := canvas.NewText("", white)
	titleLabel.Alignment = fyne.TextAlignCenter
	titleLabel.TextStyle = fyne.TextStyle{Bold: true}
	titleLabel.TextSize = 28

	subtitleLabel := canvas.NewText("", white)
	subtitleLabel.Alignment = fyne.TextAlignCenter
	subtitleLabel.TextSize = 16

	timerLabel := canvas.NewText("--:--", color.NRGBA{R: 232, G: 190, B: 66, A: 255})
	timerLabel.Alignment = fyne.TextAlignCenter
	timerLabel.TextStyle = fyne.TextStyle{Bold: true, Monospace: true}
	timerLabel.TextSize = 40

	overlay := &Window{
		window:        window,
		log:           logger.With().Str("component", "overlay").Logger(),
		actions:       actions,
		escape:        rate.NewLimiter(rate.Every(time.Second), 1),
		config:        config,
		background:    background,
		titleLabel:    titleLabel,
		subtitleLabel: subtitleLabel,
		timerLabel:    timerLabel,
	}
	overlay.skipButton = widget.NewButton("Skip", func() { overlay.invoke("skip", overlay.actions.Skip) })
	overlay.postponeBtn = widget.NewButton("Postpone", func() { overlay.invoke("postpone", overlay.actions.Postpone) })
	overlay.lockButton = widget.NewButton("Lock screen", func() { overlay.invoke("lock", overlay.actions.Lock) })

	buttons := container.NewHBox(layout.NewSpacer(), overlay.postponeBtn, overlay.skipButton, overlay.lockButton, layout.NewSpacer())
	content := container.NewVBox(
		layout.NewSpacer(),
		titleLabel,
		subtitleLabel,
		timerLabel,
		buttons,
		layout.NewSpacer(),
	)
	window.SetContent(container.NewStack(background, content))
	window.Canvas().SetOnTypedKey(func(event *fyne.KeyEvent) {
		if event.Name == fyne.KeyEscape {
			overlay.escapePressed()
		}
	})
	window.SetCloseIntercept(func() {
		// Closing the overlay is not a way out of a break.
	})
	return overlay
}

// Activate shows the overlay for a break. Safe to call from any goroutine.
func (overlay *Window) Activate(activation model.Activation) {
	overlay.mu.Lock()
	overlay.stopCountdownLocked()
	overlay.current = activation
	overlay.active = true
	overlay.deadline = time.Now().Add(activation.Remaining)
	stop := make(chan struct{})
	overlay.stopTick = stop
	config := overlay.config
	overlay.mu.Unlock()

	overlay.log.Debug().Str("kind", string(activation.Kind)).Dur("remaining", activation.Remaining).Msg("activate")
	fyne.Do(func() {
		overlay.titleLabel.Text = headline(activation.Kind)
		overlay.subtitleLabel.Text = hint(activation.Kind)
		overlay.setRemainingUnsafe(activation.Remaining)
		overlay.setControlsUnsafe(activation)
		overlay.titleLabel.Refresh()
		overlay.subtitleLabel.Refresh()
		overlay.applyConfigUnsafe(config)
		overlay.window.Show()
		overlay.window.RequestFocus()
		overlay.applyNativeOpacity(config)
	})
	go overlay.countdown(stop)
}

// Deactivate hides the overlay. Safe to call from any goroutine.
func (overlay *Window) Deactivate() {
	overlay.mu.Lock()
	if !overlay.active {
		overlay.mu.Unlock()
		return
	}
	overlay.active = false
	overlay.stopCountdownLocked()
	fullscreen := overlay.config.Fullscreen
	overlay.mu.Unlock()

	overlay.log.Debug().Msg("deactivate")
	fyne.Do(func() {
		if fullscreen {
			overlay.window.SetFullScreen(false)
		}
		overlay.window.Hide()
	})
}

// Active reports whether a break is on screen.
func (overlay *Window) Active() bool {
	overlay.mu.Lock()
	defer overlay.mu.Unlock()
	return overlay.active
}

// UpdateConfig changes visuals; a visible overlay is updated in place.
func (overlay *Window) UpdateConfig(config Config) {
	overlay.mu.Lock()
	overlay.config = config
	active := overlay.active
	overlay.mu.Unlock()

	fyne.Do(func() {
		overlay.background.FillColor = color.NRGBA{A: config.Alpha}
		canvas.Refresh(overlay.background)
		if active {
			overlay.applyConfigUnsafe(config)
			overlay.applyNativeOpacity(config)
		}
	})
}

func (overlay *Window) countdown(stop <-chan struct{}) {
	ticker := time.NewTicker(countdownTick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			overlay.mu.Lock()
			remaining := time.Until(overlay.deadline)
			overlay.mu.Unlock()
			fyne.Do(func() {
				overlay.setRemainingUnsafe(remaining)
			})
			if remaining <= 0 {
				// The scheduler ends the break; the label just stops at zero.
				return
			}
		}
	}
}

func (overlay *Window) stopCountdownLocked() {
	if overlay.stopTick != nil {
		close(overlay.stopTick)
		overlay.stopTick = nil
	}
}

func (overlay *Window) escapePressed() {
	overlay.mu.Lock()
	allowed := overlay.active && overlay.config.EscapeSkips && overlay.current.CanSkip
	overlay.mu.Unlock()
	if !allowed || !overlay.escape.Allow() {
		return
	}
	overlay.invoke("skip", overlay.actions.Skip)
}

func (overlay *Window) invoke(name string, action func()) {
	overlay.log.Debug().Str("action", name).Msg("overlay action")
	if action != nil {
		go action()
	}
}

func (overlay *Window) setRemainingUnsafe(remaining time.Duration) {
	overlay.timerLabel.Text = formatDuration(remaining)
	overlay.timerLabel.Refresh()
}

func (overlay *Window) setControlsUnsafe(activation model.Activation) {
	setVisible(overlay.skipButton, activation.CanSkip)
	setVisible(overlay.postponeBtn, activation.CanPostpone)
	setVisible(overlay.lockButton, activation.CanLock)
}

func (overlay *Window) applyConfigUnsafe(config Config) {
	if config.Fullscreen {
		overlay.window.SetFullScreen(true)
		return
	}
	overlay.window.SetFullScreen(false)
	overlay.resizeToScreenFraction()
}

func (overlay *Window) resizeToScreenFraction() {
	screenSize := fyne.NewSize(defaultScreenWidth, defaultScreenHeight)
	canvasSize := overlay.window.Canvas().Size()
	// Canvas size can be reused as a proxy for monitor size when it is clearly screen-like.
	if canvasSize.Width >= 1024 && canvasSize.Height >= 720 {
		screenSize = canvasSize
	}

	minSize := overlay.window.Content().MinSize()
	width := max(screenSize.Width*overlayWidthFraction, minSize.Width)
	height := max(screenSize.Height*overlayHeightFraction, minSize.Height)
	overlay.window.Resize(fyne.NewSize(width, height))
	overlay.window.CenterOnScreen()
}

func setVisible(button *widget.Button, visible bool) {
	if visible {
		button.Show()
		button.Enable()
		return
	}
	button.Hide()
}

func formatDuration(value time.Duration) string {
	if value < 0 {
		value = 0
	}
	// Round up so a fresh 20s break reads 00:20, not 00:19.
	seconds := int((value + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func headline(kind model.BreakKind) string {
	switch kind {
	case model.BreakBig:
		return "Time for a break"
	default:
		return "Micro-pause"
	}
}

func hint(kind model.BreakKind) string {
	switch kind {
	case model.BreakBig:
		return "Stand up, stretch and walk around."
	default:
		return "Look away from the screen and relax your eyes."
	}
}
