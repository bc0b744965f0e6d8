package platform

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/coreos/go-systemd/v22/login1"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	logindDest    = "org.freedesktop.login1"
	logindPath    = dbus.ObjectPath("/org/freedesktop/login1")
	logindManager = "org.freedesktop.login1.Manager"
	logindSession = "org.freedesktop.login1.Session"
)

// SessionEvents receives session lock and system sleep changes. Nil
// callbacks are skipped.
type SessionEvents struct {
	Locked   func(locked bool)
	Sleeping func(sleeping bool)
}

// LogindSession watches the current logind session and locks it on request.
type LogindSession struct {
	log       zerolog.Logger
	sessionID string
	conn      *dbus.Conn
	login     *login1.Conn
	path      dbus.ObjectPath
	signals   chan *dbus.Signal
	closeCh   chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	events SessionEvents
	locked bool
}

// NewLogindSession connects to the system bus for the session named by
// XDG_SESSION_ID.
func NewLogindSession(logger zerolog.Logger) (*LogindSession, error) {
	sessionID := os.Getenv("XDG_SESSION_ID")
	if sessionID == "" {
		return nil, fmt.Errorf("%w: XDG_SESSION_ID is empty", ErrSessionUnsupported)
	}

	login, err := login1.New()
	if err != nil {
		return nil, fmt.Errorf("connect to logind: %w", err)
	}
	path, err := login.GetSession(sessionID)
	if err != nil {
		login.Close()
		return nil, fmt.Errorf("find logind session %q: %w", sessionID, err)
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		login.Close()
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	session := &LogindSession{
		log:       logger.With().Str("component", "session").Str("session", sessionID).Logger(),
		sessionID: sessionID,
		conn:      conn,
		login:     login,
		path:      path,
		signals:   make(chan *dbus.Signal, 16),
		closeCh:   make(chan struct{}),
	}
	if err := session.match(conn.AddMatchSignal); err != nil {
		session.Close()
		return nil, err
	}
	conn.Signal(session.signals)
	go session.run()
	return session, nil
}

func (session *LogindSession) matchOptions() [][]dbus.MatchOption {
	return [][]dbus.MatchOption{
		{
			dbus.WithMatchObjectPath(session.path),
			dbus.WithMatchInterface(logindSession),
			dbus.WithMatchSender(logindDest),
			dbus.WithMatchMember("Lock"),
		},
		{
			dbus.WithMatchObjectPath(session.path),
			dbus.WithMatchInterface(logindSession),
			dbus.WithMatchSender(logindDest),
			dbus.WithMatchMember("Unlock"),
		},
		{
			dbus.WithMatchObjectPath(session.path),
			dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
			dbus.WithMatchSender(logindDest),
			dbus.WithMatchMember("PropertiesChanged"),
		},
		{
			dbus.WithMatchObjectPath(logindPath),
			dbus.WithMatchInterface(logindManager),
			dbus.WithMatchSender(logindDest),
			dbus.WithMatchMember("PrepareForSleep"),
		},
	}
}

func (session *LogindSession) match(apply func(...dbus.MatchOption) error) error {
	var err error
	for _, options := range session.matchOptions() {
		if matchErr := apply(options...); matchErr != nil {
			err = errors.Join(err, fmt.Errorf("dbus match: %w", matchErr))
		}
	}
	return err
}

// SetHandler installs the session event callbacks.
func (session *LogindSession) SetHandler(events SessionEvents) {
	session.mu.Lock()
	session.events = events
	session.mu.Unlock()
}

// RequestLock asks logind to lock the current session.
func (session *LogindSession) RequestLock() error {
	if !session.login.Connected() {
		return fmt.Errorf("lock session %s: logind connection lost", session.sessionID)
	}
	session.login.LockSession(session.sessionID)
	return nil
}

// Close removes the signal matches and releases both bus connections.
func (session *LogindSession) Close() error {
	var err error
	session.closeOnce.Do(func() {
		close(session.closeCh)
		err = session.match(session.conn.RemoveMatchSignal)
		session.conn.RemoveSignal(session.signals)
		session.login.Close()
		if closeErr := session.conn.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close system bus: %w", closeErr))
		}
	})
	return err
}

func (session *LogindSession) run() {
	for {
		select {
		case <-session.closeCh:
			return
		case signal, ok := <-session.signals:
			if !ok {
				return
			}
			session.handle(signal)
		}
	}
}

func (session *LogindSession) handle(signal *dbus.Signal) {
	if signal == nil {
		return
	}
	switch signal.Name {
	case logindSession + ".Lock":
		if signal.Path == session.path {
			session.setLocked(true)
		}
	case logindSession + ".Unlock":
		if signal.Path == session.path {
			session.setLocked(false)
		}
	case "org.freedesktop.DBus.Properties.PropertiesChanged":
		if signal.Path != session.path || len(signal.Body) < 2 {
			return
		}
		changed, ok := signal.Body[1].(map[string]dbus.Variant)
		if !ok {
			return
		}
		hint, ok := changed["LockedHint"]
		if !ok {
			return
		}
		locked, ok := hint.Value().(bool)
		if !ok {
			session.log.Warn().Msg("LockedHint is not a boolean")
			return
		}
		session.setLocked(locked)
	case logindManager + ".PrepareForSleep":
		if len(signal.Body) < 1 {
			return
		}
		sleeping, ok := signal.Body[0].(bool)
		if !ok {
			session.log.Warn().Msg("PrepareForSleep body is not a boolean")
			return
		}
		session.log.Debug().Bool("sleeping", sleeping).Msg("prepare for sleep")
		session.mu.Lock()
		callback := session.events.Sleeping
		session.mu.Unlock()
		if callback != nil {
			callback(sleeping)
		}
	}
}

// setLocked reports lock changes once; logind sends both a Lock signal and
// a LockedHint change for the same transition.
func (session *LogindSession) setLocked(locked bool) {
	session.mu.Lock()
	if session.locked == locked {
		session.mu.Unlock()
		return
	}
	session.locked = locked
	callback := session.events.Locked
	session.mu.Unlock()

	session.log.Debug().Bool("locked", locked).Msg("session lock changed")
	if callback != nil {
		callback(locked)
	}
}
