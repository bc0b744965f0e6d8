package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"restbreak/internal/core/model"
	"restbreak/internal/core/scheduler"
)

const historyFileName = "history.db"

//go:embed migrations.sql
var migrations string

// ErrHistoryClosed is returned by a History after Close.
var ErrHistoryClosed = errors.New("history closed")

// KindStats counts what happened to breaks of one kind.
type KindStats struct {
	Completed  int
	Skipped    int
	Locked     int
	Postponed  int
	Superseded int
}

// Taken counts breaks that ended without being skipped.
func (stats KindStats) Taken() int {
	return stats.Completed + stats.Locked
}

// Stats summarizes the history since a point in time.
type Stats struct {
	Since       time.Time
	Tiny        KindStats
	Big         KindStats
	Suspensions int
	LastBreak   time.Time
}

// History stores break outcomes in a local SQLite database.
type History struct {
	log zerolog.Logger
	now func() time.Time

	// mu is held for reading by every query so Close waits for them.
	mu sync.RWMutex
	db *sql.DB
}

// HistoryPath returns the database location for appName.
func HistoryPath(appName string) (string, error) {
	settingsPath, err := SettingsPath(appName)
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(settingsPath), historyFileName), nil
}

// OpenHistory opens or creates the database at path and applies migrations.
func OpenHistory(ctx context.Context, path string, logger zerolog.Logger) (*History, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("open history: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 2000")
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &History{
		db:  db,
		log: logger.With().Str("component", "history").Logger(),
		now: time.Now,
	}, nil
}

// Close releases the database.
func (history *History) Close() error {
	if history == nil {
		return nil
	}
	history.mu.Lock()
	defer history.mu.Unlock()
	if history.db == nil {
		return nil
	}
	err := history.db.Close()
	history.db = nil
	return err
}

// Record stores one scheduler event. Events that carry no history are ignored.
func (history *History) Record(ctx context.Context, event scheduler.Event) error {
	if history == nil {
		return ErrHistoryClosed
	}
	history.mu.RLock()
	defer history.mu.RUnlock()
	if history.db == nil {
		return ErrHistoryClosed
	}
	switch event.Type {
	case scheduler.EventBreakDone, scheduler.EventPostponed, scheduler.EventSuperseded,
		scheduler.EventSuspended, scheduler.EventResumed:
	default:
		return nil
	}
	at := event.At
	if at.IsZero() {
		at = history.now()
	}
	_, err := history.db.ExecContext(ctx,
		`INSERT INTO break_events(at, type, kind, outcome, reason, postponements) VALUES(?,?,?,?,?,?)`,
		at.UnixMilli(), string(event.Type), nullStr(string(event.Kind)), nullStr(string(event.Outcome)),
		nullStr(event.Reason), event.Postponements,
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", event.Type, err)
	}
	return nil
}

// Consume records events until the channel closes or ctx is done.
func (history *History) Consume(ctx context.Context, events <-chan scheduler.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := history.Record(ctx, event); err != nil && ctx.Err() == nil {
				history.log.Warn().Err(err).Msg("record break event")
			}
		}
	}
}

// Stats aggregates everything recorded at or after since.
func (history *History) Stats(ctx context.Context, since time.Time) (Stats, error) {
	if history == nil {
		return Stats{}, ErrHistoryClosed
	}
	history.mu.RLock()
	defer history.mu.RUnlock()
	if history.db == nil {
		return Stats{}, ErrHistoryClosed
	}
	stats := Stats{Since: since}
	rows, err := history.db.QueryContext(ctx,
		`SELECT type, COALESCE(kind, ''), COALESCE(outcome, ''), COUNT(*), MAX(at)
		 FROM break_events WHERE at >= ? GROUP BY type, kind, outcome`,
		since.UnixMilli(),
	)
	if err != nil {
		return stats, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			eventType, kind, outcome string
			count                    int
			lastAt                   int64
		)
		if err := rows.Scan(&eventType, &kind, &outcome, &count, &lastAt); err != nil {
			return stats, fmt.Errorf("scan history: %w", err)
		}
		var target *KindStats
		switch model.BreakKind(kind) {
		case model.BreakTiny:
			target = &stats.Tiny
		case model.BreakBig:
			target = &stats.Big
		}
		switch scheduler.EventType(eventType) {
		case scheduler.EventSuspended:
			stats.Suspensions += count
		case scheduler.EventPostponed:
			if target != nil {
				target.Postponed += count
			}
		case scheduler.EventSuperseded:
			if target != nil {
				target.Superseded += count
			}
		case scheduler.EventBreakDone:
			if target == nil {
				continue
			}
			switch scheduler.Outcome(outcome) {
			case scheduler.OutcomeCompleted:
				target.Completed += count
			case scheduler.OutcomeSkipped:
				target.Skipped += count
			case scheduler.OutcomeLocked:
				target.Locked += count
			}
			if last := time.UnixMilli(lastAt); last.After(stats.LastBreak) {
				stats.LastBreak = last
			}
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("read history: %w", err)
	}
	return stats, nil
}

// Prune deletes events older than before and returns how many were removed.
func (history *History) Prune(ctx context.Context, before time.Time) (int64, error) {
	if history == nil {
		return 0, ErrHistoryClosed
	}
	history.mu.RLock()
	defer history.mu.RUnlock()
	if history.db == nil {
		return 0, ErrHistoryClosed
	}
	result, err := history.db.ExecContext(ctx, `DELETE FROM break_events WHERE at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	removed, _ := result.RowsAffected()
	return removed, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
