// Package timer implements the focus timer and reaction-time test on top of the session store.
package timer

import (
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/LifeStation/internal/session"
)

// ErrTimerNotStarted is returned when stopping a timer that was never started.
// It is informational; callers turn it into a user-visible reply.
var ErrTimerNotStarted = errors.New("timer not started")

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Engine coordinates timer starts and stops. It keeps no state of its own.
type Engine struct {
	sessions *session.Store
	clock    Clock
}

// NewEngine creates an Engine over sessions. A nil clock means SystemClock.
func NewEngine(sessions *session.Store, clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{sessions: sessions, clock: clock}
}

// Now returns the engine clock's current instant.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Start starts (or restarts) the user's focus timer.
func (e *Engine) Start(userID string) time.Time {
	start := e.sessions.StartTimer(userID, e.clock.Now())
	slog.Info("Timer started", "userID", userID, "start", start)
	return start
}

// Stop stops the user's focus timer and returns the elapsed whole minutes.
func (e *Engine) Stop(userID string) (int, error) {
	start, ok := e.sessions.StopTimer(userID)
	if !ok {
		slog.Debug("Timer Stop without start", "userID", userID)
		return 0, ErrTimerNotStarted
	}
	minutes := ElapsedMinutes(start, e.clock.Now())
	slog.Info("Timer stopped", "userID", userID, "minutes", minutes)
	return minutes, nil
}

// StartReaction starts the user's reaction-time test.
func (e *Engine) StartReaction(userID string) {
	e.sessions.StartReaction(userID, e.clock.Now())
}

// StopReaction ends the reaction-time test and returns the elapsed milliseconds.
func (e *Engine) StopReaction(userID string) (int64, error) {
	start, ok := e.sessions.StopReaction(userID)
	if !ok {
		return 0, ErrTimerNotStarted
	}
	return ElapsedMillis(start, e.clock.Now()), nil
}

// ElapsedMinutes returns floor((now-start)/1m), clamped to zero.
func ElapsedMinutes(start, now time.Time) int {
	d := now.Sub(start)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

// ElapsedMillis returns the whole milliseconds between start and now, clamped to zero.
func ElapsedMillis(start, now time.Time) int64 {
	d := now.Sub(start)
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}
