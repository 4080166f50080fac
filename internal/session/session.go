// Package session implements the ephemeral per-user session store.
//
// Sessions live only for the process lifetime. Each user's entry has its own mutex;
// the store-wide lock is held only to look up, create, reference-count or evict entries,
// so operations on different users never contend on the same entry.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LifeStation/internal/models"
)

// Session is a point-in-time copy of one user's ephemeral state.
type Session struct {
	UserID        string              `json:"user_id"`
	Awaiting      models.AwaitingKind `json:"awaiting,omitempty"`
	TimerStart    time.Time           `json:"timer_start,omitempty"`    // zero when no timer runs
	ReactionStart time.Time           `json:"reaction_start,omitempty"` // zero when no reaction test runs
	MenuID        string              `json:"menu_id,omitempty"`        // last displayed menu node
	LastSeen      time.Time           `json:"last_seen,omitempty"`
}

// clean reports whether evicting the session loses nothing a fresh session would not have.
// A fresh session resolves buttons against home, so any other MenuID must be kept.
func (s *Session) clean(home string) bool {
	if s.MenuID != "" && s.MenuID != home {
		return false
	}
	return s.Awaiting == models.AwaitingNone && s.TimerStart.IsZero() && s.ReactionStart.IsZero()
}

type entry struct {
	mu   sync.Mutex
	refs int // guarded by Store.mu
	s    Session
	// lastTimerStart keeps timer starts non-decreasing after a stop clears TimerStart.
	lastTimerStart time.Time
}

// Store holds all live sessions keyed by user id.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	home    string // menu a fresh session starts on; guarded by mu
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// SetHomeMenu names the menu a fresh session starts on. Sessions parked on any
// other menu are never swept.
func (st *Store) SetHomeMenu(menuID string) {
	st.mu.Lock()
	st.home = menuID
	st.mu.Unlock()
}

func (st *Store) acquire(userID string) *entry {
	st.mu.Lock()
	e, ok := st.entries[userID]
	if !ok {
		e = &entry{s: Session{UserID: userID}}
		st.entries[userID] = e
	}
	e.refs++
	st.mu.Unlock()

	e.mu.Lock()
	return e
}

func (st *Store) release(e *entry) {
	e.mu.Unlock()
	st.mu.Lock()
	e.refs--
	st.mu.Unlock()
}

// Update runs fn with exclusive access to userID's session, creating it if needed.
func (st *Store) Update(userID string, fn func(s *Session)) {
	e := st.acquire(userID)
	defer st.release(e)
	fn(&e.s)
}

// SetAwaiting overwrites any pending capture intent with kind.
func (st *Store) SetAwaiting(userID string, kind models.AwaitingKind) {
	st.Update(userID, func(s *Session) {
		if s.Awaiting != kind {
			slog.Info("Session awaiting changed", "userID", userID, "from", s.Awaiting, "to", kind)
		}
		s.Awaiting = kind
	})
}

// ConsumeAwaiting returns the pending capture intent and clears it atomically.
// It returns AwaitingNone when nothing was pending.
func (st *Store) ConsumeAwaiting(userID string) models.AwaitingKind {
	var kind models.AwaitingKind
	st.Update(userID, func(s *Session) {
		kind = s.Awaiting
		s.Awaiting = models.AwaitingNone
	})
	if kind != models.AwaitingNone {
		slog.Debug("Session awaiting consumed", "userID", userID, "kind", kind)
	}
	return kind
}

// RestoreAwaiting puts kind back after a failed capture, unless a newer intent was set meanwhile.
// It reports whether the flag was restored.
func (st *Store) RestoreAwaiting(userID string, kind models.AwaitingKind) bool {
	restored := false
	st.Update(userID, func(s *Session) {
		if s.Awaiting == models.AwaitingNone {
			s.Awaiting = kind
			restored = true
		}
	})
	return restored
}

// Awaiting returns the pending capture intent without clearing it.
func (st *Store) Awaiting(userID string) models.AwaitingKind {
	return st.Snapshot(userID).Awaiting
}

// StartTimer records at as the timer start, replacing any unfinished timer.
// The stored start never moves backwards; the effective start is returned.
func (st *Store) StartTimer(userID string, at time.Time) time.Time {
	e := st.acquire(userID)
	defer st.release(e)

	if at.Before(e.lastTimerStart) {
		slog.Warn("Session StartTimer clock went backwards", "userID", userID, "at", at, "previous", e.lastTimerStart)
		at = e.lastTimerStart
	}
	e.lastTimerStart = at
	e.s.TimerStart = at
	return at
}

// StopTimer clears the running timer and returns its start. ok is false when no timer ran.
func (st *Store) StopTimer(userID string) (start time.Time, ok bool) {
	st.Update(userID, func(s *Session) {
		start, ok = s.TimerStart, !s.TimerStart.IsZero()
		s.TimerStart = time.Time{}
	})
	return start, ok
}

// StartReaction records at as the reaction test start, replacing any earlier one.
func (st *Store) StartReaction(userID string, at time.Time) {
	st.Update(userID, func(s *Session) {
		s.ReactionStart = at
	})
}

// StopReaction clears the reaction test and returns its start. ok is false when none ran.
func (st *Store) StopReaction(userID string) (start time.Time, ok bool) {
	st.Update(userID, func(s *Session) {
		start, ok = s.ReactionStart, !s.ReactionStart.IsZero()
		s.ReactionStart = time.Time{}
	})
	return start, ok
}

// SetMenu records the node last displayed to the user.
func (st *Store) SetMenu(userID, menuID string) {
	st.Update(userID, func(s *Session) {
		s.MenuID = menuID
	})
}

// Touch records activity at the given instant.
func (st *Store) Touch(userID string, at time.Time) {
	st.Update(userID, func(s *Session) {
		if at.After(s.LastSeen) {
			s.LastSeen = at
		}
	})
}

// Snapshot returns a copy of the user's session. Unknown users get a fresh session and
// no entry is created.
func (st *Store) Snapshot(userID string) Session {
	st.mu.Lock()
	e, ok := st.entries[userID]
	if !ok {
		st.mu.Unlock()
		return Session{UserID: userID}
	}
	e.refs++
	st.mu.Unlock()

	e.mu.Lock()
	s := e.s
	st.release(e)
	return s
}

// Sweep evicts sessions idle since before now-idle that hold no pending state, sit on the
// home menu and are not in use.
// It returns the number of evicted sessions.
func (st *Store) Sweep(now time.Time, idle time.Duration) int {
	cutoff := now.Add(-idle)

	st.mu.Lock()
	defer st.mu.Unlock()

	evicted := 0
	for id, e := range st.entries {
		if e.refs > 0 {
			continue
		}
		// refs == 0 under st.mu means no goroutine holds or waits for e.mu.
		if e.s.LastSeen.Before(cutoff) && e.s.clean(st.home) {
			delete(st.entries, id)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Debug("Session sweep evicted idle sessions", "evicted", evicted, "remaining", len(st.entries))
	}
	return evicted
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.entries)
}
