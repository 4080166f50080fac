// Package testutil provides shared fixtures and assertions for LifeStation tests.
package testutil

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LifeStation/internal/dialog"
	"github.com/BTreeMap/LifeStation/internal/menu"
	"github.com/BTreeMap/LifeStation/internal/session"
	"github.com/BTreeMap/LifeStation/internal/store"
	"github.com/BTreeMap/LifeStation/internal/timer"
)

// FakeClock is a settable timer.Clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock stopped at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock by d, which may be negative.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Fixture is a router over the built-in catalog backed by an in-memory record store.
type Fixture struct {
	Graph    *menu.Graph
	Sessions *session.Store
	Records  *store.InMemoryStore
	Clock    *FakeClock
	Router   *dialog.Router
}

// NewFixture builds a Fixture with the clock at 2025-03-01 09:00 UTC.
func NewFixture(t testing.TB, opts ...dialog.RouterOption) *Fixture {
	t.Helper()
	cfg, err := menu.DefaultConfig()
	if err != nil {
		t.Fatalf("failed to load default catalog: %v", err)
	}
	graph, err := menu.NewGraph(cfg)
	if err != nil {
		t.Fatalf("failed to build menu graph: %v", err)
	}
	selector, err := cfg.Selector()
	if err != nil {
		t.Fatalf("failed to build selector: %v", err)
	}
	sessions := session.NewStore()
	records := store.NewInMemoryStore()
	clock := NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	router := dialog.NewRouter(graph, selector, sessions, timer.NewEngine(sessions, clock), records, opts...)
	return &Fixture{Graph: graph, Sessions: sessions, Records: records, Clock: clock, Router: router}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rr.Body.String(), err)
	}
	status, ok := response["status"].(string)
	if !ok {
		t.Errorf("response missing or invalid 'status' field: %s", rr.Body.String())
	} else if status != expectedStatus {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
	}
	return response
}

// AssertTarget fails the test unless userID's stored target is want.
func AssertTarget(t testing.TB, records store.RecordStore, userID, want string) {
	t.Helper()
	rec, err := records.GetTarget(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetTarget(%s) failed: %v", userID, err)
	}
	if rec == nil {
		t.Fatalf("GetTarget(%s) returned no target, want %q", userID, want)
	}
	if rec.Text != want {
		t.Errorf("GetTarget(%s) = %q, want %q", userID, rec.Text, want)
	}
}

// AssertMoodCount fails the test unless userID has exactly n mood entries.
func AssertMoodCount(t testing.TB, records store.RecordStore, userID string, n int) {
	t.Helper()
	moods, err := records.ListMoods(context.Background(), userID, 0)
	if err != nil {
		t.Fatalf("ListMoods(%s) failed: %v", userID, err)
	}
	if len(moods) != n {
		t.Errorf("ListMoods(%s) returned %d entries, want %d", userID, len(moods), n)
	}
}
