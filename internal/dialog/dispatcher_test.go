package dialog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LifeStation/internal/models"
)

// recordingHandler records handled texts per user and can block one user.
type recordingHandler struct {
	mu      sync.Mutex
	seen    map[string][]string
	block   map[string]chan struct{}
	started chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		seen:    make(map[string][]string),
		block:   make(map[string]chan struct{}),
		started: make(chan string, 64),
	}
}

func (h *recordingHandler) Handle(ctx context.Context, ev models.Event) Response {
	h.started <- ev.UserID
	h.mu.Lock()
	gate := h.block[ev.UserID]
	h.mu.Unlock()
	if gate != nil {
		<-gate
	}
	h.mu.Lock()
	h.seen[ev.UserID] = append(h.seen[ev.UserID], ev.Text)
	h.mu.Unlock()
	return Response{Text: "ok:" + ev.Text}
}

func (h *recordingHandler) texts(userID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen[userID]...)
}

// panickingHandler panics on the text "boom" and echoes everything else.
type panickingHandler struct{}

func (panickingHandler) Handle(_ context.Context, ev models.Event) Response {
	if ev.Text == "boom" {
		panic("handler exploded")
	}
	return Response{Text: "ok:" + ev.Text}
}

func (panickingHandler) Fallback() Response {
	return Response{Text: "fallback"}
}

func TestDispatcherRepliesWhenHandlerPanics(t *testing.T) {
	d := NewDispatcher(panickingHandler{}, nil)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := d.Dispatch(ctx, models.NewText("alice", "boom"))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if resp.Text != "fallback" {
		t.Errorf("expected fallback reply, got %q", resp.Text)
	}

	replies := make(chan Response, 1)
	if err := d.Submit(context.Background(), models.NewText("alice", "boom"), func(_ models.Event, resp Response) {
		replies <- resp
	}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	select {
	case resp := <-replies:
		if resp.Text != "fallback" {
			t.Errorf("expected fallback reply, got %q", resp.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply after handler panic")
	}

	// The lane keeps serving the user.
	resp, err = d.Dispatch(ctx, models.NewText("alice", "again"))
	if err != nil || resp.Text != "ok:again" {
		t.Errorf("expected lane to recover, got %q, %v", resp.Text, err)
	}
}

type handlerFunc func(context.Context, models.Event) Response

func (f handlerFunc) Handle(ctx context.Context, ev models.Event) Response { return f(ctx, ev) }

func TestDispatcherPanicWithoutFallback(t *testing.T) {
	d := NewDispatcher(handlerFunc(func(context.Context, models.Event) Response { panic("no fallback") }), nil)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := d.Dispatch(ctx, models.NewText("alice", "hi"))
	if err != nil {
		t.Fatalf("Dispatch should still reply, got %v", err)
	}
	if resp.Text != "" || resp.Menu != nil {
		t.Errorf("expected empty reply, got %+v", resp)
	}
}

func TestDispatcherPreservesPerUserOrder(t *testing.T) {
	h := newRecordingHandler()
	d := NewDispatcher(h, nil)

	var mu sync.Mutex
	var replies []string
	for _, text := range []string{"1", "2", "3", "4", "5"} {
		err := d.Submit(context.Background(), models.NewText("alice", text), func(_ models.Event, resp Response) {
			mu.Lock()
			replies = append(replies, resp.Text)
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	d.Close()

	got := h.texts("alice")
	want := []string{"1", "2", "3", "4", "5"}
	if len(got) != len(want) {
		t.Fatalf("handled %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("handled %v, want %v", got, want)
		}
		if replies[i] != "ok:"+want[i] {
			t.Fatalf("replies out of order: %v", replies)
		}
	}
}

func TestDispatcherRunsUsersInParallel(t *testing.T) {
	h := newRecordingHandler()
	gate := make(chan struct{})
	h.block["alice"] = gate
	d := NewDispatcher(h, nil)

	if err := d.Submit(context.Background(), models.NewText("alice", "slow"), nil); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-h.started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := d.Dispatch(ctx, models.NewText("bob", "fast"))
	if err != nil {
		t.Fatalf("bob was blocked behind alice: %v", err)
	}
	if resp.Text != "ok:fast" {
		t.Errorf("unexpected reply %q", resp.Text)
	}

	close(gate)
	d.Close()
	if got := h.texts("alice"); len(got) != 1 {
		t.Errorf("alice's event not handled: %v", got)
	}
}

func TestDispatchAppliesEventAfterCallerCancels(t *testing.T) {
	h := newRecordingHandler()
	gate := make(chan struct{})
	h.block["alice"] = gate
	d := NewDispatcher(h, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(ctx, models.NewText("alice", "keep me"))
		errc <- err
	}()
	<-h.started
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(gate)
	d.Close()
	if got := h.texts("alice"); len(got) != 1 || got[0] != "keep me" {
		t.Errorf("accepted event was dropped: %v", got)
	}
}

func TestDispatcherCloseRejectsNewEvents(t *testing.T) {
	d := NewDispatcher(newRecordingHandler(), nil)
	d.Close()

	if err := d.Submit(context.Background(), models.NewText("alice", "late"), nil); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("expected ErrDispatcherClosed, got %v", err)
	}
	if _, err := d.Dispatch(context.Background(), models.NewText("alice", "late")); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestDispatcherLanesDrain(t *testing.T) {
	h := newRecordingHandler()
	d := NewDispatcher(h, nil)
	for _, u := range []string{"alice", "bob", "carol"} {
		if _, err := d.Dispatch(context.Background(), models.NewText(u, "hi")); err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
	}
	d.Close()
	if n := d.ActiveLanes(); n != 0 {
		t.Errorf("expected no active lanes, got %d", n)
	}
}

func TestDispatcherWithRouterSerializesCapture(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(f.router, nil)
	ctx := context.Background()

	if err := d.Submit(ctx, models.NewCallback("alice", "target"), nil); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	resp, err := d.Dispatch(ctx, models.NewText("alice", "Finish report"))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	d.Close()

	if rec, _ := f.records.GetTarget(ctx, "alice"); rec == nil || rec.Text != "Finish report" {
		t.Fatalf("capture not applied in order, reply %q, record %+v", resp.Text, rec)
	}
}
