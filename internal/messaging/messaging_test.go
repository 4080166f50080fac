package messaging

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LifeStation/internal/dialog"
	"github.com/BTreeMap/LifeStation/internal/menu"
	"github.com/BTreeMap/LifeStation/internal/models"
	"github.com/BTreeMap/LifeStation/internal/store"
	"github.com/BTreeMap/LifeStation/internal/testutil"
)

// scriptedReader returns fixed lines, waiting for a reply before each next prompt.
type scriptedReader struct {
	lines   []string
	next    chan struct{}
	history []string
	closed  bool
}

func newScriptedReader(lines ...string) *scriptedReader {
	r := &scriptedReader{lines: lines, next: make(chan struct{}, len(lines)+1)}
	r.next <- struct{}{}
	return r
}

func (r *scriptedReader) Prompt(string) (string, error) {
	<-r.next
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) AppendHistory(item string) { r.history = append(r.history, item) }

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

// syncBuffer lets the reply goroutine write while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testMenu() *menu.Node {
	return &menu.Node{
		ID:    "menu_focus",
		Label: "Focus",
		Rows: [][]menu.Button{
			{{Label: "Start", Action: "timer_start"}, {Label: "Stop", Action: "timer_stop"}},
			{{Label: "Back", Action: "menu_main"}},
		},
	}
}

func TestParseLine(t *testing.T) {
	current := testMenu()
	tests := []struct {
		line    string
		current *menu.Node
		want    models.Event
	}{
		{"/start", nil, models.Event{Kind: models.EventCommand, UserID: "u", Command: "start"}},
		{"/settarget  Run 5k ", nil, models.Event{Kind: models.EventCommand, UserID: "u", Command: "settarget", Args: "Run 5k"}},
		{"#timer_start", current, models.Event{Kind: models.EventCallback, UserID: "u", ActionID: "timer_start", MenuID: "menu_focus"}},
		{"#menu_day:day_tip", current, models.Event{Kind: models.EventCallback, UserID: "u", ActionID: "day_tip", MenuID: "menu_day"}},
		{"#menu_day", nil, models.Event{Kind: models.EventCallback, UserID: "u", ActionID: "menu_day"}},
		{"2", current, models.Event{Kind: models.EventCallback, UserID: "u", ActionID: "timer_stop", MenuID: "menu_focus"}},
		{"3", current, models.Event{Kind: models.EventCallback, UserID: "u", ActionID: "menu_main", MenuID: "menu_focus"}},
		{"4", current, models.Event{Kind: models.EventText, UserID: "u", Text: "4"}},
		{"2", nil, models.Event{Kind: models.EventText, UserID: "u", Text: "2"}},
		{"Finish report", current, models.Event{Kind: models.EventText, UserID: "u", Text: "Finish report"}},
		{"/", nil, models.Event{Kind: models.EventText, UserID: "u", Text: "/"}},
	}
	for _, tt := range tests {
		got := ParseLine("u", tt.line, tt.current)
		if got != tt.want {
			t.Errorf("ParseLine(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestRender(t *testing.T) {
	out := Render(dialog.Response{Text: "Pick one", Menu: testMenu()})
	want := "Pick one\n[1] Start  [2] Stop\n[3] Back\n"
	if out != want {
		t.Errorf("Render = %q, want %q", out, want)
	}
	if out := Render(dialog.Response{Text: "Type it"}); out != "Type it\n" {
		t.Errorf("Render without menu = %q", out)
	}
}

func TestConsoleServiceRejectsOtherUsers(t *testing.T) {
	c := NewConsoleService(WithOutput(io.Discard))
	if err := c.SendResponse(context.Background(), "someone-else", dialog.Response{Text: "x"}); err == nil {
		t.Error("expected error for unknown user")
	}
}

func newTestRouter(t *testing.T) (*dialog.Router, *store.InMemoryStore) {
	t.Helper()
	fx := testutil.NewFixture(t)
	return fx.Router, fx.Records
}

// pacedOutput releases the next scripted line after each rendered reply.
type pacedOutput struct {
	syncBuffer
	reader *scriptedReader
}

func (p *pacedOutput) Write(b []byte) (int, error) {
	n, err := p.syncBuffer.Write(b)
	p.reader.next <- struct{}{}
	return n, err
}

func TestEventLoopConsoleSession(t *testing.T) {
	router, records := newTestRouter(t)
	dispatcher := dialog.NewDispatcher(router, nil)

	reader := newScriptedReader("/start", "#target", "Finish report", "/mytarget")
	out := &pacedOutput{reader: reader}
	console := NewConsoleService(WithConsoleUser("alice"), WithLineReader(reader), WithOutput(out))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := console.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := NewEventLoop(console, dispatcher).Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	dispatcher.Close()
	if err := console.Stop(); err != nil || !reader.closed {
		t.Fatalf("Stop failed: %v", err)
	}

	testutil.AssertTarget(t, records, "alice", "Finish report")
	transcript := out.String()
	if !strings.Contains(transcript, "[1]") {
		t.Errorf("expected numbered buttons in transcript:\n%s", transcript)
	}
	if strings.Count(transcript, "Finish report") < 2 {
		t.Errorf("expected confirmation and /mytarget to echo the target:\n%s", transcript)
	}
	if len(reader.history) != 4 {
		t.Errorf("expected 4 history entries, got %v", reader.history)
	}
}

type closedSubmitter struct{}

func (closedSubmitter) Submit(context.Context, models.Event, dialog.ReplyFunc) error {
	return dialog.ErrDispatcherClosed
}

type chanService struct {
	events chan models.Event
}

func (s *chanService) SendResponse(context.Context, string, dialog.Response) error { return nil }
func (s *chanService) Start(context.Context) error                                 { return nil }
func (s *chanService) Stop() error                                                 { return nil }
func (s *chanService) Events() <-chan models.Event                                 { return s.events }

func TestEventLoopStopsWhenDispatcherClosed(t *testing.T) {
	svc := &chanService{events: make(chan models.Event, 1)}
	svc.events <- models.NewText("alice", "hi")

	done := make(chan error, 1)
	go func() { done <- NewEventLoop(svc, closedSubmitter{}).Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not stop")
	}
}

func TestEventLoopStopsOnCancel(t *testing.T) {
	svc := &chanService{events: make(chan models.Event)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewEventLoop(svc, closedSubmitter{}).Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
