package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/LifeStation/internal/dialog"
	"github.com/BTreeMap/LifeStation/internal/menu"
	"github.com/BTreeMap/LifeStation/internal/models"
	"github.com/BTreeMap/LifeStation/internal/observability"
	"github.com/BTreeMap/LifeStation/internal/store"
	"github.com/BTreeMap/LifeStation/internal/testutil"
	"github.com/gorilla/websocket"
)

const testToken = "secret-token"

type testEnv struct {
	server     *Server
	handler    http.Handler
	records    *store.InMemoryStore
	graph      *menu.Graph
	dispatcher *dialog.Dispatcher
	metrics    *observability.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	metrics := observability.NewMetrics("test")
	fx := testutil.NewFixture(t, dialog.WithMetrics(metrics))
	dispatcher := dialog.NewDispatcher(fx.Router, metrics)
	t.Cleanup(dispatcher.Close)

	srv := NewServer(dispatcher, fx.Graph, WithToken(testToken), WithDeduper(fx.Records), WithMetrics(metrics))
	return &testEnv{server: srv, handler: srv.Router(), records: fx.Records, graph: fx.Graph, dispatcher: dispatcher, metrics: metrics}
}

func (e *testEnv) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

type eventReply struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  dialog.Response `json:"result"`
}

func decodeReply(t *testing.T, rr *httptest.ResponseRecorder) eventReply {
	t.Helper()
	var out eventReply
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/healthz", "", false)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /healthz")
	body := testutil.AssertJSONResponse(t, rr, string(models.APIStatusOK))
	if result, _ := body["result"].(map[string]interface{}); result["status"] != "healthy" {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
}

func TestEventsRequireToken(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/events", `{"kind":"command","user_id":"alice","command":"start"}`, false)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", rr.Code)
	}
}

func TestEventsCaptureFlow(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/events", `{"kind":"command","user_id":"alice","command":"start"}`, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	reply := decodeReply(t, rr)
	if reply.Status != string(models.APIStatusOK) || reply.Result.Menu == nil || reply.Result.Menu.ID != "menu_main" {
		t.Fatalf("unexpected /start reply %+v", reply)
	}

	env.do(t, http.MethodPost, "/v1/events", `{"kind":"callback","user_id":"alice","action_id":"target","menu_id":"menu_main"}`, true)
	rr = env.do(t, http.MethodPost, "/v1/events", `{"kind":"text","user_id":"alice","text":"Finish report"}`, true)
	reply = decodeReply(t, rr)
	if !strings.Contains(reply.Result.Text, "Finish report") {
		t.Errorf("unexpected confirmation %q", reply.Result.Text)
	}

	testutil.AssertTarget(t, env.records, "alice", "Finish report")
}

func TestEventsRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	if rr := env.do(t, http.MethodPost, "/v1/events", `{not json`, true); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad JSON, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/v1/events", `{"kind":"text","text":"hi"}`, true); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing user, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/v1/events", `{"kind":"shout","user_id":"alice"}`, true); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown kind, got %d", rr.Code)
	}
}

func TestEventsDeduplicatesByID(t *testing.T) {
	env := newTestEnv(t)
	body := `{"id":"evt-1","kind":"callback","user_id":"alice","action_id":"mood","menu_id":"menu_mood"}`

	if rr := env.do(t, http.MethodPost, "/v1/events", body, true); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr := env.do(t, http.MethodPost, "/v1/events", body, true)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rr.Code)
	}
}

func TestMenuHandler(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/v1/menus/menu_focus", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out struct {
		Result menu.Node `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if out.Result.ID != "menu_focus" || !out.Result.HasEdge("timer_start") {
		t.Errorf("unexpected node %+v", out.Result)
	}

	rr = env.do(t, http.MethodGet, "/v1/menus/root", "", true)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"menu_main"`) {
		t.Errorf("root alias failed: %d %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodGet, "/v1/menus/nope", "", true); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestEventsAfterDispatcherClosed(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.Close()
	rr := env.do(t, http.MethodPost, "/v1/events", `{"kind":"command","user_id":"alice","command":"help"}`, true)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestRejectedEventIDCanBeRedelivered(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.Close()
	body := `{"id":"evt-1","kind":"command","user_id":"alice","command":"help"}`
	if rr := env.do(t, http.MethodPost, "/v1/events", body, true); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	fresh, err := env.records.RecordInbound(context.Background(), "evt-1", "alice")
	if err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}
	if !fresh {
		t.Error("event rejected while shutting down should not count as delivered")
	}
}

func TestWriteJSONResponseEncodingFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, models.Success(map[string]interface{}{"bad": make(chan int)}))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var out models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("fallback body is not JSON: %v", err)
	}
	if out.Status != string(models.APIStatusError) || out.Message == "" {
		t.Errorf("unexpected fallback envelope %+v", out)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/events", `{"kind":"command","user_id":"alice","command":"help"}`, true)

	rr := env.do(t, http.MethodGet, "/metrics", "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`test_events_total{kind="command"} 1`,
		`test_http_requests_total{route="/v1/events",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	header := http.Header{"Authorization": []string{"Bearer " + testToken}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	send := func(ev models.Event) eventReply {
		t.Helper()
		if err := conn.WriteJSON(ev); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		var out eventReply
		if err := conn.ReadJSON(&out); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		return out
	}

	reply := send(models.NewCallback("bob", "menu_focus"))
	if reply.Result.Menu == nil || reply.Result.Menu.ID != "menu_focus" {
		t.Fatalf("unexpected navigation reply %+v", reply)
	}
	reply = send(models.NewCommand("bob", "stoptimer", ""))
	if reply.Result.Text != env.graph.Message(menu.MsgTimerNotStarted) {
		t.Errorf("unexpected stoptimer reply %q", reply.Result.Text)
	}
	reply = send(models.Event{Kind: models.EventText})
	if reply.Status != string(models.APIStatusError) {
		t.Errorf("expected error envelope for invalid event, got %+v", reply)
	}

	if err := conn.WriteMessage(websocket.TextMessage, bytes.Repeat([]byte("x"), 10)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var out eventReply
	if err := conn.ReadJSON(&out); err != nil || out.Message != "Invalid JSON format" {
		t.Errorf("expected invalid JSON error, got %+v, %v", out, err)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}
