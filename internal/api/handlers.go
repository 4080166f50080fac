package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/LifeStation/internal/dialog"
	"github.com/BTreeMap/LifeStation/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// errDuplicateEvent is reported for an event id that was already accepted.
var errDuplicateEvent = errors.New("duplicate event")

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	slog.Debug("Server eventsHandler processing request", "path", r.URL.Path)

	var ev models.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err := dec.Decode(&ev); err != nil {
		slog.Warn("Server eventsHandler failed to decode JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	resp, status, err := s.process(r.Context(), ev)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

// process validates, deduplicates and dispatches one event. On failure it returns the
// HTTP status that describes the error.
func (s *Server) process(ctx context.Context, ev models.Event) (dialog.Response, int, error) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	if err := ev.Validate(); err != nil {
		slog.Warn("Server rejected invalid event", "error", err, "userID", ev.UserID)
		return dialog.Response{}, http.StatusBadRequest, err
	}

	recorded := false
	if ev.ID != "" && s.opts.Deduper != nil {
		fresh, err := s.opts.Deduper.RecordInbound(ctx, ev.ID, ev.UserID)
		if err != nil {
			slog.Error("Server RecordInbound failed", "error", err, "eventID", ev.ID)
			return dialog.Response{}, http.StatusServiceUnavailable, errors.New("failed to record event")
		}
		if !fresh {
			slog.Info("Server dropped duplicate event", "eventID", ev.ID, "userID", ev.UserID)
			return dialog.Response{}, http.StatusConflict, errDuplicateEvent
		}
		recorded = true
	}

	dctx, cancel := context.WithTimeout(ctx, s.opts.DispatchTimeout)
	defer cancel()
	resp, err := s.dispatcher.Dispatch(dctx, ev)
	switch {
	case err == nil:
		return resp, http.StatusOK, nil
	case errors.Is(err, dialog.ErrDispatcherClosed):
		// Never queued, so a redelivery after restart must not be treated as a duplicate.
		if recorded {
			s.forgetInbound(ctx, ev)
		}
		return dialog.Response{}, http.StatusServiceUnavailable, errors.New("shutting down")
	case errors.Is(err, context.DeadlineExceeded):
		// The event is still applied; only the reply is lost.
		slog.Warn("Server dispatch timed out", "userID", ev.UserID, "kind", ev.Kind)
		return dialog.Response{}, http.StatusGatewayTimeout, errors.New("timed out waiting for reply")
	default:
		slog.Error("Server dispatch failed", "error", err, "userID", ev.UserID)
		return dialog.Response{}, http.StatusInternalServerError, errors.New("dispatch failed")
	}
}

func (s *Server) forgetInbound(ctx context.Context, ev models.Event) {
	if err := s.opts.Deduper.ForgetInbound(context.WithoutCancel(ctx), ev.ID); err != nil {
		slog.Error("Server ForgetInbound failed", "error", err, "eventID", ev.ID, "userID", ev.UserID)
	}
}

func (s *Server) menuHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "root" {
		id = s.graph.Root().ID
	}
	node, ok := s.graph.Node(id)
	if !ok {
		writeError(w, http.StatusNotFound, "menu not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(node))
}

// wsHandler reads one Event per text frame and writes one APIResponse per event.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Server wsHandler upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	slog.Debug("Server wsHandler connected", "remote", r.RemoteAddr)

	conn.SetReadLimit(maxEventBytes)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Server wsHandler read ended", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var out models.APIResponse
		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			out = models.Error("Invalid JSON format")
		} else if resp, _, err := s.process(r.Context(), ev); err != nil {
			out = models.Error(err.Error())
		} else {
			out = models.Success(resp)
		}

		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(out); err != nil {
			slog.Warn("Server wsHandler write failed", "error", err)
			return
		}
	}
}

// internalErrorBody is written when an envelope cannot be encoded.
const internalErrorBody = `{"status":"error","message":"internal server error"}`

// writeJSONResponse encodes v before touching the header so an encoding
// failure still yields a well-formed 500.
func writeJSONResponse(w http.ResponseWriter, status int, v models.APIResponse) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("Server writeJSONResponse failed to marshal", "error", err, "status", status)
		body, status = []byte(internalErrorBody), http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Debug("Server writeJSONResponse write failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSONResponse(w, status, models.Error(message))
}
