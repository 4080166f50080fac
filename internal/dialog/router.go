// Package dialog routes inbound events through the menu graph, the session store and the
// record store, and produces the reply for each event.
package dialog

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/LifeStation/internal/content"
	"github.com/BTreeMap/LifeStation/internal/menu"
	"github.com/BTreeMap/LifeStation/internal/models"
	"github.com/BTreeMap/LifeStation/internal/observability"
	"github.com/BTreeMap/LifeStation/internal/session"
	"github.com/BTreeMap/LifeStation/internal/store"
	"github.com/BTreeMap/LifeStation/internal/timer"
	"github.com/BTreeMap/LifeStation/internal/util"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMoodHistoryLimit is the number of entries shown by /moods.
const DefaultMoodHistoryLimit = 7

// Outcome labels recorded for every handled event.
const (
	OutcomeNavigated        = "navigated"
	OutcomeAction           = "action"
	OutcomeCaptured         = "captured"
	OutcomeIdleText         = "idle_text"
	OutcomeCommand          = "command"
	OutcomeUnknownAction    = "unknown_action"
	OutcomeUnknownCommand   = "unknown_command"
	OutcomeInvalid          = "invalid"
	OutcomePersistenceError = "persistence_error"
	OutcomeRateLimited      = "rate_limited"
)

// Built-in command names.
const (
	CmdStart     = "start"
	CmdHelp      = "help"
	CmdAbout     = "about"
	CmdSetTarget = "settarget"
	CmdMyTarget  = "mytarget"
	CmdStopTimer = "stoptimer"
	CmdMoods     = "moods"
	CmdCancel    = "cancel"
)

// Response is the reply for one event. Menu is nil when no keyboard should be shown.
type Response struct {
	Text string     `json:"text"`
	Menu *menu.Node `json:"menu,omitempty"`
}

// Handler handles one event and always produces a reply.
type Handler interface {
	Handle(ctx context.Context, ev models.Event) Response
}

var (
	_ Handler    = (*Router)(nil)
	_ Fallbacker = (*Router)(nil)
)

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithMetrics records event counters and latency on m.
func WithMetrics(m *observability.Metrics) RouterOption {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithTracer sets the tracer used for per-event spans.
func WithTracer(t trace.Tracer) RouterOption {
	return func(r *Router) {
		r.tracer = t
	}
}

// WithMoodHistoryLimit sets how many mood entries /moods shows. n <= 0 keeps the default.
func WithMoodHistoryLimit(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.moodHistoryLimit = n
		}
	}
}

// WithRateLimit throttles each user to perSecond events with the given burst.
// perSecond <= 0 disables throttling.
func WithRateLimit(perSecond float64, burst int) RouterOption {
	return func(r *Router) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = NewRateLimiter(perSecond, burst)
	}
}

// Router is the dialog state machine. It is safe for concurrent use across users; events
// of one user must be serialized by the caller (see Dispatcher).
type Router struct {
	graph    *menu.Graph
	content  *content.Selector
	sessions *session.Store
	timers   *timer.Engine
	records  store.RecordStore

	metrics          *observability.Metrics
	tracer           trace.Tracer
	limiter          *RateLimiter
	moodHistoryLimit int
}

// NewRouter creates a Router over its collaborators.
func NewRouter(graph *menu.Graph, selector *content.Selector, sessions *session.Store, timers *timer.Engine, records store.RecordStore, opts ...RouterOption) *Router {
	r := &Router{
		graph:            graph,
		content:          selector,
		sessions:         sessions,
		timers:           timers,
		records:          records,
		tracer:           observability.Tracer(),
		moodHistoryLimit: DefaultMoodHistoryLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	sessions.SetHomeMenu(graph.Root().ID)
	return r
}

// Graph returns the menu graph the router navigates.
func (r *Router) Graph() *menu.Graph {
	return r.graph
}

// Handle processes one event and returns its reply.
func (r *Router) Handle(ctx context.Context, ev models.Event) Response {
	started := time.Now()
	ctx, span := r.tracer.Start(ctx, "dialog.Handle", trace.WithAttributes(
		attribute.String("event.kind", string(ev.Kind)),
		attribute.String("user.id", ev.UserID),
	))
	defer span.End()

	resp, outcome := r.route(ctx, ev)

	span.SetAttributes(attribute.String("event.outcome", outcome))
	if outcome == OutcomePersistenceError {
		span.SetStatus(codes.Error, outcome)
	}
	r.metrics.ObserveEvent(string(ev.Kind))
	r.metrics.ObserveOutcome(outcome)
	r.metrics.ObserveLatency(time.Since(started))

	if resp.Menu != nil && ev.UserID != "" && outcome != OutcomeRateLimited && outcome != OutcomeInvalid {
		r.sessions.SetMenu(ev.UserID, resp.Menu.ID)
	}
	slog.Debug("Router Handle", "userID", ev.UserID, "kind", ev.Kind, "outcome", outcome)
	return resp
}

func (r *Router) route(ctx context.Context, ev models.Event) (Response, string) {
	if err := ev.Validate(); err != nil {
		slog.Warn("Router rejected invalid event", "error", err, "userID", ev.UserID, "kind", ev.Kind)
		return r.Fallback(), OutcomeInvalid
	}
	if r.limiter != nil && !r.limiter.AllowAt(ev.UserID, r.timers.Now()) {
		slog.Warn("Router rate limited event", "userID", ev.UserID, "kind", ev.Kind)
		return Response{Text: r.graph.Message(menu.MsgRateLimited), Menu: r.lastMenu(ev.UserID)}, OutcomeRateLimited
	}
	r.sessions.Touch(ev.UserID, r.timers.Now())

	switch ev.Kind {
	case models.EventCommand:
		return r.handleCommand(ctx, ev)
	case models.EventCallback:
		return r.handleCallback(ctx, ev)
	default:
		return r.handleText(ctx, ev)
	}
}

// Fallback is the reply for anything the router cannot act on. It carries the root menu.
func (r *Router) Fallback() Response {
	return Response{Text: r.graph.Message(menu.MsgFallback), Menu: r.graph.Root()}
}

// currentNode returns the node the user is looking at.
func (r *Router) currentNode(ev models.Event) string {
	if ev.MenuID != "" {
		return ev.MenuID
	}
	if id := r.sessions.Snapshot(ev.UserID).MenuID; id != "" {
		return id
	}
	return r.graph.Root().ID
}

// lastMenu returns the last displayed node, or the root when it is unknown.
func (r *Router) lastMenu(userID string) *menu.Node {
	if n, ok := r.graph.Node(r.sessions.Snapshot(userID).MenuID); ok {
		return n
	}
	return r.graph.Root()
}

func (r *Router) handleCallback(ctx context.Context, ev models.Event) (Response, string) {
	target, err := r.graph.Resolve(r.currentNode(ev), ev.ActionID)
	if err != nil {
		if errors.Is(err, menu.ErrUnknownAction) {
			slog.Info("Router unknown action", "userID", ev.UserID, "actionID", ev.ActionID, "reason", err)
			return r.Fallback(), OutcomeUnknownAction
		}
		slog.Error("Router Resolve failed", "error", err, "userID", ev.UserID)
		return r.Fallback(), OutcomeUnknownAction
	}
	if target.IsNavigation() {
		return Response{Text: target.Node.Label, Menu: target.Node}, OutcomeNavigated
	}
	return r.runAction(ctx, ev.UserID, target.Action, target.Home)
}

func (r *Router) runAction(ctx context.Context, userID string, a *menu.Action, home *menu.Node) (Response, string) {
	next := r.graph.After(a, home)

	switch a.Type {
	case menu.ActionContent:
		item, err := r.content.Pick(a.Pool)
		if err != nil {
			slog.Error("Router content pick failed", "error", err, "action", a.ID, "pool", a.Pool)
			return r.Fallback(), OutcomeUnknownAction
		}
		return Response{Text: a.Title + item, Menu: next}, OutcomeAction

	case menu.ActionSample:
		items, err := r.content.PickMany(a.Pool, a.Count)
		if err != nil {
			slog.Error("Router content sample failed", "error", err, "action", a.ID, "pool", a.Pool)
			return r.Fallback(), OutcomeUnknownAction
		}
		return Response{Text: a.Title + strings.Join(items, a.Separator), Menu: next}, OutcomeAction

	case menu.ActionStatic:
		return Response{Text: a.Text, Menu: next}, OutcomeAction

	case menu.ActionRandomNumber:
		n := util.IntInRange(a.Min, a.Max)
		return Response{Text: menu.Format(a.Text, "number", strconv.Itoa(n)), Menu: next}, OutcomeAction

	case menu.ActionCapture:
		r.sessions.SetAwaiting(userID, a.Capture)
		// The prompt carries no keyboard; the follow-up confirmation shows next.
		r.sessions.SetMenu(userID, next.ID)
		return Response{Text: a.Text}, OutcomeAction

	case menu.ActionTimerStart:
		r.timers.Start(userID)
		return Response{Text: r.graph.Message(menu.MsgTimerStarted), Menu: next}, OutcomeAction

	case menu.ActionTimerStop:
		return r.stopTimer(userID, next), OutcomeAction

	case menu.ActionReactionStart:
		r.timers.StartReaction(userID)
		text := a.Text
		if text == "" {
			text = next.Label
		}
		return Response{Text: text, Menu: next}, OutcomeAction

	case menu.ActionReactionStop:
		ms, err := r.timers.StopReaction(userID)
		if err != nil {
			return Response{Text: r.graph.Message(menu.MsgReactionExpired), Menu: next}, OutcomeAction
		}
		return Response{Text: r.graph.Message(menu.MsgReactionResult, "ms", strconv.FormatInt(ms, 10)), Menu: next}, OutcomeAction

	case menu.ActionShowTarget:
		return r.showTarget(ctx, userID, next), OutcomeAction

	case menu.ActionMoodHistory:
		return r.moodHistory(ctx, userID, next), OutcomeAction
	}

	slog.Error("Router unhandled action type", "action", a.ID, "type", a.Type)
	return r.Fallback(), OutcomeUnknownAction
}

func (r *Router) stopTimer(userID string, next *menu.Node) Response {
	minutes, err := r.timers.Stop(userID)
	if errors.Is(err, timer.ErrTimerNotStarted) {
		return Response{Text: r.graph.Message(menu.MsgTimerNotStarted), Menu: next}
	}
	return Response{Text: r.graph.Message(menu.MsgTimerStopped, "minutes", strconv.Itoa(minutes)), Menu: next}
}

func (r *Router) showTarget(ctx context.Context, userID string, next *menu.Node) Response {
	rec, err := r.records.GetTarget(ctx, userID)
	if err != nil {
		r.metrics.ObservePersistenceError("GetTarget")
		slog.Error("Router GetTarget failed", "error", err, "userID", userID)
		return Response{Text: r.graph.Message(menu.MsgReadError), Menu: next}
	}
	if rec == nil {
		return Response{Text: r.graph.Message(menu.MsgTargetAbsent), Menu: next}
	}
	return Response{Text: r.graph.Message(menu.MsgTargetShow, "text", rec.Text), Menu: next}
}

func (r *Router) moodHistory(ctx context.Context, userID string, next *menu.Node) Response {
	entries, err := r.records.ListMoods(ctx, userID, r.moodHistoryLimit)
	if err != nil {
		r.metrics.ObservePersistenceError("ListMoods")
		slog.Error("Router ListMoods failed", "error", err, "userID", userID)
		return Response{Text: r.graph.Message(menu.MsgReadError), Menu: next}
	}
	if len(entries) == 0 {
		return Response{Text: r.graph.Message(menu.MsgMoodHistoryEmpty), Menu: next}
	}
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, r.graph.Message(menu.MsgMoodHistoryHeader))
	for _, e := range entries {
		lines = append(lines, r.graph.Message(menu.MsgMoodHistoryLine, "date", e.Date, "text", e.MoodText))
	}
	return Response{Text: strings.Join(lines, "\n"), Menu: next}
}

func (r *Router) handleCommand(ctx context.Context, ev models.Event) (Response, string) {
	name := strings.ToLower(ev.Command)
	args := strings.TrimSpace(ev.Args)

	switch name {
	case CmdSetTarget:
		if args == "" {
			r.sessions.SetAwaiting(ev.UserID, models.AwaitingTarget)
			return Response{Text: r.graph.Message(menu.MsgTargetPrompt)}, OutcomeCommand
		}
		return r.saveTarget(ctx, ev.UserID, args, r.lastMenu(ev.UserID))

	case CmdMyTarget:
		return r.showTarget(ctx, ev.UserID, r.lastMenu(ev.UserID)), OutcomeCommand

	case CmdStopTimer:
		return r.stopTimer(ev.UserID, r.lastMenu(ev.UserID)), OutcomeCommand

	case CmdMoods:
		return r.moodHistory(ctx, ev.UserID, r.lastMenu(ev.UserID)), OutcomeCommand

	case CmdCancel:
		if r.sessions.ConsumeAwaiting(ev.UserID) == models.AwaitingNone {
			return Response{Text: r.graph.Message(menu.MsgNothingToCancel), Menu: r.lastMenu(ev.UserID)}, OutcomeCommand
		}
		return Response{Text: r.graph.Message(menu.MsgCancelled), Menu: r.lastMenu(ev.UserID)}, OutcomeCommand
	}

	// start, help, about and any extra catalog commands
	if cmd, ok := r.graph.Command(name); ok {
		resp := Response{Text: cmd.Text}
		if cmd.Menu != "" {
			resp.Menu, _ = r.graph.Node(cmd.Menu)
		}
		return resp, OutcomeCommand
	}

	slog.Info("Router unknown command", "userID", ev.UserID, "command", ev.Command)
	return Response{Text: r.graph.Message(menu.MsgUnknownCommand), Menu: r.graph.Root()}, OutcomeUnknownCommand
}

func (r *Router) handleText(ctx context.Context, ev models.Event) (Response, string) {
	text := strings.TrimSpace(ev.Text)
	next := r.lastMenu(ev.UserID)

	kind := r.sessions.ConsumeAwaiting(ev.UserID)
	switch kind {
	case models.AwaitingTarget:
		resp, outcome := r.saveTarget(ctx, ev.UserID, text, next)
		if outcome == OutcomePersistenceError {
			r.sessions.RestoreAwaiting(ev.UserID, kind)
		}
		return resp, outcome

	case models.AwaitingMood:
		date := models.MoodDate(r.timers.Now())
		if err := r.records.AppendMood(ctx, ev.UserID, text, date); err != nil {
			return r.persistenceFailure(ctx, ev.UserID, "AppendMood", kind, next, err), OutcomePersistenceError
		}
		return Response{Text: r.graph.Message(menu.MsgMoodSaved, "date", date, "text", text), Menu: next}, OutcomeCaptured

	case models.AwaitingFocus:
		return Response{Text: r.graph.Message(menu.MsgFocusAck, "text", text), Menu: next}, OutcomeCaptured
	}

	return Response{Text: r.graph.Message(menu.MsgIdleText), Menu: next}, OutcomeIdleText
}

func (r *Router) saveTarget(ctx context.Context, userID, text string, next *menu.Node) (Response, string) {
	if err := r.records.SaveTarget(ctx, userID, text); err != nil {
		return r.persistenceFailure(ctx, userID, "SaveTarget", models.AwaitingNone, next, err), OutcomePersistenceError
	}
	return Response{Text: r.graph.Message(menu.MsgTargetSaved, "text", text), Menu: next}, OutcomeCaptured
}

// persistenceFailure reports a failed durable write. A consumed capture intent is put back
// so the user's next text retries it, and the reply keeps showing next.
func (r *Router) persistenceFailure(ctx context.Context, userID, op string, kind models.AwaitingKind, next *menu.Node, err error) Response {
	r.metrics.ObservePersistenceError(op)
	trace.SpanFromContext(ctx).RecordError(err)
	slog.Error("Router "+op+" failed", "error", err, "userID", userID)
	if kind != models.AwaitingNone {
		r.sessions.RestoreAwaiting(userID, kind)
	}
	if next == nil {
		next = r.lastMenu(userID)
	}
	return Response{Text: r.graph.Message(menu.MsgPersistenceError), Menu: next}
}

// Sweep evicts idle sessions and rate limiter state and updates the active sessions gauge.
func (r *Router) Sweep(idle time.Duration) int {
	now := r.timers.Now()
	evicted := r.sessions.Sweep(now, idle)
	if r.limiter != nil {
		r.limiter.Sweep(now, idle)
	}
	r.metrics.SetActiveSessions(r.sessions.Len())
	return evicted
}
