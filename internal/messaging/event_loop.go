package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/LifeStation/internal/dialog"
	"github.com/BTreeMap/LifeStation/internal/models"
)

// sendTimeout bounds delivery of one reply.
const sendTimeout = 10 * time.Second

// Submitter is the part of dialog.Dispatcher the event loop uses.
type Submitter interface {
	Submit(ctx context.Context, ev models.Event, reply dialog.ReplyFunc) error
}

// EventLoop drains a Service's events through a Submitter and sends each reply back
// through the same Service.
type EventLoop struct {
	svc        Service
	dispatcher Submitter
}

// NewEventLoop creates an EventLoop.
func NewEventLoop(svc Service, dispatcher Submitter) *EventLoop {
	return &EventLoop{svc: svc, dispatcher: dispatcher}
}

// Run processes events until the event channel closes, ctx is cancelled, or the
// dispatcher stops accepting events.
func (l *EventLoop) Run(ctx context.Context) error {
	slog.Info("EventLoop starting event processing")
	defer slog.Info("EventLoop stopped event processing")

	for {
		select {
		case ev, ok := <-l.svc.Events():
			if !ok {
				slog.Debug("EventLoop events channel closed")
				return nil
			}
			if ev.ReceivedAt.IsZero() {
				ev.ReceivedAt = time.Now()
			}
			err := l.dispatcher.Submit(ctx, ev, l.reply)
			if errors.Is(err, dialog.ErrDispatcherClosed) {
				slog.Debug("EventLoop dispatcher closed")
				return nil
			}
			if err != nil {
				slog.Error("EventLoop failed to submit event", "error", err, "userID", ev.UserID)
			}

		case <-ctx.Done():
			slog.Debug("EventLoop stopping due to context cancellation")
			return nil
		}
	}
}

func (l *EventLoop) reply(ev models.Event, resp dialog.Response) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := l.svc.SendResponse(ctx, ev.UserID, resp); err != nil {
		slog.Error("EventLoop failed to send response", "error", err, "userID", ev.UserID)
	}
}
