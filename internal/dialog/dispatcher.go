package dialog

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/BTreeMap/LifeStation/internal/models"
	"github.com/BTreeMap/LifeStation/internal/observability"
)

// ErrDispatcherClosed is returned for events submitted after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// ReplyFunc receives the reply for a submitted event. It runs on the user's lane,
// so replies of one user are delivered in event order.
type ReplyFunc func(ev models.Event, resp Response)

// Fallbacker is implemented by handlers that have a generic reply for events they failed to handle.
type Fallbacker interface {
	Fallback() Response
}

type job struct {
	ctx   context.Context
	ev    models.Event
	reply ReplyFunc
}

// lane is the FIFO queue of one user. Its queue is guarded by Dispatcher.mu.
type lane struct {
	queue []job
}

// Dispatcher serializes events per user and runs different users in parallel.
// Each user with pending events has exactly one worker goroutine, which exits once
// the user's queue drains.
type Dispatcher struct {
	handler Handler
	metrics *observability.Metrics

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher in front of handler. metrics may be nil.
func NewDispatcher(handler Handler, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		metrics: metrics,
		lanes:   make(map[string]*lane),
	}
}

// Submit enqueues ev on its user's lane and returns immediately. reply, if not nil,
// is called with the result. The handler runs with a context that keeps ctx's values
// but not its cancellation: an accepted event is always applied.
func (d *Dispatcher) Submit(ctx context.Context, ev models.Event, reply ReplyFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	j := job{ctx: context.WithoutCancel(ctx), ev: ev, reply: reply}
	if l, ok := d.lanes[ev.UserID]; ok {
		l.queue = append(l.queue, j)
		return nil
	}

	l := &lane{queue: []job{j}}
	d.lanes[ev.UserID] = l
	d.wg.Add(1)
	d.metrics.AddActiveLanes(1)
	go d.run(ev.UserID, l)
	return nil
}

// Dispatch submits ev and waits for its reply. If ctx ends first, Dispatch returns
// ctx.Err() but the event is still applied.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event) (Response, error) {
	done := make(chan Response, 1)
	err := d.Submit(ctx, ev, func(_ models.Event, resp Response) {
		done <- resp
	})
	if err != nil {
		return Response{}, err
	}
	select {
	case resp := <-done:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (d *Dispatcher) run(userID string, l *lane) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(l.queue) == 0 {
			delete(d.lanes, userID)
			d.mu.Unlock()
			d.metrics.AddActiveLanes(-1)
			return
		}
		j := l.queue[0]
		l.queue[0] = job{}
		l.queue = l.queue[1:]
		d.mu.Unlock()

		d.handle(j)
	}
}

func (d *Dispatcher) handle(j job) {
	resp := d.invoke(j)
	if j.reply == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher reply panicked", "panic", r, "userID", j.ev.UserID, "kind", j.ev.Kind)
		}
	}()
	j.reply(j.ev, resp)
}

// invoke runs the handler. A panicking handler still yields a reply.
func (d *Dispatcher) invoke(j job) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher handler panicked", "panic", r, "userID", j.ev.UserID, "kind", j.ev.Kind)
			resp = Response{}
			if fb, ok := d.handler.(Fallbacker); ok {
				resp = fb.Fallback()
			}
		}
	}()
	return d.handler.Handle(j.ctx, j.ev)
}

// Close stops accepting events and waits until every queued event has been handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
	slog.Debug("Dispatcher closed")
}

// ActiveLanes returns the number of users with queued or in-flight events.
func (d *Dispatcher) ActiveLanes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lanes)
}
