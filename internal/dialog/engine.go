package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/m3rciful/cbtbot/core/logger"
	"github.com/m3rciful/cbtbot/internal/content"
	"github.com/m3rciful/cbtbot/internal/store"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("dialog: engine closed")

// Renderer delivers screens to a recipient.
type Renderer interface {
	Render(ctx context.Context, recipientID int64, screens []Screen) error
}

// Notifier forwards completed registrations to the operator.
type Notifier interface {
	NotifyAdmin(ctx context.Context, text string) error
}

// Registry records recipients for future broadcasts.
type Registry interface {
	Register(ctx context.Context, id int64) error
}

// Scheduler is the part of the scheduling service the dialogs drive.
type Scheduler interface {
	Webinar(ctx context.Context) (*store.WebinarSchedule, error)
	SetWebinar(ctx context.Context, at time.Time, url string) error
	RemoveWebinar(ctx context.Context) error
	SubscribeWebinar(ctx context.Context, recipientID int64) (time.Time, error)
	CommitBroadcast(ctx context.Context, fireAt time.Time, payload content.Payload) (int64, error)
}

// Options wires an Engine.
type Options struct {
	Renderer  Renderer
	Notifier  Notifier
	Registry  Registry
	Scheduler Scheduler
	Catalog   *Catalog
	AdminID   int64
	Location  *time.Location
	Now       func() time.Time
}

type queued struct {
	ctx context.Context
	ev  Event
}

type mailbox struct {
	queue []queued
}

// Engine owns every session. Events of one recipient are processed strictly
// in arrival order; different recipients proceed concurrently.
type Engine struct {
	render   Renderer
	notify   Notifier
	registry Registry
	sched    Scheduler
	cat      *Catalog
	adminID  int64
	loc      *time.Location
	now      func() time.Time

	sessions *Sessions
	table    table

	mu     sync.Mutex
	boxes  map[int64]*mailbox
	closed bool
	wg     sync.WaitGroup
}

// New builds an engine. Renderer, Registry and Scheduler are required.
func New(opts Options) (*Engine, error) {
	if opts.Renderer == nil || opts.Registry == nil || opts.Scheduler == nil {
		return nil, errors.New("dialog: renderer, registry and scheduler are required")
	}
	e := &Engine{
		render:   opts.Renderer,
		notify:   opts.Notifier,
		registry: opts.Registry,
		sched:    opts.Scheduler,
		cat:      opts.Catalog,
		adminID:  opts.AdminID,
		loc:      opts.Location,
		now:      opts.Now,
		sessions: NewSessions(),
		boxes:    make(map[int64]*mailbox),
	}
	if e.cat == nil {
		e.cat = DefaultCatalog()
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.table = e.buildTable()
	return e, nil
}

// Sessions exposes the session store.
func (e *Engine) Sessions() *Sessions { return e.sessions }

// Catalog returns the texts in use.
func (e *Engine) Catalog() *Catalog { return e.cat }

// State returns the current state of recipientID.
func (e *Engine) State(recipientID int64) State {
	return e.sessions.Get(recipientID).State
}

// Submit queues ev behind earlier events of the same recipient and returns
// immediately.
func (e *Engine) Submit(ctx context.Context, ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	box, running := e.boxes[ev.RecipientID]
	if !running {
		box = &mailbox{}
		e.boxes[ev.RecipientID] = box
	}
	box.queue = append(box.queue, queued{ctx: context.WithoutCancel(ctx), ev: ev})
	if !running {
		e.wg.Add(1)
		go e.drain(ev.RecipientID)
	}
	return nil
}

func (e *Engine) drain(id int64) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		box := e.boxes[id]
		if len(box.queue) == 0 {
			delete(e.boxes, id)
			e.mu.Unlock()
			return
		}
		next := box.queue[0]
		box.queue = box.queue[1:]
		e.mu.Unlock()

		_ = e.Handle(next.ctx, next.ev)
	}
}

// Close stops accepting events and waits for queued ones to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

// Wait blocks until every queued event has been processed.
func (e *Engine) Wait() { e.wg.Wait() }

// Handle processes ev synchronously. Callers must not run Handle concurrently
// for one recipient; Submit guarantees that.
func (e *Engine) Handle(ctx context.Context, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "dialog", "event.panic",
				slog.Int64("recipient_id", ev.RecipientID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("dialog: panic: %v", r)
		}
	}()

	cur := e.sessions.Get(ev.RecipientID)
	t := &turn{
		s:     cur,
		in:    e.normalize(cur.State, ev),
		admin: e.isAdmin(ev.RecipientID),
	}

	step, key := e.resolve(cur.State, ev, t.in)
	if step == nil {
		logger.Debug(ctx, "dialog", "input.ignored",
			slog.Int64("recipient_id", ev.RecipientID),
			slog.String("state", string(cur.State)),
			slog.String("input", string(ev.Kind)),
		)
		return nil
	}

	next, stepErr := step(ctx, t)
	if stepErr != nil {
		logger.Error(ctx, "dialog", "step.failed",
			slog.Int64("recipient_id", ev.RecipientID),
			slog.String("state", string(cur.State)),
			slog.String("input", key),
			slog.String("err", stepErr.Error()),
		)
		// The state does not advance and the context is left as it was.
		return e.render.Render(ctx, ev.RecipientID, []Screen{{Text: e.cat.Text("failure")}})
	}

	if next == StateEnd {
		e.sessions.Clear(ev.RecipientID)
	} else {
		t.s.State = next
		e.sessions.Put(t.s)
	}
	if next != cur.State {
		logger.Debug(ctx, "dialog", "state.changed",
			slog.Int64("recipient_id", ev.RecipientID),
			slog.String("state", string(cur.State)),
			slog.String("next_state", string(next)),
			slog.String("input", key),
		)
	}

	if len(t.out) == 0 {
		return nil
	}
	if err := e.render.Render(ctx, ev.RecipientID, t.out); err != nil {
		logger.Warn(ctx, "dialog", "render.failed",
			slog.Int64("recipient_id", ev.RecipientID),
			slog.String("err", err.Error()),
		)
		return err
	}
	return nil
}

func (e *Engine) isAdmin(id int64) bool {
	return e.adminID != 0 && id == e.adminID
}

// Input is an event reduced to what the transition table matches on.
type Input struct {
	// Key is the catalog key of a pressed button, if any.
	Key          string
	Text         string
	Data         string
	Media        bool
	MediaGroupID string
}

// replyKeyboardStates show a reply keyboard whose labels arrive as text.
// Elsewhere typed text is content, even when it matches a button label.
var replyKeyboardStates = map[State]bool{
	StateMainMenu: true,
}

func (e *Engine) normalize(st State, ev Event) Input {
	in := Input{Text: ev.Payload, Data: ev.Data, MediaGroupID: ev.MediaGroupID}
	switch ev.Kind {
	case EventCallback:
		in.Key = ev.Payload
	case EventText:
		if !replyKeyboardStates[st] {
			break
		}
		if key, ok := e.cat.KeyFor(ev.Payload); ok {
			in.Key = key
		}
	case EventMedia:
		in.Media = true
	}
	return in
}

// turn is the working copy of one session while a step runs.
type turn struct {
	s     Session
	in    Input
	admin bool
	out   []Screen
}

func (t *turn) say(screens ...Screen) {
	t.out = append(t.out, screens...)
}
