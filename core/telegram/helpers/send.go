package helpers

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/cbtbot/core/logger"
	"github.com/m3rciful/cbtbot/core/telegram/netutil"
	"github.com/m3rciful/cbtbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var dispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher routes helper sends through d. A nil d makes helpers send
// inline, which is what happens before the bot starts and after it stops.
func SetDispatcher(d *sender.Dispatcher) {
	dispatcher.Store(d)
}

// enqueue hands run to the dispatcher. When the queue cannot take it the
// reply is sent inline so an admin command never goes silently unanswered.
func enqueue(c tele.Context, action string, run func() error) error {
	d := dispatcher.Load()
	if d == nil {
		return run()
	}
	ctx := BuildContext(c)
	err := d.Enqueue(ctx, action, "sendMessage", run)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sender.ErrQueueFull), errors.Is(err, sender.ErrQueueClosed):
		logger.Warn(ctx, "tg.sender", "queue.fallback",
			slog.String("action", action),
			slog.String("err", netutil.Redact(err)),
		)
		return run()
	default:
		return err
	}
}

// SendText replies with plain text.
func SendText(c tele.Context, text string, opts ...*tele.SendOptions) error {
	var extra []interface{}
	if len(opts) > 0 && opts[0] != nil {
		extra = append(extra, opts[0])
	}
	return enqueue(c, "send.text", func() error {
		return c.Send(text, extra...)
	})
}

// SendHTML replies with HTML formatted text and an optional keyboard.
func SendHTML(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}
	if len(markup) > 0 {
		opts.ReplyMarkup = markup[0]
	}
	return enqueue(c, "send.html", func() error {
		return c.Send(text, opts)
	})
}
