package middleware

import tele "gopkg.in/telebot.v4"

const repliesKey = "replies"

// Replies counts what a handler sent back while serving one update.
type Replies struct {
	Sent     int
	Edited   int
	Keyboard bool
}

func (r *Replies) add(edit bool, opts []interface{}) {
	if edit {
		r.Edited++
	} else {
		r.Sent++
	}
	if !r.Keyboard {
		r.Keyboard = hasKeyboard(opts)
	}
}

func hasKeyboard(opts []interface{}) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		case *tele.ReplyMarkup:
			if v != nil {
				return true
			}
		}
	}
	return false
}

// countingContext records successful replies into stats.
type countingContext struct {
	tele.Context
	stats *Replies
}

func (m countingContext) track(edit bool, opts []interface{}, err error) error {
	if err == nil {
		m.stats.add(edit, opts)
	}
	return err
}

func (m countingContext) Send(what interface{}, opts ...interface{}) error {
	return m.track(false, opts, m.Context.Send(what, opts...))
}

func (m countingContext) Reply(what interface{}, opts ...interface{}) error {
	return m.track(false, opts, m.Context.Reply(what, opts...))
}

func (m countingContext) Edit(what interface{}, opts ...interface{}) error {
	return m.track(true, opts, m.Context.Edit(what, opts...))
}

// EditOrSend counts as an edit only for callbacks, where telebot edits the
// message the button belongs to.
func (m countingContext) EditOrSend(what interface{}, opts ...interface{}) error {
	return m.track(m.Callback() != nil, opts, m.Context.EditOrSend(what, opts...))
}

func (m countingContext) EditOrReply(what interface{}, opts ...interface{}) error {
	return m.track(m.Callback() != nil, opts, m.Context.EditOrReply(what, opts...))
}

// SendAlbum counts an album as one message.
func (m countingContext) SendAlbum(a tele.Album, opts ...interface{}) error {
	return m.track(false, nil, m.Context.SendAlbum(a, opts...))
}

// MessageMetricsMiddleware counts the replies of each update so the handler
// summary can report them.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		stats := &Replies{}
		c.Set(repliesKey, stats)
		return next(countingContext{Context: c, stats: stats})
	}
}

// RepliesFrom returns the counters stored by MessageMetricsMiddleware, or
// zero values when the middleware did not run.
func RepliesFrom(c tele.Context) Replies {
	if c == nil {
		return Replies{}
	}
	if stats, ok := c.Get(repliesKey).(*Replies); ok && stats != nil {
		return *stats
	}
	return Replies{}
}
