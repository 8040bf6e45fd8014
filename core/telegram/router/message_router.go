package router

import (
	"strings"
	"time"

	tg "github.com/m3rciful/cbtbot/core/telegram"
	"github.com/m3rciful/cbtbot/core/telegram/commands"
	"github.com/m3rciful/cbtbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// Conversation receives the messages of chats that have an open dialog.
type Conversation interface {
	InProgress(userID int64) bool
	HandleMessage(c tele.Context) error
}

// MessageOptions controls fallback behaviour for messages outside a dialog.
type MessageOptions struct {
	UnknownText     tele.HandlerFunc
	UnknownDocument tele.HandlerFunc
}

// MessageRoutes builds handlers for text, contact, photo and document
// messages. Messages of a chat with an open dialog go to conv; text outside
// a dialog is matched against registry aliases before the fallbacks.
func MessageRoutes(conv Conversation, reg *tg.Registry, opts MessageOptions) []tg.Route {
	inDialog := func(c tele.Context) bool {
		sender := c.Sender()
		return conv != nil && sender != nil && conv.InProgress(sender.ID)
	}

	textHandler := func(c tele.Context) error {
		start := time.Now()
		if inDialog(c) {
			return handleWithSummary(c, "dialog.text", start, "", "", func() error {
				return conv.HandleMessage(c)
			})
		}

		if reg != nil {
			if key, cmd, ok := lookupAlias(reg, c.Text()); ok {
				name := normalizeHandlerName(key)
				return handleWithSummary(c, name, start, "", "", func() error {
					return cmd.Handler(c)
				})
			}
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "fallback", start, "", "", func() error {
					return fb(c)
				})
			}
		}

		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, "", "", func() error {
				return opts.UnknownText(c)
			})
		}

		logHandlerSummary(c, "unknown_text", start, "skip", "ok", nil)
		return nil
	}

	dialogOnly := func(name string) tele.HandlerFunc {
		return func(c tele.Context) error {
			start := time.Now()
			if !inDialog(c) {
				logHandlerSummary(c, name, start, "skip", "ok", nil)
				return nil
			}
			return handleWithSummary(c, name, start, "", "", func() error {
				return conv.HandleMessage(c)
			})
		}
	}

	docHandler := func(c tele.Context) error {
		start := time.Now()
		if opts.UnknownDocument != nil {
			return handleWithSummary(c, "unexpected_document", start, "", "", func() error {
				return opts.UnknownDocument(c)
			})
		}
		logHandlerSummary(c, "unexpected_document", start, "skip", "ok", nil)
		return nil
	}

	wrap := func(h tele.HandlerFunc) tele.HandlerFunc {
		return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
	}

	return []tg.Route{
		{Endpoint: tele.OnText, Handler: wrap(textHandler)},
		{Endpoint: tele.OnContact, Handler: wrap(dialogOnly("dialog.contact"))},
		{Endpoint: tele.OnPhoto, Handler: wrap(dialogOnly("dialog.photo"))},
		{Endpoint: tele.OnDocument, Handler: wrap(docHandler)},
	}
}

// lookupAlias matches a bare word such as "stop" to a command. Admin-only
// commands are left to their slash routes, which check the sender.
func lookupAlias(reg *tg.Registry, text string) (string, commands.Command, bool) {
	text = strings.TrimSpace(text)
	if text == "" || strings.ContainsAny(text, " \t\n") {
		return "", commands.Command{}, false
	}
	key, cmd, ok := reg.LookupCommand(text)
	if !ok || cmd.AdminOnly || cmd.Handler == nil {
		return "", commands.Command{}, false
	}
	return key, cmd, true
}
