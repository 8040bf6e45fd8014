package router

import (
	"log/slog"
	"time"

	tg "github.com/m3rciful/cbtbot/core/telegram"
	"github.com/m3rciful/cbtbot/core/telegram/callbacks"
	"github.com/m3rciful/cbtbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
}

// CallbackRoute returns a handler that routes button presses by their unique
// key. Unknown keys, such as buttons of a message sent before a restart, go
// to the registry fallback and then to opts.NotFound.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	resolve := func(key string) (tele.HandlerFunc, bool) {
		if h, ok := reg.GetCallback(key); ok && h != nil {
			return h, true
		}
		if fb := reg.CallbackNotFound(); fb != nil {
			return fb, false
		}
		return opts.NotFound, false
	}

	handler := func(c tele.Context) error {
		start := time.Now()
		if c.Callback() == nil {
			return nil
		}
		// Stop the client spinner first; handlers may take a while.
		_ = c.Respond()

		key, _ := callbacks.ParseCallbackData(c.Callback())
		extras := []slog.Attr{slog.String("cb_key", key)}
		h, found := resolve(key)
		if !found {
			extras = append(extras, slog.String("reason", "not_found"))
		}
		return handleWithSummary(c, "callback."+normalizeHandlerName(key), start, "", "", func() error {
			if h == nil {
				return nil
			}
			return h(c)
		}, extras...)
	}
	return tg.Route{
		Endpoint: tele.OnCallback,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}
}
