package middleware

import (
	"log/slog"
	"runtime/debug"

	"github.com/m3rciful/cbtbot/core/logger"
	tghelpers "github.com/m3rciful/cbtbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RecoverMiddleware turns a handler panic into a tg.panic log line tagged
// with the update rid. The update is treated as handled.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error(tghelpers.BuildContext(c), "tg", "tg.panic",
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
		}()
		return next(c)
	}
}
