package router

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/m3rciful/cbtbot/core/logger"
	tghelpers "github.com/m3rciful/cbtbot/core/telegram/helpers"
	"github.com/m3rciful/cbtbot/core/telegram/middleware"
	"github.com/m3rciful/cbtbot/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

func handleWithSummary(c tele.Context, handlerName string, start time.Time, statusOverride, outcomeOverride string, fn func() error, extras ...slog.Attr) error {
	tghelpers.WithHandler(c, handlerName)
	err := fn()
	logHandlerSummary(c, handlerName, start, statusOverride, outcomeOverride, err, extras...)
	return err
}

// logHandlerSummary writes one handler.handled line per update. Failures are
// logged at WARN so they also reach the errors file.
func logHandlerSummary(c tele.Context, handlerName string, start time.Time, statusOverride, outcomeOverride string, err error, extras ...slog.Attr) {
	ctx := tghelpers.WithHandler(c, handlerName)
	replies := middleware.RepliesFrom(c)

	result := "ok"
	level := slog.LevelInfo
	if err != nil {
		result = "fail"
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("status", cmpOr(statusOverride, result)),
		slog.String("handler", handlerName),
		slog.String("outcome", cmpOr(outcomeOverride, result)),
		slog.Int("messages", replies.Sent),
		slog.Bool("kb", replies.Keyboard),
		slog.Duration("duration", time.Since(start)),
	}
	if replies.Edited > 0 {
		attrs = append(attrs, slog.Int("edits", replies.Edited))
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(netutil.Redact(err), 256)),
			slog.String("err_code", deriveErrorCode(err)),
			slog.String("cause", handlerName),
		)
	}
	attrs = append(attrs, extras...)
	logger.LogEvent(ctx, logger.Component("tg"), level, "handler.handled", attrs...)
}

func cmpOr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func normalizeHandlerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unknown"
	}
	name = strings.TrimPrefix(name, "/")
	name = strings.ReplaceAll(name, " ", "_")
	return strings.ToLower(name)
}

// deriveErrorCode prefers an explicit Code(), then the Telegram error class,
// then the Go type name of err.
func deriveErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		if code := strings.TrimSpace(coded.Code()); code != "" {
			return upperSnake(code)
		}
	}
	if kind := netutil.Kind(err); kind != "unknown" {
		return "TG_" + upperSnake(kind)
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && t.Name() != "" {
		return upperSnake(t.Name())
	}
	return "UNKNOWN_ERROR"
}

func upperSnake(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, " ", "_"))
}
