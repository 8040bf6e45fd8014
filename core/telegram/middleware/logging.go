package middleware

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/cbtbot/core/logger"
	"github.com/m3rciful/cbtbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/cbtbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// seenUpdates remembers update ids for a short window so an update routed
// through several middleware chains is logged once.
type seenUpdates struct {
	mu     sync.Mutex
	window time.Duration
	ids    map[int]time.Time
}

var receipts = &seenUpdates{window: 10 * time.Second, ids: make(map[int]time.Time)}

func (s *seenUpdates) first(id int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for old, at := range s.ids {
		if now.Sub(at) > s.window {
			delete(s.ids, old)
		}
	}
	if _, dup := s.ids[id]; dup {
		return false
	}
	s.ids[id] = now
	return true
}

// LoggerMiddleware attaches rid and update metadata to the update context and
// writes a sampled update.received line.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		ctx := tghelpers.BuildContext(c)

		if logger.ShouldSampleDebug() && receipts.first(upd.ID, time.Now()) {
			logger.LogEvent(ctx, logger.Component("tg"), slog.LevelDebug, "update.received", receiptAttrs(c)...)
		}
		return next(c)
	}
}

// receiptAttrs describes an update without echoing what clients type:
// dialog answers carry names and contact details, so only commands and
// callback payloads are logged verbatim.
func receiptAttrs(c tele.Context) []slog.Attr {
	upd := c.Update()
	attrs := []slog.Attr{slog.String("status", "ok")}
	if chat := c.Chat(); chat != nil {
		attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
	}
	if user := c.Sender(); user != nil && user.LanguageCode != "" {
		attrs = append(attrs, slog.String("lang", user.LanguageCode))
	}

	switch {
	case upd.Callback != nil:
		key, payload := callbacks.ParseCallbackData(upd.Callback)
		attrs = append(attrs, slog.String("kind", "callback"))
		if key != "" {
			attrs = append(attrs, slog.String("cb_key", logger.SanitizeLimit(key, 128)))
		}
		if payload != "" {
			attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(payload, 128)))
		}
	case upd.Message != nil:
		m := upd.Message
		attrs = append(attrs, slog.String("kind", messageKind(m)))
		if text := strings.TrimSpace(m.Text); strings.HasPrefix(text, "/") {
			attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(text, 64)))
		} else if text != "" {
			attrs = append(attrs, slog.Int("text_len", len([]rune(text))))
		}
		if m.AlbumID != "" {
			attrs = append(attrs, slog.String("album_id", m.AlbumID))
		}
	}
	return attrs
}

func messageKind(m *tele.Message) string {
	switch {
	case m.Contact != nil:
		return "contact"
	case m.Photo != nil:
		return "photo"
	case m.Document != nil:
		return "document"
	case m.Text != "":
		return "text"
	}
	return "other"
}
