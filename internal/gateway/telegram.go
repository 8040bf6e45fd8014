// Package gateway adapts the dialog engine and the scheduler to Telegram.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/m3rciful/cbtbot/core/logger"
	"github.com/m3rciful/cbtbot/core/telegram/keyboard"
	"github.com/m3rciful/cbtbot/internal/dialog"

	tele "gopkg.in/telebot.v4"
)

// albumLimit is the most items Telegram accepts in one media group.
const albumLimit = 10

// ErrDetached is returned by sends before Attach.
var ErrDetached = errors.New("gateway: bot not attached")

// API is the part of *tele.Bot the gateway sends through.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	SendAlbum(to tele.Recipient, a tele.Album, opts ...interface{}) ([]tele.Message, error)
}

// Telegram renders dialog screens, delivers scheduled content and notifies
// the operator. The bot is attached once it exists.
type Telegram struct {
	mu      sync.RWMutex
	api     API
	adminID int64
}

// NewTelegram builds a detached gateway.
func NewTelegram(adminID int64) *Telegram {
	return &Telegram{adminID: adminID}
}

// Attach sets the API used by every later send.
func (t *Telegram) Attach(api API) {
	t.mu.Lock()
	t.api = api
	t.mu.Unlock()
}

func (t *Telegram) client() (API, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.api == nil {
		return nil, ErrDetached
	}
	return t.api, nil
}

// SendText sends text verbatim, without a parse mode.
func (t *Telegram) SendText(ctx context.Context, recipientID int64, text string) error {
	api, err := t.client()
	if err != nil {
		return err
	}
	if _, err := api.Send(tele.ChatID(recipientID), text, &tele.SendOptions{}); err != nil {
		return fmt.Errorf("gateway: send text to %d: %w", recipientID, err)
	}
	logger.Debug(ctx, "tg.gateway", "send.text",
		slog.Int64("recipient_id", recipientID),
		slog.Int("len", len(text)),
	)
	return nil
}

// SendMediaGroup sends photos as albums of at most ten, in order. A single
// leftover photo is sent on its own because albums need two items.
func (t *Telegram) SendMediaGroup(ctx context.Context, recipientID int64, media []string) error {
	if len(media) == 0 {
		return nil
	}
	api, err := t.client()
	if err != nil {
		return err
	}
	to := tele.ChatID(recipientID)
	for start := 0; start < len(media); start += albumLimit {
		end := min(start+albumLimit, len(media))
		chunk := media[start:end]
		if len(chunk) == 1 {
			if _, err := api.Send(to, photo(chunk[0])); err != nil {
				return fmt.Errorf("gateway: send photo to %d: %w", recipientID, err)
			}
			continue
		}
		album := make(tele.Album, 0, len(chunk))
		for _, id := range chunk {
			album = append(album, photo(id))
		}
		if _, err := api.SendAlbum(to, album); err != nil {
			return fmt.Errorf("gateway: send album to %d: %w", recipientID, err)
		}
	}
	logger.Debug(ctx, "tg.gateway", "send.media",
		slog.Int64("recipient_id", recipientID),
		slog.Int("items", len(media)),
	)
	return nil
}

// NotifyAdmin sends an HTML message to the operator.
func (t *Telegram) NotifyAdmin(ctx context.Context, text string) error {
	if t.adminID == 0 {
		return nil
	}
	api, err := t.client()
	if err != nil {
		return err
	}
	if _, err := api.Send(tele.ChatID(t.adminID), text, &tele.SendOptions{ParseMode: tele.ModeHTML}); err != nil {
		return fmt.Errorf("gateway: notify admin: %w", err)
	}
	return nil
}

// Render sends screens in order. Each screen's media goes out before its text.
func (t *Telegram) Render(ctx context.Context, recipientID int64, screens []dialog.Screen) error {
	for i, s := range screens {
		if len(s.Media) > 0 {
			if err := t.SendMediaGroup(ctx, recipientID, s.Media); err != nil {
				return err
			}
		}
		if s.Text == "" {
			continue
		}
		api, err := t.client()
		if err != nil {
			return err
		}
		opts := &tele.SendOptions{ReplyMarkup: markup(s)}
		if !s.Plain {
			opts.ParseMode = tele.ModeHTML
		}
		if _, err := api.Send(tele.ChatID(recipientID), s.Text, opts); err != nil {
			return fmt.Errorf("gateway: render screen %d to %d: %w", i, recipientID, err)
		}
	}
	logger.Debug(ctx, "tg.gateway", "render.sent",
		slog.Int64("recipient_id", recipientID),
		slog.Int("screens", len(screens)),
	)
	return nil
}

func markup(s dialog.Screen) *tele.ReplyMarkup {
	switch {
	case len(s.Inline) > 0:
		rows := make([][]keyboard.InlineBtn, 0, len(s.Inline))
		for _, row := range s.Inline {
			btns := make([]keyboard.InlineBtn, 0, len(row))
			for _, b := range row {
				btns = append(btns, keyboard.InlineBtn{Text: b.Text, Unique: b.Key, Data: b.Data})
			}
			rows = append(rows, btns)
		}
		return keyboard.InlineButtonsRows(rows...)
	case s.RequestContact != "":
		return keyboard.ContactRequest(s.RequestContact, s.Reply...)
	case len(s.Reply) > 0:
		return keyboard.ReplyButtons(s.Reply...)
	case s.RemoveKeyboard:
		return keyboard.RemoveKeyboard()
	}
	return nil
}

func photo(fileID string) *tele.Photo {
	return &tele.Photo{File: tele.File{FileID: fileID}}
}
