package gateway

import (
	"context"

	"github.com/m3rciful/cbtbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/cbtbot/core/telegram/helpers"
	"github.com/m3rciful/cbtbot/internal/dialog"

	tele "gopkg.in/telebot.v4"
)

// Engine is the dialog side of the inbound path.
type Engine interface {
	Submit(ctx context.Context, ev dialog.Event) error
	State(recipientID int64) dialog.State
}

// Inbound turns telebot updates into dialog events.
type Inbound struct {
	engine Engine
}

// NewInbound wires updates to engine.
func NewInbound(engine Engine) *Inbound {
	return &Inbound{engine: engine}
}

// InProgress reports whether userID has an open dialog.
func (in *Inbound) InProgress(userID int64) bool {
	return in.engine.State(userID) != dialog.StateIdle
}

// HandleMessage submits a text, contact or photo message.
func (in *Inbound) HandleMessage(c tele.Context) error {
	ev, ok := MessageEvent(c.Message())
	if !ok {
		return nil
	}
	return in.engine.Submit(tghelpers.BuildContext(c), ev)
}

// Start handles /start.
func (in *Inbound) Start(c tele.Context) error {
	return in.command(c, dialog.EventStart)
}

// Cancel handles /cancel.
func (in *Inbound) Cancel(c tele.Context) error {
	return in.command(c, dialog.EventCancel)
}

// Callback handles any inline button press.
func (in *Inbound) Callback(c tele.Context) error {
	ev, ok := CallbackEvent(c.Callback())
	if !ok {
		return nil
	}
	return in.engine.Submit(tghelpers.BuildContext(c), ev)
}

func (in *Inbound) command(c tele.Context, kind dialog.EventKind) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	return in.engine.Submit(tghelpers.BuildContext(c), dialog.Event{RecipientID: sender.ID, Kind: kind})
}

// MessageEvent converts an incoming message. Contacts carry the phone number
// and photos the file id of their largest size.
func MessageEvent(m *tele.Message) (dialog.Event, bool) {
	if m == nil || m.Sender == nil {
		return dialog.Event{}, false
	}
	ev := dialog.Event{RecipientID: m.Sender.ID}
	switch {
	case m.Contact != nil:
		ev.Kind = dialog.EventContact
		ev.Payload = m.Contact.PhoneNumber
	case m.Photo != nil:
		ev.Kind = dialog.EventMedia
		ev.Payload = m.Photo.FileID
		ev.MediaGroupID = m.AlbumID
	case m.Text != "":
		ev.Kind = dialog.EventText
		ev.Payload = m.Text
	default:
		return dialog.Event{}, false
	}
	return ev, true
}

// CallbackEvent converts an inline button press.
func CallbackEvent(cb *tele.Callback) (dialog.Event, bool) {
	if cb == nil || cb.Sender == nil {
		return dialog.Event{}, false
	}
	key, data := callbacks.ParseCallbackData(cb)
	if key == "" {
		return dialog.Event{}, false
	}
	return dialog.Event{
		RecipientID: cb.Sender.ID,
		Kind:        dialog.EventCallback,
		Payload:     key,
		Data:        data,
	}, true
}
