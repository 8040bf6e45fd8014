package router

import (
	"errors"
	"fmt"
	"testing"

	tg "github.com/m3rciful/cbtbot/core/telegram"
	"github.com/m3rciful/cbtbot/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

type fakeConversation struct {
	active  map[int64]bool
	handled []string
}

func (f *fakeConversation) InProgress(userID int64) bool { return f.active[userID] }

func (f *fakeConversation) HandleMessage(c tele.Context) error {
	f.handled = append(f.handled, c.Text())
	return nil
}

// quietContext answers callbacks without a bot.
type quietContext struct{ tele.Context }

func (quietContext) Respond(...*tele.CallbackResponse) error { return nil }

func message(userID int64, text string) tele.Context {
	return tele.NewContext(nil, tele.Update{
		ID: int(userID),
		Message: &tele.Message{
			Sender: &tele.User{ID: userID},
			Chat:   &tele.Chat{ID: userID},
			Text:   text,
		},
	})
}

func routeFor(t *testing.T, routes []tg.Route, endpoint string) tele.HandlerFunc {
	t.Helper()
	for _, r := range routes {
		if r.Endpoint == endpoint {
			return r.Handler
		}
	}
	t.Fatalf("no route for %q", endpoint)
	return nil
}

func TestMessageRoutesPreferDialog(t *testing.T) {
	conv := &fakeConversation{active: map[int64]bool{7: true}}
	reg := tg.NewRegistry()
	var commandCalls int
	reg.RegisterCommand("/cancel", commands.Command{
		Description: "Cancel",
		Aliases:     []string{"stop"},
		Handler:     func(tele.Context) error { commandCalls++; return nil },
	})

	text := routeFor(t, MessageRoutes(conv, reg, MessageOptions{}), tele.OnText)

	if err := text(message(7, "Alice")); err != nil {
		t.Fatalf("text in dialog: %v", err)
	}
	if err := text(message(8, "stop")); err != nil {
		t.Fatalf("alias: %v", err)
	}
	if len(conv.handled) != 1 || conv.handled[0] != "Alice" {
		t.Fatalf("dialog handled %v, want [Alice]", conv.handled)
	}
	if commandCalls != 1 {
		t.Fatalf("alias calls = %d, want 1", commandCalls)
	}
}

func TestMessageRoutesNeverReachAdminCommands(t *testing.T) {
	reg := tg.NewRegistry()
	var statusCalls, cancelCalls int
	reg.RegisterCommand("/status", commands.Command{
		Description: "Status",
		AdminOnly:   true,
		Handler:     func(tele.Context) error { statusCalls++; return nil },
	})
	reg.RegisterCommand("/cancel", commands.Command{
		Description: "Cancel",
		Aliases:     []string{"stop"},
		Handler:     func(tele.Context) error { cancelCalls++; return nil },
	})
	text := routeFor(t, MessageRoutes(nil, reg, MessageOptions{}), tele.OnText)

	for _, msg := range []string{"status", "/status", "stop the bot"} {
		if err := text(message(5, msg)); err != nil {
			t.Fatalf("text %q: %v", msg, err)
		}
	}
	if statusCalls != 0 || cancelCalls != 0 {
		t.Fatalf("status=%d cancel=%d, want no command calls", statusCalls, cancelCalls)
	}
}

func TestMessageRoutesSkipPhotoOutsideDialog(t *testing.T) {
	conv := &fakeConversation{active: map[int64]bool{}}
	photo := routeFor(t, MessageRoutes(conv, nil, MessageOptions{}), tele.OnPhoto)

	if err := photo(message(9, "")); err != nil {
		t.Fatalf("photo: %v", err)
	}
	if len(conv.handled) != 0 {
		t.Fatalf("photo outside dialog reached conversation")
	}

	conv.active[9] = true
	_ = photo(message(9, ""))
	if len(conv.handled) != 1 {
		t.Fatalf("photo inside dialog not delivered")
	}
}

func TestMessageRoutesUnknownText(t *testing.T) {
	var unknown int
	text := routeFor(t, MessageRoutes(nil, nil, MessageOptions{
		UnknownText: func(tele.Context) error { unknown++; return nil },
	}), tele.OnText)

	_ = text(message(3, "hello"))
	if unknown != 1 {
		t.Fatalf("unknown text calls = %d, want 1", unknown)
	}
}

func TestCallbackRouteFallsBackToNotFound(t *testing.T) {
	reg := tg.NewRegistry()
	var known, fallback []string
	if err := reg.RegisterCallback("status", func(c tele.Context) error {
		known = append(known, c.Callback().Data)
		return nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	reg.SetCallbackNotFound(func(c tele.Context) error {
		fallback = append(fallback, c.Callback().Data)
		return nil
	})
	route := CallbackRoute(reg, CallbackOptions{})

	press := func(data string) {
		c := tele.NewContext(nil, tele.Update{
			ID:       1,
			Callback: &tele.Callback{Sender: &tele.User{ID: 4}, Data: data},
		})
		if err := route.Handler(quietContext{c}); err != nil {
			t.Fatalf("callback %q: %v", data, err)
		}
	}
	press("\fstatus")
	press("\fcourse|go")

	if len(known) != 1 || len(fallback) != 1 || fallback[0] != "\fcourse|go" {
		t.Fatalf("known=%v fallback=%v", known, fallback)
	}
}

func TestNormalizeHandlerName(t *testing.T) {
	if got := normalizeHandlerName("/Clear Broadcasts"); got != "clear_broadcasts" {
		t.Fatalf("normalizeHandlerName = %q", got)
	}
	if got := normalizeHandlerName("  "); got != "unknown" {
		t.Fatalf("normalizeHandlerName(blank) = %q", got)
	}
}

type codedErr string

func (e codedErr) Error() string { return string(e) }
func (e codedErr) Code() string  { return "slot taken" }

func TestDeriveErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("wrap: %w", codedErr("x")), "SLOT_TAKEN"},
		{tele.ErrChatNotFound, "TG_UNREACHABLE"},
		{errors.New("boom"), "ERRORSTRING"},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := deriveErrorCode(tc.err); got != tc.want {
			t.Fatalf("deriveErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
