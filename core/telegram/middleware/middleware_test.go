package middleware

import (
	"log/slog"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func textUpdate(id int, userID int64, text string) tele.Context {
	return tele.NewContext(nil, tele.Update{
		ID: id,
		Message: &tele.Message{
			Sender: &tele.User{ID: userID},
			Chat:   &tele.Chat{ID: userID},
			Text:   text,
		},
	})
}

func TestAdminOnlyMiddleware(t *testing.T) {
	var called, rejected int
	h := AdminOnlyMiddleware(AdminOptions{
		AdminID:  1,
		OnReject: func(tele.Context) error { rejected++; return nil },
	})(func(tele.Context) error { called++; return nil })

	if err := h(textUpdate(1, 1, "/status")); err != nil {
		t.Fatalf("admin call: %v", err)
	}
	if err := h(textUpdate(2, 2, "/status")); err != nil {
		t.Fatalf("user call: %v", err)
	}
	if called != 1 || rejected != 1 {
		t.Fatalf("called=%d rejected=%d, want 1/1", called, rejected)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	var passed, limited int
	h := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Hour,
		Exempt:    map[int64]struct{}{1: {}},
		OnLimited: func(tele.Context) error { limited++; return nil },
	})(func(tele.Context) error { passed++; return nil })

	for i := 0; i < 3; i++ {
		_ = h(textUpdate(i, 2, "hi"))
	}
	if passed != 1 || limited != 2 {
		t.Fatalf("user: passed=%d limited=%d, want 1/2", passed, limited)
	}

	passed, limited = 0, 0
	for i := 0; i < 3; i++ {
		_ = h(textUpdate(10+i, 1, "photo"))
	}
	if passed != 3 || limited != 0 {
		t.Fatalf("exempt: passed=%d limited=%d, want 3/0", passed, limited)
	}
}

func TestRateLimitBurst(t *testing.T) {
	var passed int
	h := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Burst:    2,
	})(func(tele.Context) error { passed++; return nil })

	for i := 0; i < 4; i++ {
		_ = h(textUpdate(i, 3, "hi"))
	}
	if passed != 2 {
		t.Fatalf("passed = %d, want burst of 2", passed)
	}
}

func TestRateLimitExcludesCallbacks(t *testing.T) {
	var passed int
	h := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Exclude:  map[string]struct{}{"callback": {}},
	})(func(tele.Context) error { passed++; return nil })

	for i := 0; i < 2; i++ {
		c := tele.NewContext(nil, tele.Update{
			ID:       i,
			Callback: &tele.Callback{Sender: &tele.User{ID: 5}, Data: "\fyes"},
		})
		_ = h(c)
	}
	if passed != 2 {
		t.Fatalf("passed = %d, want 2", passed)
	}
}

func TestMessageKind(t *testing.T) {
	cases := map[string]*tele.Message{
		"contact":  {Contact: &tele.Contact{PhoneNumber: "+380"}},
		"photo":    {Photo: &tele.Photo{}},
		"document": {Document: &tele.Document{}},
		"text":     {Text: "hi"},
		"other":    {},
	}
	for want, m := range cases {
		if got := messageKind(m); got != want {
			t.Fatalf("messageKind = %q, want %q", got, want)
		}
	}
}

func TestRepliesCountKeyboards(t *testing.T) {
	var r Replies
	r.add(false, nil)
	r.add(true, []interface{}{&tele.SendOptions{ParseMode: tele.ModeHTML}})
	if r.Keyboard {
		t.Fatalf("no markup yet, keyboard should be false")
	}
	r.add(false, []interface{}{&tele.ReplyMarkup{}})
	if r.Sent != 2 || r.Edited != 1 || !r.Keyboard {
		t.Fatalf("replies = %+v", r)
	}

	c := textUpdate(1, 1, "hi")
	if got := RepliesFrom(c); got != (Replies{}) {
		t.Fatalf("RepliesFrom without middleware = %+v", got)
	}
	_ = MessageMetricsMiddleware(func(c tele.Context) error { return nil })(c)
	if got := RepliesFrom(c); got != (Replies{}) {
		t.Fatalf("RepliesFrom after empty handler = %+v", got)
	}
}

func attrValue(attrs []slog.Attr, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value.String(), true
		}
	}
	return "", false
}

func TestReceiptAttrsHideDialogText(t *testing.T) {
	attrs := receiptAttrs(textUpdate(1, 2, "olena@example.com"))
	if _, ok := attrValue(attrs, "payload"); ok {
		t.Fatalf("free text must not be logged: %v", attrs)
	}
	if n, _ := attrValue(attrs, "text_len"); n != "17" {
		t.Fatalf("text_len = %q, want 17", n)
	}

	attrs = receiptAttrs(textUpdate(2, 2, "/start"))
	if p, _ := attrValue(attrs, "payload"); p != "/start" {
		t.Fatalf("command payload = %q", p)
	}
}

func TestSeenUpdatesWindow(t *testing.T) {
	s := &seenUpdates{window: time.Second, ids: make(map[int]time.Time)}
	now := time.Unix(100, 0)
	if !s.first(1, now) || s.first(1, now) {
		t.Fatalf("second sighting inside the window must be a duplicate")
	}
	if !s.first(1, now.Add(2*time.Second)) {
		t.Fatalf("sighting after the window must count as new")
	}
}

func TestRecoverMiddlewareSwallowsPanic(t *testing.T) {
	h := RecoverMiddleware(func(tele.Context) error { panic("nil slot") })
	if err := h(textUpdate(1, 1, "x")); err != nil {
		t.Fatalf("recovered handler returned %v", err)
	}
}
