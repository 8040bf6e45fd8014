package commands

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"/Status@cbt_bot now": "/status",
		"cancel":              "/cancel",
		"  /start  ":          "/start",
		"":                    "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestVisibleAndValidate(t *testing.T) {
	noop := func(tele.Context) error { return nil }
	admin := Command{Handler: noop, Description: "Status", AdminOnly: true}
	if admin.Visible(false) || !admin.Visible(true) {
		t.Fatalf("admin command visibility wrong")
	}
	if (Command{Handler: noop, Description: "x", Hidden: true}).Visible(true) {
		t.Fatalf("hidden command should never be visible")
	}
	if err := admin.Validate("/status"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if admin.Validate("status") == nil || (Command{Description: "x"}).Validate("/x") == nil {
		t.Fatalf("expected validation errors")
	}
}
