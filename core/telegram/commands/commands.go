// Package commands describes slash commands exposed by a bot.
package commands

import (
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Command represents a bot command with its handler, description, and metadata.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	// AdminOnly commands are rejected for everyone but the operator and only
	// appear in the operator's command menu.
	AdminOnly bool
	Hidden    bool
	Aliases   []string
}

// Validate checks a command before registration under name.
func (c Command) Validate(name string) error {
	switch {
	case c.Handler == nil:
		return errors.New("nil handler")
	case strings.TrimSpace(c.Description) == "":
		return errors.New("empty description")
	case !strings.HasPrefix(name, "/") || len(name) < 2:
		return errors.New("no_slash_prefix")
	}
	return nil
}

// Visible reports whether the command belongs in the menu of a regular user
// or, with admin set, in the operator's menu.
func (c Command) Visible(admin bool) bool {
	if c.Hidden {
		return false
	}
	return admin || !c.AdminOnly
}

// Normalize reduces "/Status@cbt_bot now" to "/status". A missing slash is
// added.
func Normalize(text string) string {
	name, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	name, _, _ = strings.Cut(name, "@")
	if name == "" {
		return ""
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return strings.ToLower(name)
}
