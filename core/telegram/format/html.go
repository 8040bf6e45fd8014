// Package format holds text helpers for Telegram parse modes.
package format

import "html"

// EscapeHTML escapes user supplied text for messages sent with ParseMode HTML.
func EscapeHTML(s string) string {
	return html.EscapeString(s)
}
