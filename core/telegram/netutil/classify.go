// Package netutil classifies errors returned by Telegram API calls.
package netutil

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

var tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)

// ShouldRetry reports whether a failed call is worth repeating: transport
// timeouts, refused dials, flood waits and 5xx answers. Errors from the
// recipient side never are.
func ShouldRetry(err error) bool {
	if err == nil || Unreachable(err) {
		return false
	}
	if _, ok := RetryAfter(err); ok {
		return true
	}
	switch Kind(err) {
	case "timeout", "dial", "http_5xx":
		return true
	}
	return false
}

// RetryAfter returns the wait Telegram asked for in a flood error.
func RetryAfter(err error) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return time.Duration(flood.RetryAfter) * time.Second, true
	}
	return 0, false
}

// Unreachable reports whether the recipient cannot be messaged at all:
// the bot was blocked, the user deactivated or the chat is gone.
func Unreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, tele.ErrChatNotFound) {
		return true
	}
	var apiErr *tele.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden
}

// Kind names the failure class for logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case Unreachable(err):
		return "unreachable"
	}
	if _, ok := RetryAfter(err); ok {
		return "flood"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return "timeout"
		}
		return "dns"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "dial"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return "timeout"
	}
	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return "tls"
	}

	switch status := StatusCode(err); {
	case status >= 500:
		return "http_5xx"
	case status >= 400:
		return "http_4xx"
	}
	return "unknown"
}

// StatusCode extracts the HTTP status of an API error, falling back to a
// trailing "(NNN)" in the message.
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	if _, ok := RetryAfter(err); ok {
		return http.StatusTooManyRequests
	}
	msg := err.Error()
	open, closing := strings.LastIndex(msg, "("), strings.LastIndex(msg, ")")
	if open >= 0 && closing > open+1 {
		if code, convErr := strconv.Atoi(strings.TrimSpace(msg[open+1 : closing])); convErr == nil {
			return code
		}
	}
	return 0
}

// Redact hides bot tokens embedded in request URLs.
func Redact(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}

type redactedError struct {
	msg string
	err error
}

func (e redactedError) Error() string { return e.msg }
func (e redactedError) Unwrap() error { return e.err }

// RedactErr returns err with tokens removed from its message. errors.Is and
// errors.As still reach the original error.
func RedactErr(err error) error {
	if err == nil {
		return nil
	}
	return redactedError{msg: Redact(err), err: err}
}
