// Package timefmt parses and renders the DD.MM.YYYY HH:MM wall-clock format
// admins use to schedule webinars and broadcasts.
package timefmt

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// Layout is the only accepted input and display format.
const Layout = "02.01.2006 15:04"

// DefaultZone is used when no canonical time zone is configured.
const DefaultZone = "Europe/Kyiv"

var (
	// ErrInvalidDate reports input that is not a valid DD.MM.YYYY HH:MM value.
	ErrInvalidDate = errors.New("timefmt: invalid date")
	// ErrNotFuture reports a valid date that is not after the reference time.
	ErrNotFuture = errors.New("timefmt: date is not in the future")
)

// LoadZone resolves name, falling back to DefaultZone when name is blank.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timefmt: load zone %q: %w", name, err)
	}
	return loc, nil
}

// Parse reads s as wall-clock time in loc. The value must re-format to exactly
// the trimmed input, which rejects single-digit fields, overflowing days and
// trailing garbage that time.ParseInLocation alone would let through.
func Parse(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	if len(s) != len(Layout) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	t, err := time.ParseInLocation(Layout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	if t.Format(Layout) != s {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// ParseFuture is Parse plus a check that the result lies strictly after now.
func ParseFuture(s string, loc *time.Location, now time.Time) (time.Time, error) {
	t, err := Parse(s, loc)
	if err != nil {
		return time.Time{}, err
	}
	if !t.After(now) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNotFuture, s)
	}
	return t, nil
}

// Format renders t in loc using Layout.
func Format(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(Layout)
}
