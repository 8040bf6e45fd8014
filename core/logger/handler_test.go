package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestHandler(t *testing.T, cfg handlerConfig, sinks ...sink) (*slog.Logger, func() string) {
	t.Helper()
	buf := &bytes.Buffer{}
	if len(sinks) == 0 {
		sinks = []sink{{w: buf, min: slog.LevelDebug}}
	}
	aw := newAsyncWriter(sinks, 1024)
	cfg.writer = aw
	if cfg.level == nil {
		cfg.level = slog.LevelDebug
	}
	log := slog.New(newStructuredHandler(cfg))
	return log, func() string {
		if err := aw.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		return strings.TrimSpace(buf.String())
	}
}

func TestKVOrder(t *testing.T) {
	log, read := newTestHandler(t, handlerConfig{format: formatKV})
	ctx := WithUpdateMeta(WithRID(Background(), "rid-123"), 42, 7, 9)

	LogEvent(ctx, log.With("component", "app"), slog.LevelInfo, "test.event",
		slog.String("status", "OK"),
		slog.String("cause", "unit"),
	)

	tokens := strings.Split(read(), " ")
	expected := []string{"ts=", "level=INFO", "component=app", "event=test.event", "status=ok", "rid=rid-123", "update_id=42", "user_id=7", "chat_id=9"}
	if len(tokens) < len(expected) {
		t.Fatalf("unexpected token count: %d (%v)", len(tokens), tokens)
	}
	for i, prefix := range expected {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, expected prefix %s", i, tokens[i], prefix)
		}
	}
}

func TestJSONCompactRID(t *testing.T) {
	log, read := newTestHandler(t, handlerConfig{format: formatJSON})
	raw := BuildRID(12, 34, 56)
	LogEvent(WithRID(Background(), raw), log, slog.LevelError, "deliver.failed",
		slog.Duration("grace", 1500*time.Millisecond),
	)

	line := read()
	for _, want := range []string{
		`{"ts":`,
		`"level":"ERROR"`,
		`"component":"app"`,
		`"event":"deliver.failed"`,
		`"rid":"` + CompactRID(raw) + `"`,
		`"rid_full":"12:34:56"`,
		`"grace_ms":1500`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %s in %s", want, line)
		}
	}
	if CompactRID(raw) != "c.y.1k" {
		t.Fatalf("CompactRID = %q", CompactRID(raw))
	}
}

func TestMaskPersonalDetails(t *testing.T) {
	log, read := newTestHandler(t, handlerConfig{format: formatKV, mask: true})
	log.Info("registration.submitted",
		slog.String("name", "Olena"),
		slog.String("phone", "+380 50 111 22 33"),
		slog.String("email", "olena@example.com"),
		slog.String("purpose", "course"),
	)

	line := read()
	for _, want := range []string{"name=O***", "phone=***33", "email=o***@example.com", "purpose=course"} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %s in %s", want, line)
		}
	}
	if strings.Contains(line, "Olena") || strings.Contains(line, "+380") {
		t.Fatalf("personal data leaked: %s", line)
	}
}

func TestStacksDroppedUnlessEnabled(t *testing.T) {
	log, read := newTestHandler(t, handlerConfig{format: formatKV})
	log.Error("event.panic", slog.String("stack", "goroutine 1"))
	if line := read(); strings.Contains(line, "stack=") {
		t.Fatalf("stack should be dropped: %s", line)
	}

	log, read = newTestHandler(t, handlerConfig{format: formatKV, stacks: true})
	log.Error("event.panic", slog.String("stack", "goroutine 1"))
	if line := read(); !strings.Contains(line, `stack="goroutine 1"`) {
		t.Fatalf("stack should be kept: %s", line)
	}
}

func TestErrorSinkReceivesWarningsOnly(t *testing.T) {
	all, errs := &bytes.Buffer{}, &bytes.Buffer{}
	log, read := newTestHandler(t, handlerConfig{format: formatKV},
		sink{w: all, min: slog.LevelDebug},
		sink{w: errs, min: slog.LevelWarn},
	)
	log.Info("deliver.done")
	log.Warn("deliver.failed")
	read()

	if n := strings.Count(all.String(), "\n"); n != 2 {
		t.Fatalf("main sink lines = %d, want 2", n)
	}
	if got := errs.String(); strings.Contains(got, "deliver.done") || !strings.Contains(got, "deliver.failed") {
		t.Fatalf("error sink = %q", got)
	}
}

func TestWriteAfterClose(t *testing.T) {
	aw := newAsyncWriter([]sink{{w: &bytes.Buffer{}}}, 0)
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := aw.Write(slog.LevelInfo, []byte("x")); err == nil {
		t.Fatalf("expected error after close")
	}
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(parseRatioSpec("2/5"))
	passed := 0
	for i := 0; i < 10; i++ {
		if s.Allow() {
			passed++
		}
	}
	if passed != 4 {
		t.Fatalf("passed = %d, want 4", passed)
	}

	s.Set(parseRatioSpec("off"))
	if !s.Allow() {
		t.Fatalf("disabled sampler should allow everything")
	}
	if num, den := parseRatioSpec("50"); num != 1 || den != 50 {
		t.Fatalf("parseRatioSpec(50) = %d/%d", num, den)
	}
}

func TestSanitizeLimit(t *testing.T) {
	if got := SanitizeLimit("a\x00b\u200bc\nd", 4); got != "abc\n" {
		t.Fatalf("SanitizeLimit = %q", got)
	}
	if got := SanitizeLimit("привіт", 3); got != "при" {
		t.Fatalf("SanitizeLimit = %q", got)
	}
}
