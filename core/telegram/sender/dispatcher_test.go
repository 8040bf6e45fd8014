package sender

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func TestDispatcherRunsAndCountsFailures(t *testing.T) {
	d := NewDispatcher(Options{Workers: 2, QueueSize: 8})
	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		if err := d.Enqueue(context.Background(), "send.text", "sendMessage", func() error {
			ran.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	blocked := &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}
	if err := d.Enqueue(context.Background(), "send.text", "sendMessage", func() error {
		return blocked
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Close()

	if got := ran.Load(); got != 3 {
		t.Fatalf("ran = %d, want 3", got)
	}
	stats := d.Stats()
	if stats.Done != 3 || stats.Failed != 1 || stats.Unreachable != 1 || d.ErrorCount() != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if err := d.Enqueue(context.Background(), "send.text", "sendMessage", func() error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("enqueue after close = %v, want ErrQueueClosed", err)
	}
	d.Close()
}

func TestDispatcherRetriesTransientErrors(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond})
	var calls atomic.Int32
	err := d.Enqueue(context.Background(), "send.text", "sendMessage", func() error {
		if calls.Add(1) < 3 {
			return errors.New("telegram: bad gateway (502)")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Close()

	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	if d.ErrorCount() != 0 {
		t.Fatalf("errors = %d, want 0", d.ErrorCount())
	}
}

func TestDispatcherDoesNotRetryUnreachable(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 3, RetryBackoff: time.Millisecond})
	var calls atomic.Int32
	_ = d.Enqueue(context.Background(), "send.text", "sendMessage", func() error {
		calls.Add(1)
		return &tele.Error{Code: 403, Description: "Forbidden: user is deactivated"}
	})
	d.Close()
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestEnqueueFullQueue(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	_ = d.Enqueue(context.Background(), "a", "", func() error {
		close(started)
		<-release
		return nil
	})
	<-started
	if err := d.Enqueue(context.Background(), "b", "", func() error { return nil }); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := d.Enqueue(context.Background(), "c", "", func() error { return nil }); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third enqueue = %v, want ErrQueueFull", err)
	}
	close(release)
	d.Close()
}
