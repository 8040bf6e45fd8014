package logger

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"sync"
)

var errWriterClosed = errors.New("logger: writer closed")

// sink is one output with the lowest level it accepts.
type sink struct {
	w   io.Writer
	min slog.Level
}

type entry struct {
	level slog.Level
	data  []byte
}

// asyncWriter fans formatted lines out to its sinks from a single goroutine,
// so callers never block on slow files unless the queue is full.
type asyncWriter struct {
	queue chan entry
	flush chan chan error
	done  chan struct{}

	sendMu sync.RWMutex
	closed bool

	mu    sync.Mutex
	outs  []*bufio.Writer
	mins  []slog.Level
	first error
}

func newAsyncWriter(sinks []sink, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	w := &asyncWriter{
		queue: make(chan entry, 256),
		flush: make(chan chan error),
		done:  make(chan struct{}),
	}
	for _, s := range sinks {
		if s.w == nil {
			continue
		}
		w.outs = append(w.outs, bufio.NewWriterSize(s.w, bufSize))
		w.mins = append(w.mins, s.min)
	}
	go w.loop()
	return w
}

func (w *asyncWriter) loop() {
	defer close(w.done)
	for {
		select {
		case e, ok := <-w.queue:
			if !ok {
				w.flushAll()
				return
			}
			w.record(w.write(e))
		case ack := <-w.flush:
			// Drain what is already queued so Flush observes earlier writes.
			for drained := false; !drained; {
				select {
				case e, ok := <-w.queue:
					if !ok {
						drained = true
						break
					}
					w.record(w.write(e))
				default:
					drained = true
				}
			}
			ack <- w.flushAll()
		}
	}
}

// Write queues a copy of p for every sink that accepts level.
func (w *asyncWriter) Write(level slog.Level, p []byte) error {
	if err := w.err(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.closed {
		return errWriterClosed
	}
	w.queue <- entry{level: level, data: append([]byte(nil), p...)}
	return nil
}

// Flush waits until queued lines reach the sinks.
func (w *asyncWriter) Flush() error {
	ack := make(chan error, 1)
	select {
	case w.flush <- ack:
		return <-ack
	case <-w.done:
		return w.err()
	}
}

// Close drains the queue and reports the first write error seen.
func (w *asyncWriter) Close() error {
	w.sendMu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.sendMu.Unlock()
	<-w.done
	return w.err()
}

func (w *asyncWriter) write(e entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, out := range w.outs {
		if e.level < w.mins[i] {
			continue
		}
		if _, err := out.Write(e.data); err != nil {
			return err
		}
		if err := out.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (w *asyncWriter) flushAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for _, out := range w.outs {
		if err := out.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *asyncWriter) err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.first
}

func (w *asyncWriter) record(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.first == nil {
		w.first = err
	}
}
