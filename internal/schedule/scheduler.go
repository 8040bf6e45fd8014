package schedule

import (
	"container/heap"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/m3rciful/cbtbot/core/logger"
)

// Handler is invoked for every job whose fire time has arrived.
type Handler func(ctx context.Context, job Job)

type entry struct {
	job   Job
	seq   uint64
	index int
}

type jobHeap []*entry

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.FireAt.Equal(h[j].job.FireAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].job.FireAt.Before(h[j].job.FireAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler keeps armed jobs ordered by fire time and indexed by key.
// All access goes through one mutex; Run is the only goroutine that fires.
type Scheduler struct {
	mu      sync.Mutex
	heap    jobHeap
	byKey   map[Key]*entry
	seq     uint64
	handler Handler
	now     func() time.Time
	wake    chan struct{}
}

// SchedulerOption customises a Scheduler.
type SchedulerOption func(*Scheduler)

// WithNow overrides the clock used by Run.
func WithNow(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler returns an empty scheduler that passes due jobs to handler.
func NewScheduler(handler Handler, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		byKey:   make(map[Key]*entry),
		handler: handler,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Arm adds job and reports whether it replaced a job with the same key.
func (s *Scheduler) Arm(job Job) bool {
	s.mu.Lock()
	replaced := false
	if old, ok := s.byKey[job.Key]; ok {
		heap.Remove(&s.heap, old.index)
		replaced = true
	}
	s.seq++
	e := &entry{job: job, seq: s.seq}
	heap.Push(&s.heap, e)
	s.byKey[job.Key] = e
	s.mu.Unlock()

	s.signal()
	logger.Debug(context.Background(), "scheduler", "job.armed",
		slog.String("job_key", job.Key.String()),
		slog.Time("fire_at", job.FireAt),
		slog.Bool("replaced", replaced),
	)
	return replaced
}

// Cancel disarms the job with key and reports whether it was armed.
func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	e, ok := s.byKey[key]
	if ok {
		heap.Remove(&s.heap, e.index)
		delete(s.byKey, key)
	}
	s.mu.Unlock()
	if ok {
		s.signal()
	}
	return ok
}

// CancelKind disarms every job of kind and returns how many were removed.
func (s *Scheduler) CancelKind(kind Kind) int {
	s.mu.Lock()
	n := 0
	for key, e := range s.byKey {
		if key.Kind != kind {
			continue
		}
		heap.Remove(&s.heap, e.index)
		delete(s.byKey, key)
		n++
	}
	s.mu.Unlock()
	if n > 0 {
		s.signal()
	}
	return n
}

// CancelAll disarms every job. Durable records are not touched.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	n := len(s.byKey)
	s.heap = nil
	s.byKey = make(map[Key]*entry)
	s.mu.Unlock()
	if n > 0 {
		s.signal()
	}
	return n
}

// Len returns the number of armed jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

// Pending returns a snapshot of armed jobs in fire order.
func (s *Scheduler) Pending() []Job {
	s.mu.Lock()
	entries := make([]*entry, len(s.heap))
	copy(entries, s.heap)
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return jobHeap(entries).Less(i, j) })
	out := make([]Job, len(entries))
	for i, e := range entries {
		out[i] = e.job
	}
	return out
}

// NextFireTime returns the earliest fire time, if any job is armed.
func (s *Scheduler) NextFireTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return time.Time{}, false
	}
	return s.heap[0].job.FireAt, true
}

// RunDue fires every job due at now, in fire order, and returns how many fired.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due []Job
	for len(s.heap) > 0 && !s.heap[0].job.FireAt.After(now) {
		e := heap.Pop(&s.heap).(*entry)
		delete(s.byKey, e.job.Key)
		due = append(due, e.job)
	}
	s.mu.Unlock()

	for _, job := range due {
		s.fire(ctx, job)
	}
	return len(due)
}

func (s *Scheduler) fire(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "scheduler", "job.panic",
				slog.String("job_key", job.Key.String()),
				slog.Any("panic", r),
			)
		}
	}()
	if s.handler != nil {
		s.handler(ctx, job)
	}
}

// Run fires jobs as they become due until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Info(ctx, "scheduler", "loop.start", slog.Int("armed", s.Len()))
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.RunDue(ctx, s.now())

		wait := time.Hour
		if next, ok := s.NextFireTime(); ok {
			wait = next.Sub(s.now())
			if wait < 0 {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			logger.Info(ctx, "scheduler", "loop.stop", slog.Int("armed", s.Len()))
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
