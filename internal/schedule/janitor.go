package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/m3rciful/cbtbot/core/logger"
	"github.com/m3rciful/cbtbot/internal/store"
)

// Purger removes consumed records whose fire time is at or before cutoff.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (store.PurgeResult, error)
}

// JanitorOptions configures a Janitor.
type JanitorOptions struct {
	// Spec is a cron expression or descriptor such as "@every 10m".
	Spec     string
	Grace    time.Duration
	Location *time.Location
	Now      func() time.Time
}

// Janitor periodically deletes leftovers of deliveries that never completed,
// for example after a crash between send and ledger update.
type Janitor struct {
	purger Purger
	opts   JanitorOptions
	parser cron.Parser

	mu sync.Mutex
	c  *cron.Cron
}

// NewJanitor validates the schedule and returns a stopped janitor.
func NewJanitor(p Purger, opts JanitorOptions) (*Janitor, error) {
	if opts.Spec == "" {
		opts.Spec = "@every 10m"
	}
	if opts.Grace < 0 {
		return nil, fmt.Errorf("janitor: negative grace %s", opts.Grace)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	j := &Janitor{
		purger: p,
		opts:   opts,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	if _, err := j.parser.Parse(opts.Spec); err != nil {
		return nil, fmt.Errorf("janitor: invalid schedule %q: %w", opts.Spec, err)
	}
	return j, nil
}

// Start registers the purge entry and starts the cron runner.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.c != nil {
		return nil
	}
	c := cron.New(cron.WithParser(j.parser), cron.WithLocation(j.opts.Location))
	if _, err := c.AddFunc(j.opts.Spec, func() { j.Sweep(ctx) }); err != nil {
		return fmt.Errorf("janitor: %w", err)
	}
	c.Start()
	j.c = c
	logger.Info(ctx, "scheduler", "janitor.start",
		slog.String("spec", j.opts.Spec),
		slog.Duration("grace", j.opts.Grace),
	)
	return nil
}

// Stop halts the runner and waits for a running sweep.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.c
	j.c = nil
	j.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Sweep runs one purge pass.
func (j *Janitor) Sweep(ctx context.Context) store.PurgeResult {
	cutoff := j.opts.Now().Add(-j.opts.Grace)
	res, err := j.purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		logger.Error(ctx, "scheduler", "janitor.failed", slog.String("err", err.Error()))
		return res
	}
	if res.Broadcasts > 0 || res.Subscriptions > 0 {
		logger.Info(ctx, "scheduler", "janitor.purged",
			slog.Int64("broadcasts", res.Broadcasts),
			slog.Int64("subscriptions", res.Subscriptions),
		)
	}
	return res
}
