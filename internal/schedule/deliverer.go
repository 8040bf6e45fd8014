package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/m3rciful/cbtbot/core/logger"
	"github.com/m3rciful/cbtbot/core/telegram/netutil"
	"github.com/m3rciful/cbtbot/core/telegram/sender"
)

// Gateway is the outbound half of the chat platform used at fire time.
type Gateway interface {
	SendText(ctx context.Context, recipientID int64, text string) error
	SendMediaGroup(ctx context.Context, recipientID int64, media []string) error
}

// Pool runs delivery closures off the scheduling goroutine.
type Pool interface {
	Enqueue(ctx context.Context, action, endpoint string, run func() error) error
}

// Ledger records that a delivery was attempted.
type Ledger interface {
	CompleteDelivery(ctx context.Context, broadcastID, recipientID int64) (int, error)
	DeleteWebinarSubscription(ctx context.Context, recipientID int64) error
}

// DelivererOptions configures a Deliverer.
type DelivererOptions struct {
	// Pool is optional; without it deliveries run on the caller's goroutine.
	Pool Pool
	// RatePerSecond caps outbound sends across all recipients. Zero disables it.
	RatePerSecond int
	// ReminderText renders the reminder for a join URL.
	ReminderText func(url string) string
}

// Deliverer is the scheduler's fire handler.
type Deliverer struct {
	gw       Gateway
	ledger   Ledger
	pool     Pool
	limiter  *rate.Limiter
	reminder func(string) string
}

// NewDeliverer builds a deliverer sending through gw.
func NewDeliverer(gw Gateway, ledger Ledger, opts DelivererOptions) *Deliverer {
	d := &Deliverer{
		gw:       gw,
		ledger:   ledger,
		pool:     opts.Pool,
		reminder: opts.ReminderText,
	}
	if opts.RatePerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RatePerSecond)
	}
	if d.reminder == nil {
		d.reminder = func(url string) string {
			return fmt.Sprintf("The webinar is about to start. Join here: %s", url)
		}
	}
	return d
}

// Fire delivers job. It satisfies Handler.
func (d *Deliverer) Fire(ctx context.Context, job Job) {
	ctx = logger.WithRID(context.WithoutCancel(ctx), uuid.NewString())
	run := func() error { return d.deliver(ctx, job) }

	if d.pool != nil {
		err := d.pool.Enqueue(ctx, "deliver."+job.Key.Kind.String(), job.Key.String(), run)
		if err == nil {
			return
		}
		if !errors.Is(err, sender.ErrQueueFull) && !errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(ctx, "scheduler", "deliver.enqueue_failed",
				slog.String("job_key", job.Key.String()),
				slog.String("err", err.Error()),
			)
		}
	}
	_ = run()
}

func (d *Deliverer) deliver(ctx context.Context, job Job) error {
	start := time.Now()
	rid := job.Key.Recipient

	var sendErr error
	switch job.Key.Kind {
	case KindBroadcast:
		sendErr = d.sendBroadcast(ctx, rid, job)
	case KindReminder:
		sendErr = d.send(ctx, func() error { return d.gw.SendText(ctx, rid, d.reminder(job.URL)) })
	default:
		sendErr = fmt.Errorf("unknown job kind %d", job.Key.Kind)
	}

	attrs := []slog.Attr{
		slog.String("job_key", job.Key.String()),
		slog.Int64("recipient_id", rid),
		slog.Duration("elapsed", time.Since(start)),
	}
	switch {
	case netutil.Unreachable(sendErr):
		logger.Info(ctx, "scheduler", "deliver.unreachable", attrs...)
	case sendErr != nil:
		logger.Warn(ctx, "scheduler", "deliver.failed", append(attrs,
			slog.String("err", netutil.Redact(sendErr)),
			slog.String("err_code", netutil.Kind(sendErr)),
		)...)
	default:
		logger.Info(ctx, "scheduler", "deliver.done", attrs...)
	}

	d.complete(ctx, job)
	return sendErr
}

// sendBroadcast sends texts in order, then the media as one group. The first
// failed send ends the attempt for this recipient.
func (d *Deliverer) sendBroadcast(ctx context.Context, rid int64, job Job) error {
	for _, text := range job.Payload.Texts {
		text := text
		if err := d.send(ctx, func() error { return d.gw.SendText(ctx, rid, text) }); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
	}
	if len(job.Payload.Media) == 0 {
		return nil
	}
	if err := d.send(ctx, func() error { return d.gw.SendMediaGroup(ctx, rid, job.Payload.Media) }); err != nil {
		return fmt.Errorf("send media group: %w", err)
	}
	return nil
}

// send waits for the shared rate limit, then calls. A flood wait from
// Telegram is honoured once before giving up on this send.
func (d *Deliverer) send(ctx context.Context, call func() error) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	err := call()
	wait, flooded := netutil.RetryAfter(err)
	if !flooded {
		return err
	}
	logger.Warn(ctx, "scheduler", "deliver.flood_wait", slog.Duration("backoff", wait))
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	case <-t.C:
	}
	return call()
}

func (d *Deliverer) complete(ctx context.Context, job Job) {
	if d.ledger == nil {
		return
	}
	var err error
	switch job.Key.Kind {
	case KindBroadcast:
		var remaining int
		remaining, err = d.ledger.CompleteDelivery(ctx, job.Key.Broadcast, job.Key.Recipient)
		if err == nil && remaining == 0 {
			logger.Info(ctx, "scheduler", "broadcast.completed", slog.Int64("broadcast_id", job.Key.Broadcast))
		}
	case KindReminder:
		err = d.ledger.DeleteWebinarSubscription(ctx, job.Key.Recipient)
	}
	if err != nil {
		logger.Error(ctx, "scheduler", "ledger.update_failed",
			slog.String("job_key", job.Key.String()),
			slog.String("err", err.Error()),
		)
	}
}
