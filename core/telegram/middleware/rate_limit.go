package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/cbtbot/core/logger"
	tghelpers "github.com/m3rciful/cbtbot/core/telegram/helpers"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	// Interval is the refill period of one token.
	Interval time.Duration
	// Burst is the number of updates a quiet user may send back to back.
	Burst int
	// Exclude lists update kinds ("message", "callback") that bypass limits.
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc

	// Exempt lists user ids that are never limited, such as the operator
	// uploading an album.
	Exempt map[int64]struct{}
}

// idleAfter is how long a user limiter is kept after its last update.
const idleAfter = 10 * time.Minute

type userLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

type limiterSet struct {
	mu     sync.Mutex
	every  rate.Limit
	burst  int
	users  map[int64]*userLimiter
	swept  time.Time
	expiry time.Duration
}

func (s *limiterSet) allow(userID int64, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.swept) > s.expiry {
		for id, u := range s.users {
			if now.Sub(u.seen) > s.expiry {
				delete(s.users, id)
			}
		}
		s.swept = now
	}
	u, ok := s.users[userID]
	if !ok {
		u = &userLimiter{lim: rate.NewLimiter(s.every, s.burst)}
		s.users[userID] = u
	}
	u.seen = now
	return u.lim.AllowN(now, 1)
}

func updateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return "callback"
	case upd.Message != nil:
		return "message"
	}
	return "other"
}

// RateLimitMiddleware drops updates of users that exceed a token bucket of
// Burst updates refilled every Interval.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	set := &limiterSet{
		every:  rate.Every(opts.Interval),
		burst:  max(opts.Burst, 1),
		users:  make(map[int64]*userLimiter),
		expiry: max(idleAfter, opts.Interval),
	}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			if _, ok := opts.Exempt[user.ID]; ok {
				return next(c)
			}
			kind := updateKind(c.Update())
			if _, skip := opts.Exclude[kind]; skip {
				return next(c)
			}
			if set.allow(user.ID, time.Now()) {
				return next(c)
			}

			logger.Warn(tghelpers.BuildContext(c), "tg", "tg.rate_limit",
				slog.String("kind", kind),
				slog.Duration("interval", opts.Interval),
			)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}
