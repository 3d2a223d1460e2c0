package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefixes for attempt counters.
const (
	LoginFailPrefix = "login_fail:"
	TOTPFailPrefix  = "totp_fail:"
)

// AttemptLimiter spends a per-key budget of attempts inside a fixed window.
//
// An attempt is reserved before the credential or code is checked, so
// concurrent guesses cannot all slip in under the limit before any failure
// is counted. A successful attempt gives the budget back with Reset.
type AttemptLimiter interface {
	// Reserve counts one attempt for key and reports whether it is still
	// within the budget. A refused attempt must not be checked.
	Reserve(ctx context.Context, key string) bool

	// Reset clears the counter after a successful attempt.
	Reset(ctx context.Context, key string)
}

// reserveScript increments the counter and starts the window on the first
// attempt in one atomic step. Two round trips would leave a counter with
// no expiry behind if the EXPIRE were lost, locking the key out for good.
var reserveScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// redisLimiter implements AttemptLimiter with Redis counters. Redis errors
// are logged and the attempt is let through: an unavailable Redis must not
// lock every user out. The per-IP limits still apply in that case.
type redisLimiter struct {
	rdb    redis.Cmdable
	prefix string
	max    int
	window time.Duration
}

// NewRedisLimiter creates a limiter whose keys live under prefix. A max of
// zero or less disables limiting.
func NewRedisLimiter(rdb redis.Cmdable, prefix string, max int, window time.Duration) AttemptLimiter {
	if rdb == nil || max <= 0 {
		return noopLimiter{}
	}
	return &redisLimiter{rdb: rdb, prefix: prefix, max: max, window: window}
}

func (l *redisLimiter) Reserve(ctx context.Context, key string) bool {
	n, err := reserveScript.Run(ctx, l.rdb, []string{l.prefix + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		slog.Warn("attempt limiter reserve failed",
			slog.String("key", l.prefix+key),
			slog.Any("error", err),
		)
		return true
	}
	return n <= int64(l.max)
}

func (l *redisLimiter) Reset(ctx context.Context, key string) {
	if err := l.rdb.Del(ctx, l.prefix+key).Err(); err != nil {
		slog.Warn("attempt limiter reset failed",
			slog.String("key", l.prefix+key),
			slog.Any("error", err),
		)
	}
}

// noopLimiter never refuses.
type noopLimiter struct{}

func (noopLimiter) Reserve(context.Context, string) bool { return true }
func (noopLimiter) Reset(context.Context, string)        {}
