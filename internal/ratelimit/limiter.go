// Package ratelimit enforces per-user request quotas over fixed windows.
//
// Counters live in a CounterStore so that multiple server instances share the
// same view. The limiter fails closed: if the store cannot be reached, the
// request is denied rather than allowed through unmetered.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CounterStore atomically increments a windowed counter and returns the new
// count. Implementations must make the increment-and-read a single atomic
// step; a read-then-write pair admits excess requests under concurrency.
type CounterStore interface {
	// Incr bumps the counter for key, resetting it first if the window that
	// started at the stored windowStart has already elapsed at now. It
	// returns the post-increment count and the start of the current window.
	Incr(ctx context.Context, key string, window time.Duration, now time.Time) (count int64, windowStart time.Time, err error)

	Close() error
}

// Policy is one named limit: at most Requests per Window.
type Policy struct {
	Name     string
	Requests int
	Window   time.Duration
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed bool

	// Remaining is the number of requests left in the window. Zero when
	// denied.
	Remaining int

	// RetryAfter is how long until the window resets. Only meaningful when
	// denied.
	RetryAfter time.Duration

	// StoreError is set when the decision was a deny caused by a counter
	// store failure rather than an exhausted quota.
	StoreError error
}

// Limiter checks policies against a shared counter store.
type Limiter struct {
	store  CounterStore
	logger *slog.Logger
	now    func() time.Time
}

// NewLimiter builds a limiter on top of the given store.
func NewLimiter(store CounterStore, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		store:  store,
		logger: logger.With("component", "ratelimit"),
		now:    time.Now,
	}
}

// Check consumes one request from the user's quota under the given policy.
// The counter is incremented before the limit comparison, so concurrent
// callers each see their own post-increment count and at most
// policy.Requests of them are allowed per window.
//
// A store error is a deny. An unmetered open gate under store failure would
// let a hot client exhaust downstream LLM quota for every tenant.
func (l *Limiter) Check(ctx context.Context, userID string, policy Policy) Decision {
	key := fmt.Sprintf("%s:%s", policy.Name, userID)

	count, windowStart, err := l.store.Incr(ctx, key, policy.Window, l.now())
	if err != nil {
		l.logger.Error("counter store unavailable, denying request",
			"policy", policy.Name,
			"user_id", userID,
			"error", err,
		)
		return Decision{
			Allowed:    false,
			RetryAfter: policy.Window,
			StoreError: err,
		}
	}

	if count > int64(policy.Requests) {
		return Decision{
			Allowed:    false,
			RetryAfter: time.Until(windowStart.Add(policy.Window)),
		}
	}

	return Decision{
		Allowed:   true,
		Remaining: policy.Requests - int(count),
	}
}
