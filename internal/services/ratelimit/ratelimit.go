// Package ratelimit throttles authentication attempts per key. Keys are
// opaque; callers typically pass one key per dimension (ip, email) and the
// strictest verdict wins.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"homehub/internal/config"
	"homehub/internal/lib/sl"
)

var ErrTooManyAttempts = errors.New("too many attempts")

// Store tracks failed attempts for a single key.
type Store interface {
	// Check reports whether the key is currently blocked and for how much
	// longer.
	Check(ctx context.Context, key string) (blocked bool, retryAfter time.Duration, err error)
	// Failure records one failed attempt and reports whether the key just
	// crossed the threshold.
	Failure(ctx context.Context, key string) error
	// Success clears the failure counter for the key.
	Success(ctx context.Context, key string) error
}

// Limiter applies the attempt policy across a primary store and a local
// fallback. When the primary store errors the verdict comes from the
// fallback instead of denying service.
type Limiter struct {
	log      *slog.Logger
	primary  Store
	fallback Store
	prefix   string
}

// New builds a limiter over the given primary store. A nil primary means the
// local store handles everything.
func New(log *slog.Logger, primary Store, cfg config.RateLimitConfig) *Limiter {
	local := NewLocalStore(cfg.Window, cfg.MaxAttempts, cfg.Block)
	if primary == nil {
		return &Limiter{log: log, primary: local, prefix: cfg.KeyPrefix}
	}
	return &Limiter{log: log, primary: primary, fallback: local, prefix: cfg.KeyPrefix}
}

func (l *Limiter) key(k string) string {
	return l.prefix + ":" + k
}

// AssertAllowed returns ErrTooManyAttempts when any of the keys is blocked.
func (l *Limiter) AssertAllowed(ctx context.Context, keys ...string) error {
	const op = "ratelimit.AssertAllowed"

	for _, k := range keys {
		blocked, retryAfter, err := l.check(ctx, l.key(k))
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if blocked {
			return fmt.Errorf("%s: %w (retry in %s)", op, ErrTooManyAttempts, retryAfter.Round(time.Second))
		}
	}
	return nil
}

// RegisterFailure records a failed attempt against every key.
func (l *Limiter) RegisterFailure(ctx context.Context, keys ...string) {
	const op = "ratelimit.RegisterFailure"

	for _, k := range keys {
		if err := l.primary.Failure(ctx, l.key(k)); err != nil {
			l.log.Warn("rate limit store unavailable, using fallback", slog.String("op", op), sl.Err(err))
			if l.fallback != nil {
				if err := l.fallback.Failure(ctx, l.key(k)); err != nil {
					l.log.Error("fallback rate limit store failed", slog.String("op", op), sl.Err(err))
				}
			}
		}
	}
}

// RegisterSuccess clears the failure counters for every key.
func (l *Limiter) RegisterSuccess(ctx context.Context, keys ...string) {
	const op = "ratelimit.RegisterSuccess"

	for _, k := range keys {
		if err := l.primary.Success(ctx, l.key(k)); err != nil {
			l.log.Warn("rate limit store unavailable, using fallback", slog.String("op", op), sl.Err(err))
			if l.fallback != nil {
				if err := l.fallback.Success(ctx, l.key(k)); err != nil {
					l.log.Error("fallback rate limit store failed", slog.String("op", op), sl.Err(err))
				}
			}
		}
	}
}

func (l *Limiter) check(ctx context.Context, key string) (bool, time.Duration, error) {
	blocked, retryAfter, err := l.primary.Check(ctx, key)
	if err == nil {
		return blocked, retryAfter, nil
	}

	// Primary store down. Fail open onto the local fallback rather than
	// locking everyone out.
	l.log.Warn("rate limit store unavailable, using fallback", sl.Err(err))
	if l.fallback == nil {
		return false, 0, nil
	}
	return l.fallback.Check(ctx, key)
}
