// Package resilience provides the retry primitive wrapped around every remote
// provider call in the voice pipeline.
//
// The central type is [Policy], an exponential-backoff schedule that retries
// only errors classified as transient by [fault.Retryable]. Permanent failures
// (a rejected request, an empty recording, a format mismatch) surface on the
// first attempt; network hiccups and timeouts get a bounded number of
// increasingly spaced retries.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
)

// Policy holds the tuning knobs for retrying a remote call.
type Policy struct {
	// MaxAttempts is the total number of tries including the first.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the wait before the first retry. Default: 1s.
	BaseDelay time.Duration

	// Multiplier scales the delay after each failed attempt. Default: 2.
	Multiplier float64

	// MaxDelay caps the backoff regardless of multiplier growth.
	// Default: 10s.
	MaxDelay time.Duration
}

// DefaultPolicy returns the schedule used for provider calls: three attempts
// spaced 1s then 2s apart.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    10 * time.Second,
	}
}

// withDefaults replaces zero-value fields with the defaults of
// [DefaultPolicy].
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// Do runs fn under the policy, retrying transient failures with exponential
// backoff. A non-retryable error, a nil error, or an exhausted attempt budget
// ends the loop; the last error seen is returned. Backoff sleeps respect ctx,
// so cancelling the pipeline aborts a waiting retry immediately.
//
// op names the protected call in log output (e.g. "stt.transcribe").
func Do[T any](ctx context.Context, log *slog.Logger, op string, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	delay := p.BaseDelay

	for attempt := 1; ; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if !fault.Retryable(err) || attempt >= p.MaxAttempts {
			return zero, err
		}

		log.Warn("transient failure, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"backoff", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return zero, fault.Wrap(fault.KindTimeout, op, ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
