package card

import (
    "context"
    "math/rand"
    "time"
)

const (
    defaultMaxAttempts = 3
    defaultBaseDelay   = 10 * time.Millisecond
)

// SleepFunc suspends the caller for d. It returns a non-nil error when ctx
// ends first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Backoff is the bounded retry policy applied on version conflicts.
type Backoff struct {
    // MaxAttempts counts every attempt, the first one included.
    MaxAttempts int
    Base        time.Duration
    Sleep       SleepFunc
    // Jitter returns a value in [0, n). Defaults to math/rand.
    Jitter func(n int64) int64
}

// DefaultBackoff returns 3 attempts with a 10ms base delay.
func DefaultBackoff() Backoff {
    return Backoff{MaxAttempts: defaultMaxAttempts, Base: defaultBaseDelay}
}

// NoDelay returns b with a sleep that never blocks.
func (b Backoff) NoDelay() Backoff {
    b.Sleep = func(context.Context, time.Duration) error { return nil }
    return b
}

// Delay is the pause after the given failed attempt: base plus a random share
// of base*attempt, so the window widens with each collision.
func (b Backoff) Delay(attempt int) time.Duration {
    b = b.withDefaults()
    window := int64(b.Base) * int64(attempt)
    if window <= 0 {
        return b.Base
    }
    return b.Base + time.Duration(b.Jitter(window))
}

// Wait sleeps for Delay(attempt).
func (b Backoff) Wait(ctx context.Context, attempt int) error {
    b = b.withDefaults()
    return b.Sleep(ctx, b.Delay(attempt))
}

func (b Backoff) withDefaults() Backoff {
    if b.MaxAttempts <= 0 {
        b.MaxAttempts = defaultMaxAttempts
    }
    if b.Base <= 0 {
        b.Base = defaultBaseDelay
    }
    if b.Sleep == nil {
        b.Sleep = sleepContext
    }
    if b.Jitter == nil {
        b.Jitter = rand.Int63n
    }
    return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
    timer := time.NewTimer(d)
    defer timer.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-timer.C:
        return nil
    }
}
