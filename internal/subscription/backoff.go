package subscription

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrRetriesExhausted is returned once a Backoff has used all its attempts.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Backoff produces exponentially growing waits with ±20% jitter.
type Backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	maxRetries int

	current  time.Duration
	attempts int
	jitter   func() float64
}

func NewBackoff(cfg Config) *Backoff {
	return &Backoff{
		initial:    cfg.InitialBackoff,
		max:        cfg.MaxBackoff,
		multiplier: cfg.BackoffMultiplier,
		maxRetries: cfg.MaxRetries,
		current:    cfg.InitialBackoff,
		jitter:     func() float64 { return 0.8 + rand.Float64()*0.4 },
	}
}

// Next returns the next wait, or false when the retry budget is spent.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.maxRetries > 0 && b.attempts >= b.maxRetries {
		return 0, false
	}
	b.attempts++
	d := time.Duration(float64(b.current) * b.jitter())

	b.current = time.Duration(float64(b.current) * b.multiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d, true
}

// Reset starts the sequence over after a success.
func (b *Backoff) Reset() {
	b.current = b.initial
	b.attempts = 0
}

func (b *Backoff) Attempts() int {
	return b.attempts
}

// Wait sleeps for the next backoff interval or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	d, ok := b.Next()
	if !ok {
		return ErrRetriesExhausted
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
