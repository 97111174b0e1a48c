package session

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff computes reconnect delays: initial * 2^(attempt-1), capped at max,
// then spread by ±jitter.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64

	exp     *backoff.ExponentialBackOff
	attempt int
}

// Next returns the delay before the next attempt and advances the attempt counter.
func (b *Backoff) Next() time.Duration {
	if b.exp == nil {
		b.exp = &backoff.ExponentialBackOff{
			InitialInterval:     b.Initial,
			RandomizationFactor: b.Jitter,
			Multiplier:          2,
			MaxInterval:         b.Max,
			Stop:                backoff.Stop,
			Clock:               backoff.SystemClock,
		}
		b.exp.Reset()
	}
	b.attempt++
	return b.exp.NextBackOff()
}

// Attempt returns the number of delays handed out since the last reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset restarts the sequence at the initial delay.
func (b *Backoff) Reset() {
	b.attempt = 0
	if b.exp != nil {
		b.exp.Reset()
	}
}
