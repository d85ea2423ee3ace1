package client

import "time"

// Default reconnect delays.
const (
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// Backoff yields exponentially growing reconnect delays: Initial, 2*Initial,
// 4*Initial and so on, capped at Max. It is not safe for concurrent use.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	attempts int
}

// Next records a failed attempt and returns the delay before the next one.
func (b *Backoff) Next() time.Duration {
	initial, ceiling := b.Initial, b.Max
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if ceiling <= 0 {
		ceiling = DefaultMaxBackoff
	}

	b.attempts++
	d := initial
	for i := 1; i < b.attempts; i++ {
		d *= 2
		if d >= ceiling || d <= 0 {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// Reset clears the attempt counter after a successful connection.
func (b *Backoff) Reset() { b.attempts = 0 }

// Attempts returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int { return b.attempts }
