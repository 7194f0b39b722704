package lease

import "time"

// backoff doubles the delay on every attempt until it reaches max.
type backoff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

func newBackoff(base, maximum time.Duration) *backoff {
	if base <= 0 {
		base = time.Second
	}

	if maximum < base {
		maximum = base
	}

	return &backoff{base: base, max: maximum}
}

// Next returns the delay for the current attempt and advances the counter.
func (b *backoff) Next() time.Duration {
	delay := b.base << uint(b.attempt) //nolint:gosec // attempt stops growing once the cap is hit.
	if delay <= 0 || delay > b.max {
		return b.max
	}

	b.attempt++

	return delay
}
