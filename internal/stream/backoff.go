package stream

import "time"

// Backoff is the reconnect schedule for a frame source.
type Backoff struct {
	MaxRetries int           `yaml:"max_retries"`
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
}

func DefaultBackoff() Backoff {
	return Backoff{
		MaxRetries: 5,
		Initial:    1 * time.Second,
		Max:        30 * time.Second,
	}
}

// Delay returns the wait before attempt n (1-based): Initial * 2^(n-1), capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		return b.Max
	}
	delay := b.Initial * time.Duration(1<<uint(attempt-1))
	if b.Max > 0 && (delay > b.Max || delay <= 0) {
		delay = b.Max
	}
	return delay
}

// Exhausted reports whether attempt exceeds the retry budget.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt > b.MaxRetries
}
