package reliability

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait before the next one. Attempts are numbered from 1.
type RetryPolicy interface {
	// ShouldRetry reports whether another attempt follows attempt.
	ShouldRetry(attempt int, err error) bool
	// Delay returns the wait before the attempt after attempt, in whole milliseconds.
	Delay(attempt int) time.Duration
	// MaxAttempts returns the total number of attempts, including the first.
	MaxAttempts() int
}

const (
	DefaultExponentialAttempts = 3
	DefaultInitialDelay        = time.Second
	DefaultMultiplier          = 2.0
	DefaultMaxDelay            = 30 * time.Second

	DefaultFixedAttempts = 3
	DefaultFixedDelay    = 5 * time.Second
)

// ExponentialBackoff waits InitialDelay*Multiplier^(attempt-1), capped at
// MaxDelay. With Jitter the wait is drawn uniformly from [0.5d, 1.5d] and
// capped again.
type ExponentialBackoff struct {
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
	// RetryOn, when set, retries exactly the errors matching one of its
	// entries, permanent or not. When empty, every error not classified as
	// permanent is retried.
	RetryOn []error

	random func() float64
}

// NewExponentialBackoff returns the default policy: 3 attempts, 1s initial
// delay doubling up to 30s, with jitter.
func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Attempts:     DefaultExponentialAttempts,
		InitialDelay: DefaultInitialDelay,
		Multiplier:   DefaultMultiplier,
		MaxDelay:     DefaultMaxDelay,
		Jitter:       true,
	}
}

func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) bool {
	if attempt >= e.Attempts {
		return false
	}
	if len(e.RetryOn) > 0 {
		return matches(err, e.RetryOn)
	}
	return IsRetryable(err)
}

func (e *ExponentialBackoff) MaxAttempts() int {
	return e.Attempts
}

func (e *ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	maxMs := float64(e.MaxDelay.Milliseconds())
	ms := float64(e.InitialDelay.Milliseconds()) * math.Pow(e.Multiplier, float64(attempt-1))
	if ms > maxMs {
		ms = maxMs
	}

	if e.Jitter {
		r := rand.Float64
		if e.random != nil {
			r = e.random
		}
		ms = ms*0.5 + ms*r()
		if ms > maxMs {
			ms = maxMs
		}
	}

	return time.Duration(int64(ms)) * time.Millisecond
}

// FixedDelay waits the same Wait between every attempt. It retries any
// error, permanent or not, until Attempts is reached.
type FixedDelay struct {
	Attempts int
	Wait     time.Duration
}

// NewFixedDelay returns the default policy: 3 attempts, 5s apart.
func NewFixedDelay() *FixedDelay {
	return &FixedDelay{
		Attempts: DefaultFixedAttempts,
		Wait:     DefaultFixedDelay,
	}
}

func (f *FixedDelay) ShouldRetry(attempt int, _ error) bool {
	return attempt < f.Attempts
}

func (f *FixedDelay) MaxAttempts() int {
	return f.Attempts
}

func (f *FixedDelay) Delay(int) time.Duration {
	return f.Wait.Truncate(time.Millisecond)
}

// NoRetry gives every message exactly one attempt.
type NoRetry struct{}

func (NoRetry) ShouldRetry(int, error) bool { return false }

func (NoRetry) MaxAttempts() int { return 1 }

func (NoRetry) Delay(int) time.Duration { return 0 }

func matches(err error, allow []error) bool {
	if len(allow) == 0 {
		return true
	}
	for _, target := range allow {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
