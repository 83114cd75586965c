package reliability

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("broker busy")

func TestExponentialBackoff(t *testing.T) {
	t.Run("creates with correct defaults", func(t *testing.T) {
		eb := NewExponentialBackoff()

		assert.Equal(t, 3, eb.Attempts)
		assert.Equal(t, time.Second, eb.InitialDelay)
		assert.Equal(t, 2.0, eb.Multiplier)
		assert.Equal(t, 30*time.Second, eb.MaxDelay)
		assert.True(t, eb.Jitter)
		assert.Equal(t, 3, eb.MaxAttempts())
	})

	t.Run("ShouldRetry respects max attempts", func(t *testing.T) {
		eb := NewExponentialBackoff()

		assert.True(t, eb.ShouldRetry(1, errTransient))
		assert.True(t, eb.ShouldRetry(2, errTransient))
		assert.False(t, eb.ShouldRetry(3, errTransient))
		assert.False(t, eb.ShouldRetry(4, errTransient))
	})

	t.Run("ShouldRetry skips non-retryable failures", func(t *testing.T) {
		eb := NewExponentialBackoff()

		assert.False(t, eb.ShouldRetry(1, ErrMalformedInput))
		assert.False(t, eb.ShouldRetry(1, fmt.Errorf("decode: %w", ErrInvalidArgument)))
		assert.False(t, eb.ShouldRetry(1, &PanicError{Value: "boom"}))
		assert.False(t, eb.ShouldRetry(1, Permanent(errTransient)))
	})

	t.Run("ShouldRetry honours the allow-list", func(t *testing.T) {
		timeout := errors.New("timeout")
		eb := NewExponentialBackoff()
		eb.RetryOn = []error{timeout}

		assert.True(t, eb.ShouldRetry(1, fmt.Errorf("call: %w", timeout)))
		assert.False(t, eb.ShouldRetry(1, errTransient))
		assert.False(t, eb.ShouldRetry(3, timeout))
	})

	t.Run("ShouldRetry allow-list overrides permanent classification", func(t *testing.T) {
		eb := NewExponentialBackoff()
		eb.RetryOn = []error{ErrInvalidArgument}

		assert.True(t, eb.ShouldRetry(1, fmt.Errorf("bad request: %w", ErrInvalidArgument)))
		assert.False(t, eb.ShouldRetry(1, ErrMalformedInput))
		assert.False(t, eb.ShouldRetry(3, ErrInvalidArgument))
	})

	t.Run("Delay grows exponentially without jitter", func(t *testing.T) {
		eb := &ExponentialBackoff{
			Attempts:     10,
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     time.Second,
		}

		tests := []struct {
			attempt  int
			expected time.Duration
		}{
			{1, 100 * time.Millisecond},
			{2, 200 * time.Millisecond},
			{3, 400 * time.Millisecond},
			{4, 800 * time.Millisecond},
			{5, time.Second},
			{20, time.Second},
		}

		for _, tt := range tests {
			t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
				assert.Equal(t, tt.expected, eb.Delay(tt.attempt))
			})
		}
	})

	t.Run("Delay with jitter stays within half and one and a half times", func(t *testing.T) {
		eb := NewExponentialBackoff()

		eb.random = func() float64 { return 0 }
		assert.Equal(t, 1000*time.Millisecond, eb.Delay(2))

		eb.random = func() float64 { return 0.999999 }
		assert.Equal(t, 2999*time.Millisecond, eb.Delay(2))

		eb.random = func() float64 { return 0.999999 }
		assert.Equal(t, 30*time.Second, eb.Delay(6), "jitter must not exceed the cap")
	})

	t.Run("Delay is non-decreasing and capped", func(t *testing.T) {
		eb := NewExponentialBackoff()
		eb.Jitter = false

		prev := time.Duration(0)
		for n := 1; n <= 12; n++ {
			d := eb.Delay(n)
			assert.GreaterOrEqual(t, d, prev)
			assert.LessOrEqual(t, d, eb.MaxDelay)
			prev = d
		}
	})

	t.Run("Delay with real jitter never exceeds the cap", func(t *testing.T) {
		eb := NewExponentialBackoff()
		for i := 0; i < 200; i++ {
			n := i%8 + 1
			d := eb.Delay(n)
			assert.LessOrEqual(t, d, eb.MaxDelay)
			assert.Equal(t, time.Duration(0), d%time.Millisecond)
		}
	})
}

func TestFixedDelay(t *testing.T) {
	fd := NewFixedDelay()

	assert.Equal(t, 3, fd.MaxAttempts())
	assert.Equal(t, 5*time.Second, fd.Delay(1))
	assert.Equal(t, 5*time.Second, fd.Delay(7))
	assert.True(t, fd.ShouldRetry(2, ErrMalformedInput))
	assert.False(t, fd.ShouldRetry(3, errTransient))
}

func TestNoRetry(t *testing.T) {
	var p RetryPolicy = NoRetry{}

	assert.Equal(t, 1, p.MaxAttempts())
	assert.Equal(t, time.Duration(0), p.Delay(1))
	assert.False(t, p.ShouldRetry(0, errTransient))
	assert.False(t, p.ShouldRetry(1, errTransient))
}

func TestShouldRetryFalseAtMaxAttemptsForEveryPolicy(t *testing.T) {
	policies := map[string]RetryPolicy{
		"exponential": NewExponentialBackoff(),
		"fixed":       NewFixedDelay(),
		"none":        NoRetry{},
	}

	for name, p := range policies {
		t.Run(name, func(t *testing.T) {
			for attempt := p.MaxAttempts(); attempt < p.MaxAttempts()+5; attempt++ {
				assert.False(t, p.ShouldRetry(attempt, errTransient))
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	var syntaxErr error
	var v any
	syntaxErr = json.Unmarshal([]byte("{"), &v)

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errTransient, true},
		{"malformed input", fmt.Errorf("body: %w", ErrMalformedInput), false},
		{"non retryable sentinel", ErrNonRetryable, false},
		{"json syntax", syntaxErr, false},
		{"panic", &PanicError{Value: "nil map"}, false},
		{"permanent wrapper", Permanent(errTransient), false},
		{"transient wrapper beats category", Transient(ErrMalformedInput), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
