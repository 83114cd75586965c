package messaging

import (
	"sync"
	"time"
)

const (
	// HeaderPublishedAt carries the publish time of every Bus message.
	HeaderPublishedAt = "published_at"
	// PublishedAtLayout formats HeaderPublishedAt, microsecond precision.
	PublishedAtLayout = "2006-01-02 15:04:05.000000"
)

// Clock supplies the publish timestamp.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FakeClock is a settable clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock stopped at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FormatPublishedAt renders t the way HeaderPublishedAt expects.
func FormatPublishedAt(t time.Time) string {
	return t.Format(PublishedAtLayout)
}
