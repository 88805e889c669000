package mot

import (
	"sync"
	"time"
)

// Clock abstracts wall clock for components which are not driven by frame timestamps
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is Clock backed by time.Now
var SystemClock Clock = systemClock{}

// FrameClock follows timestamps of processed frames. Monitor advances it on every stamped frame,
// so cooldowns measured with it are in stream time. Until first frame it falls back to time.Now.
type FrameClock struct {
	mu     sync.Mutex
	latest time.Time
}

// NewFrameClock creates clock with no frames observed
func NewFrameClock() *FrameClock {
	return &FrameClock{}
}

// Observe moves clock to the frame timestamp. Clock never goes backwards.
func (c *FrameClock) Observe(ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts.After(c.latest) {
		c.latest = ts
	}
}

// Now returns latest observed frame timestamp
func (c *FrameClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest.IsZero() {
		return time.Now()
	}
	return c.latest
}
