package playback

import "time"

// Clock derives the playhead from a monotonic host clock.
// While running, position = host() - startHost. When stopped it holds a frozen value.
// A Clock is owned by one goroutine and is not safe for concurrent use.
type Clock struct {
	host      func() time.Duration
	running   bool
	startHost time.Duration
	frozen    time.Duration
}

func NewClock(host func() time.Duration) *Clock {
	return &Clock{host: host}
}

// Start resumes from the frozen position.
func (c *Clock) Start() {
	if c.running {
		return
	}
	c.startHost = c.host() - c.frozen
	c.running = true
}

// Stop freezes the clock at its current position.
func (c *Clock) Stop() {
	if !c.running {
		return
	}
	c.frozen = c.Position()
	c.running = false
}

// Set stops the clock and freezes it at t.
func (c *Clock) Set(t time.Duration) {
	if t < 0 {
		t = 0
	}
	c.frozen = t
	c.running = false
}

func (c *Clock) Position() time.Duration {
	if !c.running {
		return c.frozen
	}
	return c.host() - c.startHost
}

func (c *Clock) Running() bool {
	return c.running
}
