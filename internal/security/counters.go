package security

import "time"

// windowCounter counts occurrences per key in fixed windows. A window opens on the first
// increment after the previous one expired. Not safe for concurrent use; the monitor
// holds its lock around every call.
type windowCounter struct {
	window time.Duration
	counts map[string]*windowCount
}

type windowCount struct {
	n     int
	start time.Time
}

func newWindowCounter(window time.Duration) *windowCounter {
	return &windowCounter{window: window, counts: map[string]*windowCount{}}
}

func (c *windowCounter) incr(key string, now time.Time) int {
	wc, ok := c.counts[key]
	if !ok || now.Sub(wc.start) >= c.window {
		wc = &windowCount{start: now}
		c.counts[key] = wc
	}
	wc.n++
	return wc.n
}

func (c *windowCounter) get(key string, now time.Time) int {
	wc, ok := c.counts[key]
	if !ok || now.Sub(wc.start) >= c.window {
		return 0
	}
	return wc.n
}

func (c *windowCounter) reset(key string) {
	delete(c.counts, key)
}

// prune drops expired windows and returns how many were removed.
func (c *windowCounter) prune(now time.Time) int {
	removed := 0
	for k, wc := range c.counts {
		if now.Sub(wc.start) >= c.window {
			delete(c.counts, k)
			removed++
		}
	}
	return removed
}
