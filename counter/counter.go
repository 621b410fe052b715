// Package counter implements the monotonic 64-bit traffic counters
// routers and links use for their sent/received/forwarded/dropped
// tallies (spec.md §4.2, §4.3). Each counter carries the label it's
// tracking so report lines (router.DumpTrafficStats, link.DumpStats)
// can be built by formatting the counter directly instead of every
// call site repeating "name=%d".
package counter

import "fmt"

// Counter is a labeled 64-bit monotonic counter.
type Counter struct {
	name  string
	count uint64
}

// New creates a zeroed counter identified by name for reporting.
func New(name string) *Counter {
	return &Counter{name: name}
}

// Reset zeroes the counter.
func (c *Counter) Reset() {
	c.count = 0
}

// Increment adds one.
func (c *Counter) Increment() {
	c.count++
}

// Value returns the current count.
func (c *Counter) Value() uint64 {
	return c.count
}

// String implements fmt.Stringer, rendering "name=count" for report lines.
func (c *Counter) String() string {
	return fmt.Sprintf("%s=%d", c.name, c.count)
}
