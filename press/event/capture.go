package event

import "sync"

// CapturePublisher records events in memory. Intended for tests.
type CapturePublisher struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (c *CapturePublisher) Publish(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

// Events returns a copy of everything published so far.
func (c *CapturePublisher) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Named returns all captured events with the given name.
func (c *CapturePublisher) Named(name string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, e := range c.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
