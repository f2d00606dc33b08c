package bus

import (
	"sync"
	"time"
)

// DedupWindow remembers envelope ids for a fixed window so redelivered
// messages can be dropped before dispatch. Records older than the window
// are purged on write, keeping the set bounded by the inbound rate.
type DedupWindow struct {
	window time.Duration

	mu        sync.Mutex
	seen      map[string]time.Time
	lastPurge time.Time
}

// NewDedupWindow creates a dedup window of the given duration.
func NewDedupWindow(window time.Duration) *DedupWindow {
	return &DedupWindow{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Observe records id at now and reports whether it was already seen within
// the window. An id whose previous sighting has aged out counts as new and
// gets a fresh timestamp.
func (d *DedupWindow) Observe(id string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if now.Sub(d.lastPurge) >= d.window {
		for k, ts := range d.seen {
			if now.Sub(ts) >= d.window {
				delete(d.seen, k)
			}
		}
		d.lastPurge = now
	}

	if ts, ok := d.seen[id]; ok && now.Sub(ts) < d.window {
		return true
	}
	d.seen[id] = now
	return false
}

// Len returns the number of retained records.
func (d *DedupWindow) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
