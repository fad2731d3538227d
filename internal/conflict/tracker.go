package conflict

import "sync"

// DefaultTrackerSize сколько последних конфликтов хранится для диагностики
const DefaultTrackerSize = 100

// Tracker keeps the most recent conflicts in a ring buffer.
type Tracker struct {
	items []Info
	next  int
	full  bool
	mu    sync.Mutex
}

// NewTracker creates a tracker holding up to size records.
func NewTracker(size int) *Tracker {
	if size <= 0 {
		size = DefaultTrackerSize
	}
	return &Tracker{items: make([]Info, size)}
}

// Record stores a copy of info, overwriting the oldest record when full.
func (t *Tracker) Record(info *Info) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.items[t.next] = *info
	t.next = (t.next + 1) % len(t.items)
	if t.next == 0 {
		t.full = true
	}
}

// Recent returns the recorded conflicts, oldest first.
func (t *Tracker) Recent() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		out := make([]Info, t.next)
		copy(out, t.items[:t.next])
		return out
	}
	out := make([]Info, 0, len(t.items))
	out = append(out, t.items[t.next:]...)
	out = append(out, t.items[:t.next]...)
	return out
}

// Len returns the number of recorded conflicts.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.full {
		return len(t.items)
	}
	return t.next
}

// Clear drops every record.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = make([]Info, len(t.items))
	t.next = 0
	t.full = false
}
