package notification

import "sync"

// DefaultHistorySize is used when a non-positive capacity is requested.
const DefaultHistorySize = 500

// History is a fixed-capacity ring of the most recent events, oldest first.
// It is safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	buf   []Event
	start int
	n     int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{buf: make([]Event, capacity)}
}

// Add appends ev, evicting the oldest event when full.
func (h *History) Add(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = ev
		h.n++
		return
	}
	h.buf[h.start] = ev
	h.start = (h.start + 1) % len(h.buf)
}

// Recent returns the last n events, oldest first. n <= 0 returns none.
func (h *History) Recent(n int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 {
		return []Event{}
	}
	n = min(n, h.n)
	return h.sliceLocked(h.n-n, h.n)
}

func (h *History) All() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sliceLocked(0, h.n)
}

func (h *History) BySession(sessionID string) []Event {
	return h.filter(func(ev Event) bool { return ev.SessionID == sessionID })
}

func (h *History) ByKind(kind Kind) []Event {
	return h.filter(func(ev Event) bool { return ev.Kind == kind })
}

// Clear drops every event; capacity is unchanged.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.buf)
	h.start, h.n = 0, 0
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

func (h *History) Cap() int { return len(h.buf) }

func (h *History) filter(keep func(Event) bool) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := []Event{}
	for i := 0; i < h.n; i++ {
		if ev := h.buf[(h.start+i)%len(h.buf)]; keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// sliceLocked copies logical positions [from, to).
func (h *History) sliceLocked(from, to int) []Event {
	out := make([]Event, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out
}
