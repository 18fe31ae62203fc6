package broker

import (
	"sync"
	"time"
)

// DefaultEventsPerMinute is the inbound budget per participant
const DefaultEventsPerMinute = 300

// RateLimiter implements per-participant fixed-window rate limiting
// FUNCTIONAL DISCOVERY: The window restarts on the first event after it
// expires, so an idle participant always gets a full budget back.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimit
}

type clientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit events per window for each participant. A
// non-positive limit disables limiting.
func NewRateLimiter(limit int, window time.Duration, now func() time.Time) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     now,
		clients: make(map[string]*clientLimit),
	}
}

// Allow reports whether participantID may send one more event
func (rl *RateLimiter) Allow(participantID string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, ok := rl.clients[participantID]
	if !ok || now.Sub(cl.windowStart) >= rl.window {
		rl.clients[participantID] = &clientLimit{count: 1, windowStart: now}
		return true
	}
	if cl.count >= rl.limit {
		return false
	}
	cl.count++
	return true
}

// Forget drops the participant's window, used on disconnect
func (rl *RateLimiter) Forget(participantID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, participantID)
}

// Cleanup removes windows idle for more than five window lengths
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for id, cl := range rl.clients {
		if now.Sub(cl.windowStart) > 5*rl.window {
			delete(rl.clients, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked participants
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
