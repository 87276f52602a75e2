package github

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// limitThreshold is the remaining-requests floor. Below this value requests
// are held back until the limit resets.
const limitThreshold = 5

// RateLimit is a snapshot of the API budget as last reported by the server.
type RateLimit struct {
	Limit     uint64
	Remaining uint64
	ResetAt   time.Time
}

// Delay returns how long a request must wait before it may be sent. Zero
// means the request can go out immediately.
func (r RateLimit) Delay(now time.Time) time.Duration {
	if r.Remaining < limitThreshold && now.Before(r.ResetAt) {
		return r.ResetAt.Sub(now)
	}
	return 0
}

// guardedLimit is an RWMutex-guarded rate-limit snapshot shared between the
// goroutines using one client.
type guardedLimit struct {
	mu    sync.RWMutex
	limit RateLimit
}

func (g *guardedLimit) get() RateLimit {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limit
}

func (g *guardedLimit) set(limit RateLimit) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limit = limit
}

// consume records one spent request so the snapshot tracks the budget
// between server reports.
func (g *guardedLimit) consume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.limit.Remaining > 0 {
		g.limit.Remaining--
	}
}

// rateLimitFromHeaders extracts the rate-limit snapshot from the
// X-RateLimit-* response headers of a REST call. Returns false when any of
// the headers is missing or malformed.
func rateLimitFromHeaders(h http.Header) (RateLimit, bool) {
	limit, err := strconv.ParseUint(h.Get("X-RateLimit-Limit"), 10, 64)
	if err != nil {
		return RateLimit{}, false
	}
	remaining, err := strconv.ParseUint(h.Get("X-RateLimit-Remaining"), 10, 64)
	if err != nil {
		return RateLimit{}, false
	}
	reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return RateLimit{}, false
	}
	return RateLimit{
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.Unix(reset, 0),
	}, true
}
