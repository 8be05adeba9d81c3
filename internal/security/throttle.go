package security

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chicknneeds-api/internal/observability"
)

const maxTrackedIPs = 5000

// Throttle enforces a coarse per-IP request budget across the whole API.
// It is a fairness layer, not an auth control; the auth package keeps its
// own per-identity attempt limiter.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*throttleEntry
	limit    rate.Limit
	burst    int
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle allows perMinute requests from each client address, with a
// burst of the same size.
func NewThrottle(perMinute int) *Throttle {
	if perMinute <= 0 {
		perMinute = 250
	}

	return &Throttle{
		limiters: make(map[string]*throttleEntry),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
	}
}

func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.allow(observability.ClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "too many requests, please try again later"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (t *Throttle) allow(ip string) bool {
	now := time.Now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.limiters[ip]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[ip] = entry
	}
	entry.lastSeen = now

	if len(t.limiters) > maxTrackedIPs {
		stale := now.Add(-10 * time.Minute)
		for key, value := range t.limiters {
			if value.lastSeen.Before(stale) {
				delete(t.limiters, key)
			}
		}
	}

	return entry.limiter.Allow()
}
