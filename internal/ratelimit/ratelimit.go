package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"
)

// Limiter is a token bucket refilled at rate tokens per second, holding at
// most burst tokens. It starts full.
type Limiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	return newLimiter(rate, burst, time.Now)
}

func newLimiter(rate float64, burst int, now func() time.Time) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: now(),
		now:        now,
	}
}

func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.tokens += now.Sub(l.lastUpdate).Seconds() * l.rate
	l.lastUpdate = now
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}

	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}
	return false
}

type keyedEntry struct {
	limiter  *Limiter
	lastSeen time.Time
}

// Keyed hands out one Limiter per key (a client IP for HTTP routes) and
// forgets keys that have been idle for longer than idle.
type Keyed struct {
	rate  float64
	burst int
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*keyedEntry

	stop     chan struct{}
	stopOnce sync.Once
}

func NewKeyed(rate float64, burst int, idle time.Duration) *Keyed {
	k := newKeyed(rate, burst, idle, time.Now)
	go k.cleanup()
	return k
}

func newKeyed(rate float64, burst int, idle time.Duration, now func() time.Time) *Keyed {
	return &Keyed{
		rate:    rate,
		burst:   burst,
		idle:    idle,
		now:     now,
		entries: make(map[string]*keyedEntry),
		stop:    make(chan struct{}),
	}
}

func (k *Keyed) Get(key string) *Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{limiter: newLimiter(k.rate, k.burst, k.now)}
		k.entries[key] = e
	}
	e.lastSeen = k.now()
	return e.limiter
}

func (k *Keyed) Stop() {
	k.stopOnce.Do(func() { close(k.stop) })
}

func (k *Keyed) cleanup() {
	ticker := time.NewTicker(k.idle)
	defer ticker.Stop()

	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			k.sweep()
		}
	}
}

func (k *Keyed) sweep() {
	k.mu.Lock()
	defer k.mu.Unlock()
	cutoff := k.now().Add(-k.idle)
	for key, e := range k.entries {
		if e.lastSeen.Before(cutoff) {
			delete(k.entries, key)
		}
	}
}

// Middleware rejects requests with 429 once the caller's IP runs out of
// tokens
func (k *Keyed) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if !k.Get(ip).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
