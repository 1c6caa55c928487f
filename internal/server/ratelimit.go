package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL       = 3 * time.Minute
	limiterSweepInterval = time.Minute
	limiterMaxClients    = 10000
)

// clientLimiter hands out one token bucket per client address.
type clientLimiter struct {
	mu      sync.Mutex
	perMin  int
	burst   int
	clients map[string]*limitedClient
	now     func() time.Time
}

type limitedClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(requestsPerMin, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		perMin:  requestsPerMin,
		burst:   burst,
		clients: make(map[string]*limitedClient),
		now:     time.Now,
	}
}

// allow reports whether the client behind remoteAddr may proceed.
func (l *clientLimiter) allow(remoteAddr string) bool {
	key := clientKey(remoteAddr)
	now := l.now()

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= limiterMaxClients {
			l.evictOldestLocked()
		}
		c = &limitedClient{limiter: rate.NewLimiter(rate.Limit(float64(l.perMin)/60.0), l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	limiter := c.limiter
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

func (l *clientLimiter) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, c := range l.clients {
		if oldestKey == "" || c.lastSeen.Before(oldest) {
			oldestKey, oldest = k, c.lastSeen
		}
	}
	delete(l.clients, oldestKey)
}

// sweep drops clients idle for longer than limiterIdleTTL.
func (l *clientLimiter) sweep() int {
	cutoff := l.now().Add(-limiterIdleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, k)
			removed++
		}
	}
	return removed
}

// run sweeps periodically until ctx is cancelled.
func (l *clientLimiter) run(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (l *clientLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func clientKey(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}

// rateLimitMiddleware answers 429 once a client exhausts its bucket.
func rateLimitMiddleware(next http.Handler, l *clientLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !openPaths[r.URL.Path] && !l.allow(r.RemoteAddr) {
			w.Header().Set("Retry-After", "60")
			writeDetail(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
