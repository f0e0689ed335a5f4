package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"golang.org/x/time/rate"

	"github.com/cambiowatch/cambiowatch/internal/metrics"
)

// ClientLimiter is a token bucket per client IP: limit requests per window,
// refilled evenly, with the full limit available as burst.
type ClientLimiter struct {
	limit  int
	window time.Duration
	every  rate.Limit
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*clientEntry
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter returns a limiter allowing limit requests per window per
// client. limit <= 0 disables limiting.
func NewClientLimiter(limit int, window time.Duration) *ClientLimiter {
	if window <= 0 {
		window = 15 * time.Minute
	}
	every := rate.Inf
	if limit > 0 {
		every = rate.Limit(float64(limit) / window.Seconds())
	}
	return &ClientLimiter{
		limit:   limit,
		window:  window,
		every:   every,
		now:     time.Now,
		clients: make(map[string]*clientEntry),
	}
}

// Allow reports whether key may make a request now, and how long to wait
// when it may not.
func (l *ClientLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil || l.limit <= 0 {
		return true, 0
	}
	now := l.now()

	l.mu.Lock()
	entry, ok := l.clients[key]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(l.every, l.limit)}
		l.clients[key] = entry
	}
	entry.lastSeen = now
	l.evictLocked(now)
	l.mu.Unlock()

	res := entry.limiter.ReserveN(now, 1)
	delay := res.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	res.CancelAt(now)
	return false, delay
}

// evictLocked drops clients idle for a full window; their bucket is full again.
func (l *ClientLimiter) evictLocked(now time.Time) {
	if len(l.clients) < 1024 {
		return
	}
	for key, e := range l.clients {
		if now.Sub(e.lastSeen) > l.window {
			delete(l.clients, key)
		}
	}
}

// Middleware rejects clients over their budget with 429 and Retry-After.
func (l *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.Allow(remoteHost(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeJSONError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	envelope := errors.NewErrorEnvelope(code, message).WithCorrelationID(GetRequestID(r.Context()))
	metrics.RecordAPIError(getEndpointPattern(r), code, status)
	writeEnvelope(w, envelope, status)
}
