package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	IPPerMinute    int
	IPBurst        int
	QueuePerMinute int
	QueueBurst     int
}

// RateLimiter applies one token bucket per client IP and another per queue id
// taken from the request path. Owner routes draw from a bucket keyed by queue
// and session so public traffic on a queue cannot starve its owner.
type RateLimiter struct {
	ipLimiter    *tokenLimiter
	queueLimiter *tokenLimiter
	ownerLimiter *tokenLimiter
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		ipLimiter:    newTokenLimiter(cfg.IPPerMinute, cfg.IPBurst),
		queueLimiter: newTokenLimiter(cfg.QueuePerMinute, cfg.QueueBurst),
		ownerLimiter: newTokenLimiter(cfg.QueuePerMinute, cfg.QueueBurst),
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip != "" && !l.ipLimiter.allow(ip) {
			writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		if !l.allowQueue(r) {
			writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allowQueue(r *http.Request) bool {
	if queueID := pathQueueID(r.URL.Path, "/api/admin/queues/"); queueID != "" {
		return l.ownerLimiter.allow(queueID + "|" + sessionIDFromRequest(r))
	}
	if queueID := pathQueueID(r.URL.Path, "/api/queues/"); queueID != "" {
		return l.queueLimiter.allow(queueID)
	}
	return true
}

// tokenLimiter keeps one rate.Limiter per key. Keys idle long enough to have
// refilled to a full burst are dropped, since a fresh limiter is equivalent.
type tokenLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	entries   map[string]*limiterEntry
	lastPrune time.Time
	now       func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newTokenLimiter(perMinute, burst int) *tokenLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	perSecond := float64(perMinute) / 60.0
	idle := time.Duration(float64(burst) / perSecond * float64(time.Second))
	if idle < time.Minute {
		idle = time.Minute
	}
	return &tokenLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    idle,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

func (l *tokenLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *tokenLimiter) prune(now time.Time) {
	if now.Sub(l.lastPrune) < l.idle {
		return
	}
	l.lastPrune = now
	for key, entry := range l.entries {
		if now.Sub(entry.lastSeen) >= l.idle {
			delete(l.entries, key)
		}
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// pathQueueID returns the queue id following prefix, or "" when the segment is
// missing or not a UUID.
func pathQueueID(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	parts := pathParts(path, prefix)
	if len(parts) == 0 || !isValidUUID(parts[0]) {
		return ""
	}
	return parts[0]
}
