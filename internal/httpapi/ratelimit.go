package httpapi

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type RateLimitConfig struct {
	IPPerMinute   int
	IPBurst       int
	UserPerMinute int
	UserBurst     int
}

// RateLimiter applies a token bucket per client IP and, for signed-in
// callers, per user. It must run inside AuthMiddleware to see the user.
type RateLimiter struct {
	limits []keyedLimit
}

type keyedLimit struct {
	key     func(r *http.Request) string
	buckets *bucketSet
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{limits: []keyedLimit{
		{key: clientIP, buckets: newBucketSet(cfg.IPPerMinute, cfg.IPBurst)},
		{key: sessionUserKey, buckets: newBucketSet(cfg.UserPerMinute, cfg.UserBurst)},
	}}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, limit := range l.limits {
			key := limit.key(r)
			if key == "" {
				continue
			}
			if wait, ok := limit.buckets.take(key); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func sessionUserKey(r *http.Request) string {
	if session, ok := sessionFromContext(r.Context()); ok {
		return session.UserID
	}
	return ""
}

// bucketSet holds one token bucket per key. Buckets idle long enough to have
// refilled completely are dropped on the next sweep.
type bucketSet struct {
	mu        sync.Mutex
	perSecond float64
	burst     float64
	buckets   map[string]*tokenBucket
	lastSweep time.Time
	now       func() time.Time
}

type tokenBucket struct {
	tokens float64
	seen   time.Time
}

func newBucketSet(perMinute, burst int) *bucketSet {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	return &bucketSet{
		perSecond: float64(perMinute) / 60.0,
		burst:     float64(burst),
		buckets:   make(map[string]*tokenBucket),
		now:       time.Now,
	}
}

// take spends one token for key. When none is left it reports how long until
// the next token is available.
func (s *bucketSet) take(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	b, ok := s.buckets[key]
	if !ok {
		s.buckets[key] = &tokenBucket{tokens: s.burst - 1, seen: now}
		return 0, true
	}
	b.tokens = math.Min(s.burst, b.tokens+now.Sub(b.seen).Seconds()*s.perSecond)
	b.seen = now
	if b.tokens < 1 {
		missing := (1 - b.tokens) / s.perSecond
		return time.Duration(missing * float64(time.Second)), false
	}
	b.tokens--
	return 0, true
}

func (s *bucketSet) sweep(now time.Time) {
	refill := time.Duration(s.burst / s.perSecond * float64(time.Second))
	if now.Sub(s.lastSweep) < refill {
		return
	}
	s.lastSweep = now
	for key, b := range s.buckets {
		if now.Sub(b.seen) >= refill {
			delete(s.buckets, key)
		}
	}
}

// clientIP prefers the first X-Forwarded-For hop set by the ingress.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
