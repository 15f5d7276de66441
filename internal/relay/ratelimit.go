package relay

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// admissionLimiter throttles repeated failed admission attempts per source
// IP, independent of the per-connection write-queue back-pressure handled by
// socketWriter. One token bucket per IP, spent on each failure; buckets idle
// for more than idleEvictAfter are reclaimed on the next sweep so the map
// does not grow without bound against a scanning attacker.
type admissionLimiter struct {
	mu      sync.Mutex
	buckets map[string]*limiterEntry
	rate    rate.Limit
	burst   int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const idleEvictAfter = 10 * time.Minute

func newAdmissionLimiter(perSecond float64, burst int) *admissionLimiter {
	return &admissionLimiter{
		buckets: make(map[string]*limiterEntry),
		rate:    rate.Limit(perSecond),
		burst:   burst,
	}
}

// recordFailure spends one token from ip's bucket, called after a failed
// admission check (bad origin, bad/missing bearer token).
func (l *admissionLimiter) recordFailure(ip string) {
	l.entry(ip).limiter.Allow()
}

// allow reports whether ip still has budget left, without spending any.
// Checked before even attempting admission, so a source that has already
// exhausted its budget from prior failures gets the upgrade attempt closed
// early instead of going through another origin/token check.
func (l *admissionLimiter) allow(ip string) bool {
	return l.entry(ip).limiter.Tokens() >= 1
}

func (l *admissionLimiter) entry(ip string) *limiterEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.buckets[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[ip] = e
	}
	e.lastSeen = time.Now()
	l.evictLocked()
	return e
}

// evictLocked drops buckets that have been idle past idleEvictAfter. Called
// under mu from entry, so it only ever does a little work per call rather
// than needing its own background goroutine.
func (l *admissionLimiter) evictLocked() {
	if len(l.buckets) < 1024 {
		return
	}
	cutoff := time.Now().Add(-idleEvictAfter)
	for ip, e := range l.buckets {
		if e.lastSeen.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}

// mcpLogLimiter throttles POST /mcp-log independent of per-IP admission
// failures: it is a single shared bucket, since the endpoint has no
// per-client identity beyond the body it is handed.
type mcpLogLimiter struct {
	limiter *rate.Limiter
}

func newMcpLogLimiter(perSecond float64) *mcpLogLimiter {
	if perSecond <= 0 {
		perSecond = 60
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &mcpLogLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *mcpLogLimiter) allow() bool {
	return l.limiter.Allow()
}
