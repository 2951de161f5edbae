package middleware

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// idleTTL is how long a client IP may stay silent before its bucket is evicted
const idleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

type rateLimiter struct {
	bucket    map[string]*visitor
	rate      rate.Limit
	burstSize int
	mutex     *sync.RWMutex
	lastPrune time.Time
	now       func() time.Time
}

func newRateLimiter(reqRate float64, burstSize int) *rateLimiter {
	return &rateLimiter{
		bucket:    make(map[string]*visitor),
		rate:      rate.Limit(reqRate),
		burstSize: burstSize,
		mutex:     &sync.RWMutex{},
		lastPrune: time.Now(),
		now:       time.Now,
	}
}

func (r *rateLimiter) GetLimiterFrom(ip string) *rate.Limiter {
	now := r.now()

	r.mutex.RLock()
	v, exist := r.bucket[ip]
	r.mutex.RUnlock()
	if exist {
		v.lastSeen.Store(now.UnixNano())
		return v.limiter
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if now.Sub(r.lastPrune) >= idleTTL {
		r.prune(now)
	}

	v, exist = r.bucket[ip]
	if !exist {
		v = &visitor{limiter: rate.NewLimiter(r.rate, r.burstSize)}
		r.bucket[ip] = v
	}
	v.lastSeen.Store(now.UnixNano())

	return v.limiter
}

// prune drops buckets idle for longer than idleTTL. Caller holds the write lock.
func (r *rateLimiter) prune(now time.Time) {
	cutoff := now.Add(-idleTTL).UnixNano()
	for ip, v := range r.bucket {
		if v.lastSeen.Load() < cutoff {
			delete(r.bucket, ip)
		}
	}
	r.lastPrune = now
}

func (m *middleware) NewRateLimiter(ctx *fiber.Ctx) error {
	if m.rateLimiter == nil {
		return ctx.Next()
	}

	clientIP := ctx.IP()
	limiter := m.rateLimiter.GetLimiterFrom(clientIP)

	if !limiter.Allow() {
		m.log.Warnf("too many requests for IP %s", clientIP)
		return ctx.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "Too many requests",
		})
	}

	return ctx.Next()
}
