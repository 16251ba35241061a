package middleware

import (
	"optifocus/pkg/handlerUtil"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an IP's bucket survives without requests.
const limiterIdleTTL = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	bucket    map[string]*visitor
	rate      rate.Limit
	burstSize int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
	mutex     *sync.Mutex
}

func newRateLimiter(reqRate rate.Limit, burstSize int) *rateLimiter {
	return &rateLimiter{
		bucket:    make(map[string]*visitor),
		rate:      reqRate,
		burstSize: burstSize,
		idleTTL:   limiterIdleTTL,
		lastSweep: time.Now(),
		now:       time.Now,
		mutex:     &sync.Mutex{},
	}
}

func (r *rateLimiter) GetLimiterFrom(ip string) *rate.Limiter {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	if now.Sub(r.lastSweep) >= r.idleTTL {
		r.evictIdle(now)
	}

	v, exist := r.bucket[ip]
	if !exist {
		v = &visitor{limiter: rate.NewLimiter(r.rate, r.burstSize)}
		r.bucket[ip] = v
	}
	v.lastSeen = now

	return v.limiter
}

// evictIdle drops buckets unused for idleTTL. Caller holds the mutex.
func (r *rateLimiter) evictIdle(now time.Time) {
	for ip, v := range r.bucket {
		if now.Sub(v.lastSeen) >= r.idleTTL {
			delete(r.bucket, ip)
		}
	}
	r.lastSweep = now
}

func (r *rateLimiter) size() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return len(r.bucket)
}

func (m *middleware) NewRateLimiter(ctx *fiber.Ctx) error {
	clientIP := ctx.IP()
	limiter := m.rateLimitter.GetLimiterFrom(clientIP)

	if !limiter.Allow() {
		m.log.Warnf("too many requests for IP %s", clientIP)
		return ctx.Status(fiber.StatusTooManyRequests).JSON(handlerUtil.ErrorResponse{
			Status: handlerUtil.StatusError,
			Error:  "too many requests",
		})
	}

	return ctx.Next()
}
