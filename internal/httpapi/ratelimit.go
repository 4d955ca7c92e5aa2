package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	visitorIdleTTL       = 10 * time.Minute
	visitorSweepInterval = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client address. Idle buckets are
// dropped at most once per visitorSweepInterval.
type rateLimiter struct {
	mutex     sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	nowFn     func() time.Time
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		nowFn:    time.Now,
	}
}

func (limiter *rateLimiter) allow(key string) bool {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()
	now := limiter.nowFn()
	if now.Sub(limiter.lastSweep) >= visitorSweepInterval {
		limiter.sweep(now)
	}
	current, ok := limiter.visitors[key]
	if !ok {
		current = &visitor{limiter: rate.NewLimiter(limiter.limit, limiter.burst)}
		limiter.visitors[key] = current
	}
	current.lastSeen = now
	return current.limiter.AllowN(now, 1)
}

func (limiter *rateLimiter) sweep(now time.Time) {
	for visitorKey, existing := range limiter.visitors {
		if now.Sub(existing.lastSeen) > visitorIdleTTL {
			delete(limiter.visitors, visitorKey)
		}
	}
	limiter.lastSweep = now
}

// middleware keys buckets by gin's ClientIP, which only reads forwarding
// headers from the router's trusted proxies.
func (limiter *rateLimiter) middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !limiter.allow(ctx.ClientIP()) {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse(errorCodeRateLimited, "too many requests"))
			return
		}
		ctx.Next()
	}
}
