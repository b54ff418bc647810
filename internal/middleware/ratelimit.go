package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// UserRateLimiter hands out one token bucket per user.
type UserRateLimiter struct {
	mu    sync.Mutex
	m     map[int]*rate.Limiter
	rps   float64
	burst int
}

// NewUserRateLimiter builds a limiter; non-positive values fall back to 5 rps, burst 10.
func NewUserRateLimiter(rps float64, burst int) *UserRateLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &UserRateLimiter{m: make(map[int]*rate.Limiter), rps: rps, burst: burst}
}

func (l *UserRateLimiter) get(userID int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.m[userID]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.m[userID] = lim
	return lim
}

// Allow consumes one token for userID.
func (l *UserRateLimiter) Allow(userID int) bool {
	return l.get(userID).Allow()
}

// RateLimit rejects requests from a user that exceeded their budget. It must
// run after AuthMiddleware.
func RateLimit(l *UserRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.GetInt("userID")) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": "too many messages, slow down"})
			return
		}
		c.Next()
	}
}
