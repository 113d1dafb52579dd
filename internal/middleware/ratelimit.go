package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/settlus/settlegate/internal/pkg/apperrors"
	"github.com/settlus/settlegate/internal/service"
)

// RateLimitMiddleware applies the per-account token bucket. Must run after
// AuthMiddleware. Anonymous callers have no limiter.
func RateLimitMiddleware(dir *service.AccountDirectory) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := AccountFrom(c)
		if !ok {
			abortWith(c, apperrors.New(apperrors.ErrAuthFailed, "no authenticated account", nil))
			return
		}
		limiter := dir.Limiter(account.Address)
		if limiter == nil {
			c.Next()
			return
		}

		// Reserve 而不是 Allow, 这样可以告诉调用方还要等多久
		r := limiter.Reserve()
		if !r.OK() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "RATE_LIMITED",
				"message": "request exceeds the account burst",
			})
			return
		}
		if delay := r.Delay(); delay > 0 {
			r.Cancel()
			retry := int(math.Ceil(delay.Seconds()))
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":        "RATE_LIMITED",
				"message":     "rate limit exceeded for account " + account.Name,
				"retry_after": retry,
			})
			return
		}
		c.Next()
	}
}
