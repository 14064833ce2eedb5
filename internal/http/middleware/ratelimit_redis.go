package middleware

import (
	"net/http"
	"strconv"
	"time"

	"packmarket/internal/metrics"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
)

// RedisRateLimit implements a fixed-window rate limiter using Redis INCR/EXPIRE.
// key format: rl:<window_seconds>:<ip>
// A nil client falls back to the in-process limiter.
func RedisRateLimit(rdb *redis.Client, maxRequests int, window time.Duration) gin.HandlerFunc {
	if rdb == nil {
		return SimpleRateLimit(maxRequests, window)
	}
	return func(c *gin.Context) {
		key := "rl:" + strconv.FormatInt(int64(window.Seconds()), 10) + ":" + c.ClientIP()
		limit(c, rdb, key, c.FullPath(), maxRequests, window)
	}
}

// UserRateLimit limits a single action per authenticated user (not per IP).
// Requires JWT middleware to run before this. Fails open when Redis is absent.
func UserRateLimit(rdb *redis.Client, action string, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := c.Get("user_id")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
			return
		}
		uid, ok := userID.(int64)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid user", "code": "unauthorized"})
			return
		}
		if rdb == nil {
			c.Next()
			return
		}
		key := "rl:" + action + ":" + strconv.FormatInt(uid, 10) + ":" + strconv.FormatInt(int64(window.Seconds()), 10)
		limit(c, rdb, key, action+":"+c.FullPath(), maxRequests, window)
	}
}

func limit(c *gin.Context, rdb *redis.Client, key, endpoint string, maxRequests int, window time.Duration) {
	ctx := c.Request.Context()

	val, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		// fail-open
		c.Header("X-RateLimit-Error", "redis-error")
		c.Next()
		return
	}
	if val == 1 {
		rdb.Expire(ctx, key, window)
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(max(0, int64(maxRequests)-val), 10))

	if val > int64(maxRequests) {
		metrics.RLBlocked.WithLabelValues(endpoint).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate limit exceeded",
			"code":        "rate_limited",
			"retry_after": int(window.Seconds()),
		})
		return
	}

	metrics.RLRequests.WithLabelValues(endpoint).Inc()
	c.Next()
}
