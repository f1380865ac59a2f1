// Package httpmiddleware carries cross-cutting gin middleware: rate
// limiting and response headers.
package httpmiddleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimit enforces a fixed-window per-client-IP request limit. With a
// Redis client the window counters are shared across instances; without
// one an in-process fallback applies.
func RateLimit(rdb *redis.Client, perMinute int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if rdb == nil {
		return localRateLimit(perMinute)
	}
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := fmt.Sprintf("ratelimit:%s:%d", c.ClientIP(), time.Now().Unix()/60)
		n, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			// Redis being down should not take requests with it.
			c.Next()
			return
		}
		if n == 1 {
			rdb.Expire(ctx, key, 90*time.Second)
		}
		if n > int64(perMinute) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func localRateLimit(perMinute int) gin.HandlerFunc {
	var mu sync.Mutex
	counts := make(map[string]int)
	window := time.Now().Unix() / 60
	return func(c *gin.Context) {
		mu.Lock()
		now := time.Now().Unix() / 60
		if now != window {
			window = now
			counts = make(map[string]int)
		}
		counts[c.ClientIP()]++
		over := counts[c.ClientIP()] > perMinute
		mu.Unlock()
		if over {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
