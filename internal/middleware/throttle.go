package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const throttlePrefix = "rl:inbound:"

// ThrottleFirstLocal is set to true on the first throttled request of a
// sender's window, so onLimit can tell the sender once instead of per message.
const ThrottleFirstLocal = "throttle_first"

// Throttle limits requests per sender to maxPerMin using a Redis counter.
// sender extracts the identity (falls back to the client IP); onLimit, when
// set, answers throttled requests instead of a 429.
func Throttle(cache *redis.Client, maxPerMin int, sender KeyFunc, onLimit fiber.Handler) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 20
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next() // no-op without Redis
		}
		id := ""
		if sender != nil {
			id = strings.TrimSpace(sender(c))
		}
		if id == "" {
			id = c.IP()
		}
		key := throttlePrefix + id
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			if onLimit != nil {
				c.Locals(ThrottleFirstLocal, cnt == int64(maxPerMin)+1)
				return onLimit(c)
			}
			return fiber.NewError(http.StatusTooManyRequests, "too many messages, try again later")
		}
		return c.Next()
	}
}
