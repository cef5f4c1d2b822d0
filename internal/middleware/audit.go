package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/chatwallet/internal/logging"
)

// SenderLocal is the fiber local under which handlers store the chat sender.
const SenderLocal = "sender"

// Audit emits structured logs for each request/response lifecycle event. The
// chat sender, when a handler recorded one, is logged masked.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Duration("duration", time.Since(start)),
		}
		if requestID := GetRequestID(c); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if sender, _ := c.Locals(SenderLocal).(string); sender != "" {
			attrs = append(attrs, slog.String("sender", logging.MaskOwner(sender)))
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
			logger.Error("request completed", attrs...)
			return err
		}

		logger.Info("request completed", attrs...)
		return nil
	}
}
