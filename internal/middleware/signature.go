package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// SignatureHeader carries hex(HMAC-SHA256(secret, body)), optionally prefixed with "sha256=".
const SignatureHeader = "X-Webhook-Signature"

// WebhookSignature rejects requests whose body is not signed with secret.
// An empty secret disables the check.
func WebhookSignature(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}
		got := strings.TrimPrefix(strings.TrimSpace(c.Get(SignatureHeader)), "sha256=")
		sig, err := hex.DecodeString(got)
		if got == "" || err != nil {
			return fiber.NewError(http.StatusUnauthorized, "missing or malformed signature")
		}
		if !hmac.Equal(sig, Sign([]byte(secret), c.Body())) {
			return fiber.NewError(http.StatusUnauthorized, "signature mismatch")
		}
		return c.Next()
	}
}

// Sign computes the webhook signature of body.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
