package middleware

import (
	"bytes"
	"encoding/hex"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/chatwallet/internal/logging"
)

func TestWebhookSignature(t *testing.T) {
	app := fiber.New()
	app.Use(WebhookSignature("s3cret"))
	app.Post("/hook", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	body := `{"dataType":"message"}`
	cases := map[string]int{
		"":        fiber.StatusUnauthorized,
		"zz":      fiber.StatusUnauthorized,
		"00ff":    fiber.StatusUnauthorized,
		"sha256=" + hex.EncodeToString(Sign([]byte("s3cret"), []byte(body))): fiber.StatusOK,
		hex.EncodeToString(Sign([]byte("s3cret"), []byte(body))):             fiber.StatusOK,
	}
	for sig, want := range cases {
		req := httptest.NewRequest(fiber.MethodPost, "/hook", strings.NewReader(body))
		if sig != "" {
			req.Header.Set(SignatureHeader, sig)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != want {
			t.Fatalf("signature %q: status %d, want %d", sig, resp.StatusCode, want)
		}
	}
}

func TestWebhookSignatureDisabled(t *testing.T) {
	app := fiber.New()
	app.Use(WebhookSignature(""))
	app.Post("/hook", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/hook", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestThrottlePerSender(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	app.Use(Throttle(cache, 2, func(c *fiber.Ctx) string { return c.Query("from") }, nil))
	app.Post("/hook", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	send := func(from string) int {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/hook?from="+from, nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if got := send("alice"); got != fiber.StatusOK {
			t.Fatalf("request %d: status %d", i, got)
		}
	}
	if got := send("alice"); got != fiber.StatusTooManyRequests {
		t.Fatalf("third request: status %d, want 429", got)
	}
	if got := send("bob"); got != fiber.StatusOK {
		t.Fatalf("other sender throttled: %d", got)
	}

	mr.FastForward(61 * time.Second)
	if got := send("alice"); got != fiber.StatusOK {
		t.Fatalf("window did not reset: %d", got)
	}
}

func TestThrottleMarksFirstLimitedRequest(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	var firsts []bool
	onLimit := func(c *fiber.Ctx) error {
		first, _ := c.Locals(ThrottleFirstLocal).(bool)
		firsts = append(firsts, first)
		return c.SendStatus(fiber.StatusOK)
	}
	app := fiber.New()
	app.Use(Throttle(cache, 1, func(*fiber.Ctx) string { return "alice" }, onLimit))
	app.Post("/hook", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusAccepted) })

	for i := 0; i < 4; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/hook", nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		want := fiber.StatusOK
		if i == 0 {
			want = fiber.StatusAccepted
		}
		if resp.StatusCode != want {
			t.Fatalf("request %d: status %d, want %d", i, resp.StatusCode, want)
		}
	}
	if len(firsts) != 3 || !firsts[0] || firsts[1] || firsts[2] {
		t.Fatalf("first-limited markers %v, want [true false false]", firsts)
	}
}

func TestAuditMasksSender(t *testing.T) {
	var buf bytes.Buffer
	app := fiber.New()
	app.Use(RequestID())
	app.Use(Audit(logging.NewWithWriter(&buf, "info")))
	app.Post("/hook", func(c *fiber.Ctx) error {
		c.Locals(SenderLocal, "+15551234567")
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/hook", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
	out := buf.String()
	if strings.Contains(out, "+15551234567") || !strings.Contains(out, "4567") {
		t.Fatalf("sender not masked: %s", out)
	}
	if !strings.Contains(out, "request_id") {
		t.Fatalf("request id not logged: %s", out)
	}
}
