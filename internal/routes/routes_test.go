package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/chatwallet/internal/chain/chaintest"
	"github.com/congo-pay/chatwallet/internal/config"
	"github.com/congo-pay/chatwallet/internal/keyvault"
	"github.com/congo-pay/chatwallet/internal/logging"
	"github.com/congo-pay/chatwallet/internal/notification"
)

var dai = common.HexToAddress("0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1")

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, m notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, m)
	return nil
}

type testEnv struct {
	app      *fiber.App
	backend  *chaintest.Backend
	notifier *recordingNotifier
	repo     keyvault.Repository
}

func newTestEnv(t *testing.T, withRedis bool, opts ...func(*Deps)) *testEnv {
	t.Helper()
	backend := chaintest.New()
	backend.Decimals[dai] = 18
	notifier := &recordingNotifier{}
	repo := keyvault.NewMemoryRepository()

	d := Deps{
		Cfg: config.Config{
			AppEnv:           "development",
			EncryptionKey:    bytes.Repeat([]byte{7}, 32),
			ChainID:          10,
			Token:            dai,
			TokenSymbol:      "DAI",
			IdempotencyTTL:   time.Minute,
			InboundPerMinute: 100,
		},
		Backend:  backend,
		Logger:   logging.Discard(),
		Notifier: notifier,
		KeyRepo:  repo,
		Runner:   func(task func()) { task() },
	}
	if withRedis {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("start miniredis: %v", err)
		}
		cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() {
			cache.Close()
			mr.Close()
		})
		d.Cache = cache
	}

	for _, opt := range opts {
		opt(&d)
	}

	app := fiber.New()
	if err := Setup(app, d); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return &testEnv{app: app, backend: backend, notifier: notifier, repo: repo}
}

func deliver(t *testing.T, app *fiber.App, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/whatsapp", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func message(id, from, text string) string {
	b, _ := json.Marshal(map[string]any{
		"dataType": "message",
		"data": map[string]any{
			"message": map[string]string{"id": id, "from": from, "body": text},
		},
	})
	return string(b)
}

func TestWebhookTransfer(t *testing.T) {
	env := newTestEnv(t, false)

	status, out := deliver(t, env.app, message("wamid.1", "+15551234567",
		"send 2.0 to 0xAbC0000000000000000000000000000000000001"))

	if status != fiber.StatusOK || out["success"] != true {
		t.Fatalf("status %d body %v", status, out)
	}
	if len(env.backend.Submitted) != 1 {
		t.Fatalf("submitted %d operations", len(env.backend.Submitted))
	}
	if len(env.notifier.sent) != 1 || env.notifier.sent[0].Kind != notification.KindTransfer {
		t.Fatalf("notifications: %+v", env.notifier.sent)
	}
	if env.notifier.sent[0].Destination != "+15551234567" {
		t.Fatalf("reply sent to %q", env.notifier.sent[0].Destination)
	}
	n, err := env.repo.CountByOwner(context.Background(), "+15551234567")
	if err != nil || n != 1 {
		t.Fatalf("expected one key record, got %d (%v)", n, err)
	}
}

func TestWebhookRedeliveryProcessedOnce(t *testing.T) {
	env := newTestEnv(t, true)
	body := message("wamid.2", "+15551234567", "send 1 to 0xAbC0000000000000000000000000000000000001")

	for i := 0; i < 3; i++ {
		status, out := deliver(t, env.app, body)
		if status != fiber.StatusOK || out["success"] != true {
			t.Fatalf("delivery %d: status %d body %v", i, status, out)
		}
	}
	if len(env.backend.Submitted) != 1 {
		t.Fatalf("redelivered message submitted %d times", len(env.backend.Submitted))
	}
}

func TestWebhookThrottledSenderToldOnce(t *testing.T) {
	env := newTestEnv(t, true, func(d *Deps) { d.Cfg.InboundPerMinute = 1 })

	for i, id := range []string{"wamid.10", "wamid.11", "wamid.12"} {
		status, out := deliver(t, env.app, message(id, "+15551234567", "send 1 to 0xAbC0000000000000000000000000000000000001"))
		if status != fiber.StatusOK || out["success"] != true {
			t.Fatalf("delivery %d: status %d body %v", i, status, out)
		}
	}

	if len(env.backend.Submitted) != 1 {
		t.Fatalf("submitted %d operations, want 1", len(env.backend.Submitted))
	}
	if len(env.notifier.sent) != 2 {
		t.Fatalf("notifications: %+v", env.notifier.sent)
	}
	notice := env.notifier.sent[1]
	if notice.Kind != notification.KindFailure || !strings.Contains(notice.Body, "too quickly") {
		t.Fatalf("unexpected throttle notice: %+v", notice)
	}
	if notice.Destination != "+15551234567" {
		t.Fatalf("notice sent to %q", notice.Destination)
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	env := newTestEnv(t, false)

	status, out := deliver(t, env.app, `{"dataType":"ack","data":{}}`)
	if status != fiber.StatusOK || out["success"] != true {
		t.Fatalf("status %d body %v", status, out)
	}
	if len(env.notifier.sent) != 0 || len(env.backend.Calls) != 0 {
		t.Fatal("non-message event should not be processed")
	}
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	env := newTestEnv(t, false)

	status, _ := deliver(t, env.app, `{"dataType":`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("status %d, want 400", status)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, true)

	resp, err := env.app.Test(httptest.NewRequest(fiber.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var out struct {
		Status map[string]string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status["postgres"] != "disabled" || out.Status["redis"] != "ok" {
		t.Fatalf("unexpected health: %v", out.Status)
	}
}

func TestSetupRequiresInfraOutsideDev(t *testing.T) {
	err := Setup(fiber.New(), Deps{
		Cfg:     config.Config{AppEnv: "production", EncryptionKey: bytes.Repeat([]byte{7}, 32)},
		Backend: chaintest.New(),
	})
	if err == nil {
		t.Fatal("expected error without database in production")
	}
}

func TestSetupRejectsBadEncryptionKey(t *testing.T) {
	err := Setup(fiber.New(), Deps{
		Cfg:     config.Config{AppEnv: "development", EncryptionKey: []byte("short")},
		Backend: chaintest.New(),
	})
	if err == nil {
		t.Fatal("expected error for a short encryption key")
	}
}
