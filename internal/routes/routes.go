package routes

import (
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/chatwallet/internal/assistant"
	"github.com/congo-pay/chatwallet/internal/chain"
	"github.com/congo-pay/chatwallet/internal/config"
	"github.com/congo-pay/chatwallet/internal/intent"
	"github.com/congo-pay/chatwallet/internal/keyvault"
	"github.com/congo-pay/chatwallet/internal/logging"
	"github.com/congo-pay/chatwallet/internal/middleware"
	"github.com/congo-pay/chatwallet/internal/notification"
	"github.com/congo-pay/chatwallet/internal/payments"
	"github.com/congo-pay/chatwallet/internal/txbuilder"
	"github.com/congo-pay/chatwallet/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Backend chain.Backend
	Logger  *slog.Logger

	// Optional overrides; production wiring derives them from Cfg.
	Classifier intent.Classifier
	Notifier   notification.Notifier
	KeyRepo    keyvault.Repository
	// Runner executes message handling off the request path.
	Runner func(task func())
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Backend == nil {
		return fmt.Errorf("chain backend is required")
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}

	router, err := buildAssistant(d)
	if err != nil {
		return err
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.GetRequestID(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterWebhookRoutes(app, router, d)
	return nil
}

func buildAssistant(d Deps) (*assistant.Service, error) {
	cipher, err := keyvault.NewCipher(d.Cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	repo := d.KeyRepo
	if repo == nil {
		if d.DB != nil {
			repo = keyvault.NewPostgresRepository(d.DB)
		} else {
			repo = keyvault.NewMemoryRepository()
		}
	}
	var locker keyvault.Locker
	if d.Cache != nil {
		locker = keyvault.NewRedisLocker(d.Cache, d.Cfg.KeyLockTTL)
	}
	vault, err := keyvault.NewVault(repo, cipher, locker, d.Logger)
	if err != nil {
		return nil, err
	}

	classifier := d.Classifier
	if classifier == nil {
		classifier = intent.KeywordClassifier{}
		if d.Cfg.ClassifierAPIKey != "" {
			remote := intent.NewOpenAIClassifier(d.Cfg.ClassifierURL, d.Cfg.ClassifierAPIKey, d.Cfg.ClassifierModel, 0)
			classifier = intent.WithFallback(remote, intent.KeywordClassifier{}, d.Logger)
		}
	}

	notifier := d.Notifier
	if notifier == nil {
		if d.Cfg.NotifierURL != "" {
			notifier = notification.NewWebhookNotifier(d.Cfg.NotifierURL, d.Cfg.NotifierToken, 0, d.Logger)
		} else {
			notifier = notification.NewLoggerNotifier(d.Logger)
		}
	}

	return assistant.NewService(
		classifier,
		vault,
		wallet.NewService(d.Backend),
		txbuilder.NewBuilder(d.Backend, d.Logger),
		payments.NewService(d.Backend, d.Cfg.EntryPoint, d.Logger),
		notifier,
		assistant.Config{
			ChainID:     big.NewInt(d.Cfg.ChainID),
			Token:       d.Cfg.Token,
			TokenSymbol: d.Cfg.TokenSymbol,
		},
		d.Logger,
	), nil
}
