package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultAppName        = "ChatWallet"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultChainID        = 10
	defaultEntryPoint     = "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"
	defaultAccountFactory = "0x9406Cc6185a346906296840746125a0E44976454"
	defaultToken          = "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1"
	defaultTokenSymbol    = "DAI"
	defaultStableTokens   = "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1,0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"
	defaultClassifierURL  = "https://api.openai.com/v1"
	defaultModel          = "gpt-4o-mini"
	defaultInboundPerMin  = 20
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// EncryptionKey is the 32 byte vault secret.
	EncryptionKey []byte
	KeyLockTTL    time.Duration

	WebhookSecret    string
	InboundPerMinute int

	ChainID        int64
	ChainRPCURL    string
	BundlerURL     string
	PaymasterURL   string
	EntryPoint     common.Address
	AccountFactory common.Address
	AccountSalt    int64
	Token          common.Address
	TokenSymbol    string
	StableTokens   []common.Address
	SponsorTimeout time.Duration
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration

	NotifierURL      string
	NotifierToken    string
	ClassifierURL    string
	ClassifierAPIKey string
	ClassifierModel  string
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:          getEnv("APP_NAME", defaultAppName),
		AppEnv:           getEnv("APP_ENV", defaultAppEnv),
		Port:             getEnv("PORT", defaultPort),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		ChainRPCURL:      os.Getenv("CHAIN_RPC_URL"),
		BundlerURL:       os.Getenv("BUNDLER_URL"),
		PaymasterURL:     os.Getenv("PAYMASTER_URL"),
		TokenSymbol:      getEnv("TOKEN_SYMBOL", defaultTokenSymbol),
		NotifierURL:      os.Getenv("NOTIFIER_URL"),
		NotifierToken:    os.Getenv("NOTIFIER_TOKEN"),
		ClassifierURL:    getEnv("CLASSIFIER_URL", defaultClassifierURL),
		ClassifierAPIKey: os.Getenv("CLASSIFIER_API_KEY"),
		ClassifierModel:  getEnv("CLASSIFIER_MODEL", defaultModel),
	}

	var err error
	durations := []struct {
		dst      *time.Duration
		seconds  string
		duration string
		fallback time.Duration
	}{
		{&cfg.ShutdownPeriod, "SHUTDOWN_TIMEOUT_SECONDS", "SHUTDOWN_TIMEOUT", defaultShutdownDelay},
		{&cfg.IdempotencyTTL, "IDEMPOTENCY_TTL_SECONDS", "IDEMPOTENCY_TTL", defaultIdempotencyTTL},
		{&cfg.KeyLockTTL, "KEY_LOCK_TTL_SECONDS", "KEY_LOCK_TTL", 10 * time.Second},
		{&cfg.SponsorTimeout, "SPONSOR_TIMEOUT_SECONDS", "SPONSOR_TIMEOUT", 10 * time.Second},
		{&cfg.ReceiptTimeout, "RECEIPT_TIMEOUT_SECONDS", "RECEIPT_TIMEOUT", 2 * time.Minute},
		{&cfg.ReceiptPoll, "RECEIPT_POLL_SECONDS", "RECEIPT_POLL", 2 * time.Second},
	}
	for _, d := range durations {
		if *d.dst, err = durationEnv(d.seconds, d.duration, d.fallback); err != nil {
			return Config{}, err
		}
	}

	if cfg.ChainID, err = intEnv("CHAIN_ID", defaultChainID); err != nil {
		return Config{}, err
	}
	if cfg.AccountSalt, err = intEnv("ACCOUNT_SALT", 0); err != nil {
		return Config{}, err
	}
	perMin, err := intEnv("INBOUND_PER_MINUTE", defaultInboundPerMin)
	if err != nil {
		return Config{}, err
	}
	cfg.InboundPerMinute = int(perMin)

	if cfg.EntryPoint, err = addressEnv("ENTRY_POINT", defaultEntryPoint); err != nil {
		return Config{}, err
	}
	if cfg.AccountFactory, err = addressEnv("ACCOUNT_FACTORY", defaultAccountFactory); err != nil {
		return Config{}, err
	}
	if cfg.Token, err = addressEnv("TOKEN_ADDRESS", defaultToken); err != nil {
		return Config{}, err
	}
	if cfg.StableTokens, err = addressListEnv("STABLE_TOKENS", defaultStableTokens); err != nil {
		return Config{}, err
	}

	if cfg.EncryptionKey, err = ParseEncryptionKey(os.Getenv("ENCRYPTION_KEY")); err != nil {
		return Config{}, err
	}

	if cfg.ChainRPCURL == "" {
		return Config{}, fmt.Errorf("CHAIN_RPC_URL must be set")
	}
	if cfg.BundlerURL == "" {
		return Config{}, fmt.Errorf("BUNDLER_URL must be set")
	}

	// Postgres and Redis may be absent only in development, where in-memory
	// stand-ins are used.
	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	}

	return cfg, nil
}

// ParseEncryptionKey accepts the vault secret as 32 raw bytes or 64 hex characters.
func ParseEncryptionKey(v string) ([]byte, error) {
	switch {
	case v == "":
		return nil, fmt.Errorf("ENCRYPTION_KEY must be set")
	case len(v) == 64:
		if key, err := hex.DecodeString(v); err == nil {
			return key, nil
		}
	case len(v) == 32:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("ENCRYPTION_KEY must be 32 bytes or 64 hex characters")
}

// IsDev reports whether the app runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func addressEnv(key, fallback string) (common.Address, error) {
	v := getEnv(key, fallback)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid %s: %q is not an address", key, v)
	}
	return common.HexToAddress(v), nil
}

func addressListEnv(key, fallback string) ([]common.Address, error) {
	var out []common.Address
	for _, part := range strings.Split(getEnv(key, fallback), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !common.IsHexAddress(part) {
			return nil, fmt.Errorf("invalid %s: %q is not an address", key, part)
		}
		out = append(out, common.HexToAddress(part))
	}
	return out, nil
}
