package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/congo-pay/chatwallet/internal/infra"
	"github.com/congo-pay/chatwallet/internal/logging"
	"github.com/congo-pay/chatwallet/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := logging.New(cfg.LogLevel)
		ctx := context.Background()

		var db *pgxpool.Pool
		if cfg.DatabaseURL != "" {
			if db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL); err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer db.Close()
		} else {
			logger.Warn("DATABASE_URL not set, keys are kept in memory")
		}

		var cache *redis.Client
		if cfg.RedisURL != "" {
			if cache, err = infra.NewRedisClient(ctx, cfg.RedisURL); err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			defer func() {
				if err := cache.Close(); err != nil {
					logger.Warn("close redis", "error", err)
				}
			}()
		}

		backend, err := infra.NewChainBackend(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer backend.Close()

		srv, err := server.New(cfg, db, cache, backend, logger)
		if err != nil {
			return fmt.Errorf("build server: %w", err)
		}

		srvErrCh := make(chan error, 1)
		go func() {
			srvErrCh <- srv.Listen()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info("shutdown signal received", "signal", sig.String())
		case err := <-srvErrCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}

		logger.Info("server exited cleanly")
		return nil
	},
}
