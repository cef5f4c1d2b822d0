package infra

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/congo-pay/chatwallet/internal/chain/bundler"
	"github.com/congo-pay/chatwallet/internal/config"
)

// NewChainBackend dials the chain node, bundler and paymaster described by cfg.
func NewChainBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*bundler.Client, error) {
	if cfg.ChainRPCURL == "" || cfg.BundlerURL == "" {
		return nil, fmt.Errorf("chain rpc and bundler urls are required")
	}

	tokens := append([]common.Address(nil), cfg.StableTokens...)
	if !containsAddress(tokens, cfg.Token) {
		tokens = append(tokens, cfg.Token)
	}

	client, err := bundler.Dial(ctx, bundler.Config{
		ChainID:        big.NewInt(cfg.ChainID),
		EntryPoint:     cfg.EntryPoint,
		Factory:        cfg.AccountFactory,
		Salt:           big.NewInt(cfg.AccountSalt),
		SponsorTimeout: cfg.SponsorTimeout,
		PollInterval:   cfg.ReceiptPoll,
		ReceiptTimeout: cfg.ReceiptTimeout,
		Tokens:         tokens,
		StableTokens:   cfg.StableTokens,
	}, cfg.ChainRPCURL, cfg.BundlerURL, cfg.PaymasterURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connect chain backend: %w", err)
	}
	return client, nil
}

func containsAddress(list []common.Address, a common.Address) bool {
	for _, v := range list {
		if v == a {
			return true
		}
	}
	return false
}
