package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/congo-pay/chatwallet/internal/chain"
)

// Service resolves smart-account identities and balances through the execution backend.
type Service struct {
	backend chain.Backend
}

// NewService builds a wallet service instance.
func NewService(backend chain.Backend) *Service {
	return &Service{backend: backend}
}

// ResolveAccount derives owner's smart account for signer on chainID. The
// address depends only on the signer, the chain and the backend's factory
// configuration.
func (s *Service) ResolveAccount(ctx context.Context, owner string, signer *ecdsa.PrivateKey, chainID *big.Int) (Account, error) {
	if signer == nil {
		return Account{}, errors.New("signer key is required")
	}
	if chainID == nil || s.backend.ChainID().Cmp(chainID) != 0 {
		return Account{}, fmt.Errorf("%w: %v", chain.ErrUnsupportedChain, chainID)
	}
	derived, err := s.backend.DeriveAccount(ctx, &signer.PublicKey)
	if err != nil {
		return Account{}, backendErr("derive account", err)
	}
	return Account{
		Owner:    owner,
		Chain:    new(big.Int).Set(chainID),
		Signer:   signer,
		Address:  derived.Address,
		InitCode: derived.InitCode,
	}, nil
}

// Balance returns the account's aggregate holdings. A backend failure is an
// error, never a zero balance.
func (s *Service) Balance(ctx context.Context, account Account) (chain.AggregateBalance, error) {
	bal, err := s.backend.AggregateBalance(ctx, account.Address)
	if err != nil {
		return chain.AggregateBalance{}, backendErr("aggregate balance", err)
	}
	return bal, nil
}

// FormatBalance renders a balance for a chat reply.
func FormatBalance(bal chain.AggregateBalance) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your balance is %s %s", bal.Total.StringFixed(2), bal.Denomination)
	for _, a := range bal.Assets {
		if a.Amount.IsZero() {
			continue
		}
		fmt.Fprintf(&b, "\n%s: %s", a.Symbol, a.Amount.String())
	}
	return b.String()
}

func backendErr(op string, err error) error {
	if errors.Is(err, chain.ErrBackendUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, chain.ErrBackendUnavailable, err)
}
