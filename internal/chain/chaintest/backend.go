// Package chaintest provides an in-memory chain.Backend for tests.
package chaintest

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/chatwallet/internal/chain"
)

// Backend is a scriptable chain.Backend. Zero-valued error fields mean success.
// Every call is appended to Calls in order.
type Backend struct {
	mu sync.Mutex

	Chain     *big.Int
	Decimals  map[common.Address]uint8
	Estimate  chain.GasLimits
	Sponsor   chain.Sponsorship
	Receipt   chain.Receipt
	Balances  chain.AggregateBalance
	NextNonce *big.Int

	DecimalsErr error
	EstimateErr error
	SponsorErr  error
	SubmitErr   error
	WaitErr     error
	BalanceErr  error
	DeriveErr   error

	Calls     []string
	Submitted []*chain.UserOperation
}

// New returns a backend on chain 10 with sensible gas figures.
func New() *Backend {
	return &Backend{
		Chain:    big.NewInt(10),
		Decimals: map[common.Address]uint8{},
		Estimate: chain.GasLimits{
			CallGasLimit:         big.NewInt(60_000),
			VerificationGasLimit: big.NewInt(120_000),
			PreVerificationGas:   big.NewInt(48_000),
			MaxFeePerGas:         big.NewInt(2_000_000),
			MaxPriorityFeePerGas: big.NewInt(1_000_000),
		},
		Receipt:   chain.Receipt{Success: true, BlockNumber: 1},
		NextNonce: big.NewInt(0),
		Balances:  chain.AggregateBalance{Denomination: "USD", Total: decimal.Zero},
	}
}

func (b *Backend) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls = append(b.Calls, call)
}

// Called reports whether call was made.
func (b *Backend) Called(call string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.Calls {
		if c == call {
			return true
		}
	}
	return false
}

// AddressFor is the counterfactual address this backend derives for signer.
func AddressFor(signer *ecdsa.PublicKey) common.Address {
	owner := crypto.PubkeyToAddress(*signer)
	return common.BytesToAddress(crypto.Keccak256(owner.Bytes(), []byte("smart-account"))[12:])
}

func (b *Backend) ChainID() *big.Int { return new(big.Int).Set(b.Chain) }

func (b *Backend) DeriveAccount(_ context.Context, signer *ecdsa.PublicKey) (chain.Account, error) {
	b.record("DeriveAccount")
	if b.DeriveErr != nil {
		return chain.Account{}, b.DeriveErr
	}
	owner := crypto.PubkeyToAddress(*signer)
	return chain.Account{Address: AddressFor(signer), InitCode: owner.Bytes()}, nil
}

func (b *Backend) TokenDecimals(_ context.Context, token common.Address) (uint8, error) {
	b.record("TokenDecimals")
	if b.DecimalsErr != nil {
		return 0, b.DecimalsErr
	}
	d, ok := b.Decimals[token]
	if !ok {
		return 0, fmt.Errorf("execution reverted: %s is not a token", token.Hex())
	}
	return d, nil
}

func (b *Backend) Nonce(_ context.Context, _ common.Address) (*big.Int, error) {
	b.record("Nonce")
	return new(big.Int).Set(b.NextNonce), nil
}

func (b *Backend) EstimateGas(_ context.Context, _ *chain.UserOperation) (chain.GasLimits, error) {
	b.record("EstimateGas")
	if b.EstimateErr != nil {
		return chain.GasLimits{}, b.EstimateErr
	}
	return b.Estimate, nil
}

func (b *Backend) SponsorshipData(_ context.Context, _ *chain.UserOperation) (chain.Sponsorship, error) {
	b.record("SponsorshipData")
	if b.SponsorErr != nil {
		return chain.Sponsorship{}, b.SponsorErr
	}
	return b.Sponsor, nil
}

func (b *Backend) SubmitOperation(_ context.Context, op *chain.UserOperation) (common.Hash, error) {
	b.record("SubmitOperation")
	if b.SubmitErr != nil {
		return common.Hash{}, b.SubmitErr
	}
	b.mu.Lock()
	b.Submitted = append(b.Submitted, op)
	b.mu.Unlock()
	return op.Hash(common.Address{}, b.Chain)
}

func (b *Backend) WaitForReceipt(_ context.Context, hash common.Hash) (chain.Receipt, error) {
	b.record("WaitForReceipt")
	if b.WaitErr != nil {
		return chain.Receipt{}, b.WaitErr
	}
	r := b.Receipt
	r.OperationHash = hash
	return r, nil
}

func (b *Backend) AggregateBalance(_ context.Context, _ common.Address) (chain.AggregateBalance, error) {
	b.record("AggregateBalance")
	if b.BalanceErr != nil {
		return chain.AggregateBalance{}, b.BalanceErr
	}
	return b.Balances, nil
}
