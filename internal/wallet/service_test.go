package wallet

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/chatwallet/internal/chain"
	"github.com/congo-pay/chatwallet/internal/chain/chaintest"
)

func TestResolveAccountIsDeterministic(t *testing.T) {
	backend := chaintest.New()
	svc := NewService(backend)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	ctx := context.Background()
	first, err := svc.ResolveAccount(ctx, "+15551234567", key, big.NewInt(10))
	require.NoError(t, err)
	second, err := svc.ResolveAccount(ctx, "+15551234567", key, big.NewInt(10))
	require.NoError(t, err)

	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, chaintest.AddressFor(&key.PublicKey), first.Address)
	assert.Equal(t, "+15551234567", first.Owner)
	assert.False(t, first.Deployed())

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	third, err := svc.ResolveAccount(ctx, "+15551234567", other, big.NewInt(10))
	require.NoError(t, err)
	assert.NotEqual(t, first.Address, third.Address)
}

func TestResolveAccountRejectsOtherChain(t *testing.T) {
	svc := NewService(chaintest.New())
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = svc.ResolveAccount(context.Background(), "owner", key, big.NewInt(1))
	assert.ErrorIs(t, err, chain.ErrUnsupportedChain)
}

func TestResolveAccountBackendFailure(t *testing.T) {
	backend := chaintest.New()
	backend.DeriveErr = errors.New("dial tcp: connection refused")
	svc := NewService(backend)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = svc.ResolveAccount(context.Background(), "owner", key, big.NewInt(10))
	assert.ErrorIs(t, err, chain.ErrBackendUnavailable)
}

func TestBalance(t *testing.T) {
	backend := chaintest.New()
	backend.Balances = chain.AggregateBalance{
		Denomination: "USD",
		Total:        decimal.RequireFromString("12.5"),
		Assets: []chain.AssetBalance{
			{Token: common.HexToAddress("0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1"), Symbol: "DAI", Amount: decimal.RequireFromString("12.5"), ValueUSD: decimal.RequireFromString("12.5")},
			{Symbol: "ETH", Amount: decimal.Zero},
		},
	}
	svc := NewService(backend)

	bal, err := svc.Balance(context.Background(), Account{Address: common.HexToAddress("0x01")})
	require.NoError(t, err)
	assert.True(t, bal.Total.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, "Your balance is 12.50 USD\nDAI: 12.5", FormatBalance(bal))
}

func TestBalanceUnavailableIsNotZero(t *testing.T) {
	backend := chaintest.New()
	backend.BalanceErr = errors.New("503 service unavailable")
	svc := NewService(backend)

	_, err := svc.Balance(context.Background(), Account{})
	assert.ErrorIs(t, err, chain.ErrBackendUnavailable)
}
