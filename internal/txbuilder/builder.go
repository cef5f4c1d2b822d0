package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/bluele/gcache"
	"github.com/ethereum/go-ethereum/common"

	"github.com/congo-pay/chatwallet/internal/chain"
	"github.com/congo-pay/chatwallet/internal/logging"
	"github.com/congo-pay/chatwallet/internal/wallet"
)

var (
	// ErrInvalidToken means the token's decimals could not be read.
	ErrInvalidToken = errors.New("invalid token address supplied")

	// ErrInvalidAmount means the amount is not a non-negative decimal representable in the token's units.
	ErrInvalidAmount = errors.New("invalid amount")
)

const decimalsCacheSize = 256

// TransferRequest asks to move Amount of Token from Sender's smart account to Recipient.
type TransferRequest struct {
	Sender    string
	Recipient common.Address
	Token     common.Address
	Amount    string
}

// Transfer is a built transfer: the unsigned operation plus the amount it moves.
type Transfer struct {
	Op       *chain.UserOperation
	Amount   *big.Int
	Decimals uint8
}

// DisplayAmount renders the encoded amount in token units, e.g. "2.50" as "2.5".
func (t *Transfer) DisplayAmount() string {
	return FormatUnits(t.Amount, t.Decimals)
}

type decimalsKey struct {
	chain string
	token common.Address
}

// Builder turns transfer requests into unsigned user operations.
type Builder struct {
	backend  chain.Backend
	decimals gcache.Cache
	logger   *slog.Logger
}

// NewBuilder builds a transaction builder. Token precision is cached per chain
// and token since it cannot change on chain.
func NewBuilder(backend chain.Backend, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Builder{
		backend:  backend,
		decimals: gcache.New(decimalsCacheSize).LRU().Build(),
		logger:   logger,
	}
}

// BuildTransfer resolves decimals, converts the amount, encodes the ERC-20
// transfer wrapped in the account's execute call, and attaches nonce and gas.
// The returned operation carries chain.DummySignature until it is signed.
func (b *Builder) BuildTransfer(ctx context.Context, account wallet.Account, req TransferRequest) (*Transfer, error) {
	decimals, err := b.tokenDecimals(ctx, account.Chain, req.Token)
	if err != nil {
		return nil, err
	}

	amount, err := ParseUnits(req.Amount, decimals)
	if err != nil {
		return nil, err
	}

	callData, err := EncodeTransferCall(req.Token, req.Recipient, amount)
	if err != nil {
		return nil, err
	}

	nonce, err := b.backend.Nonce(ctx, account.Address)
	if err != nil {
		return nil, fmt.Errorf("account nonce: %w: %v", chain.ErrBackendUnavailable, err)
	}

	op := &chain.UserOperation{
		Sender:    account.Address,
		Nonce:     nonce,
		InitCode:  account.InitCode,
		Target:    req.Token,
		CallData:  callData,
		Signature: chain.DummySignature,
	}

	gas, err := b.backend.EstimateGas(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w: %v", chain.ErrBackendUnavailable, err)
	}
	op.Gas = &gas

	b.logger.Debug("transfer built",
		slog.String("owner", logging.MaskOwner(req.Sender)),
		slog.String("sender", account.Address.Hex()),
		slog.String("token", req.Token.Hex()),
		slog.String("amount_base_units", amount.String()))
	return &Transfer{Op: op, Amount: amount, Decimals: decimals}, nil
}

func (b *Builder) tokenDecimals(ctx context.Context, chainID *big.Int, token common.Address) (uint8, error) {
	if chainID == nil {
		chainID = b.backend.ChainID()
	}
	key := decimalsKey{chain: chainID.String(), token: token}
	if v, err := b.decimals.Get(key); err == nil {
		if d, ok := v.(uint8); ok {
			return d, nil
		}
	}
	d, err := b.backend.TokenDecimals(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidToken, token.Hex(), err)
	}
	_ = b.decimals.Set(key, d)
	return d, nil
}

// EncodeTransferCall encodes execute(token, 0, transfer(recipient, amount)).
func EncodeTransferCall(token, recipient common.Address, amount *big.Int) ([]byte, error) {
	if amount == nil || !fitsUint256(amount) {
		return nil, fmt.Errorf("%w: %v is outside the uint256 range", ErrInvalidAmount, amount)
	}
	transfer, err := chain.ERC20ABI.Pack("transfer", recipient, amount)
	if err != nil {
		return nil, fmt.Errorf("encode transfer: %w", err)
	}
	call, err := chain.SmartAccountABI.Pack("execute", token, new(big.Int), transfer)
	if err != nil {
		return nil, fmt.Errorf("encode execute: %w", err)
	}
	return call, nil
}
