package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	// ErrBackendUnavailable wraps transport or RPC failures of the execution backend.
	ErrBackendUnavailable = errors.New("execution backend unavailable")

	// ErrSponsorshipFailed marks a paymaster call that did not yield usable sponsorship data.
	ErrSponsorshipFailed = errors.New("sponsorship failed")

	// ErrUnsupportedChain is returned when a caller asks for a chain the backend is not configured for.
	ErrUnsupportedChain = errors.New("unsupported chain")

	// ErrReceiptTimeout indicates the operation was not observed on chain within the polling window.
	ErrReceiptTimeout = errors.New("timed out waiting for receipt")
)

// Account is the backend's view of a derived smart account.
type Account struct {
	Address  common.Address
	InitCode []byte
	Deployed bool
}

// Receipt reports the on-chain settlement of a user operation.
type Receipt struct {
	OperationHash   common.Hash
	TransactionHash common.Hash
	BlockNumber     uint64
	Success         bool
	Reason          string
	ActualGasCost   *big.Int
	ActualGasUsed   uint64
}

// AssetBalance is a single line in an aggregate balance.
type AssetBalance struct {
	Token    common.Address
	Symbol   string
	Amount   decimal.Decimal
	ValueUSD decimal.Decimal
}

// AggregateBalance is an account's holdings summed in Denomination.
type AggregateBalance struct {
	Denomination string
	Total        decimal.Decimal
	Assets       []AssetBalance
}

// Backend is the bundler, paymaster and chain RPC surface the core depends on.
type Backend interface {
	ChainID() *big.Int
	DeriveAccount(ctx context.Context, signer *ecdsa.PublicKey) (Account, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	Nonce(ctx context.Context, sender common.Address) (*big.Int, error)
	EstimateGas(ctx context.Context, op *UserOperation) (GasLimits, error)
	SponsorshipData(ctx context.Context, op *UserOperation) (Sponsorship, error)
	SubmitOperation(ctx context.Context, op *UserOperation) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash) (Receipt, error)
	AggregateBalance(ctx context.Context, account common.Address) (AggregateBalance, error)
}
