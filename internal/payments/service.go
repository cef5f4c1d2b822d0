package payments

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/congo-pay/chatwallet/internal/chain"
	"github.com/congo-pay/chatwallet/internal/logging"
)

// Status is the externally visible state of a submitted operation.
type Status string

const (
	// StatusSubmitted means the bundler accepted the operation but settlement was not observed.
	StatusSubmitted Status = "submitted"
	// StatusConfirmed means the operation executed successfully on chain.
	StatusConfirmed Status = "confirmed"
	// StatusFailed means the operation was rejected or reverted.
	StatusFailed Status = "failed"
)

// Result is the terminal outcome of Submit.
type Result struct {
	Status        Status
	OperationHash common.Hash
	Receipt       *chain.Receipt
	Reason        string
	Sponsored     bool
}

// Service sponsors, signs, submits and settles user operations.
type Service struct {
	backend    chain.Backend
	entryPoint common.Address
	logger     *slog.Logger
}

// NewService constructs a payment service.
func NewService(backend chain.Backend, entryPoint common.Address, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{backend: backend, entryPoint: entryPoint, logger: logger}
}

// Submit drives op from built to a terminal or submitted state:
// sponsorship is attempted and may be skipped, then the op is signed,
// submitted and awaited. Sponsorship failure alone never fails the flow.
func (s *Service) Submit(ctx context.Context, signer *ecdsa.PrivateKey, op *chain.UserOperation) Result {
	if signer == nil || op == nil {
		return Result{Status: StatusFailed, Reason: "missing signer or operation"}
	}
	if !op.Gas.Complete() {
		return Result{Status: StatusFailed, Reason: "operation has no gas limits"}
	}
	log := s.logger.With(slog.String("sender", op.Sender.Hex()))

	sponsored := true
	if err := s.sponsor(ctx, op); err != nil {
		sponsored = false
		log.Warn("sponsorship skipped, submitting unsponsored", slog.Any("error", err))
	}

	if err := op.Sign(signer, s.entryPoint, s.backend.ChainID()); err != nil {
		return Result{Status: StatusFailed, Reason: err.Error(), Sponsored: sponsored}
	}

	hash, err := s.backend.SubmitOperation(ctx, op)
	if err != nil {
		log.Error("submit user operation", slog.Any("error", err))
		return Result{Status: StatusFailed, Reason: err.Error(), Sponsored: sponsored}
	}
	log = log.With(slog.String("op_hash", hash.Hex()))
	log.Info("user operation submitted", slog.Bool("sponsored", sponsored))

	receipt, err := s.backend.WaitForReceipt(ctx, hash)
	if err != nil {
		log.Warn("settlement not observed", slog.Any("error", err))
		return Result{Status: StatusSubmitted, OperationHash: hash, Sponsored: sponsored}
	}
	if !receipt.Success {
		reason := receipt.Reason
		if reason == "" {
			reason = "operation reverted"
		}
		log.Warn("user operation failed on chain", slog.String("reason", reason))
		return Result{Status: StatusFailed, OperationHash: hash, Receipt: &receipt, Reason: reason, Sponsored: sponsored}
	}

	log.Info("user operation confirmed", slog.String("tx_hash", receipt.TransactionHash.Hex()))
	return Result{Status: StatusConfirmed, OperationHash: hash, Receipt: &receipt, Sponsored: sponsored}
}

// sponsor attaches paymaster data to op. On any error op is left exactly as
// the builder produced it and the error wraps chain.ErrSponsorshipFailed.
func (s *Service) sponsor(ctx context.Context, op *chain.UserOperation) error {
	sp, err := s.backend.SponsorshipData(ctx, op)
	if err != nil {
		if errors.Is(err, chain.ErrSponsorshipFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", chain.ErrSponsorshipFailed, err)
	}
	if len(sp.PaymasterAndData) < common.AddressLength {
		return fmt.Errorf("%w: paymasterAndData is %d bytes", chain.ErrSponsorshipFailed, len(sp.PaymasterAndData))
	}

	op.Sponsorship = &sp
	if sp.Gas.Complete() {
		merged := *op.Gas
		merged.CallGasLimit = sp.Gas.CallGasLimit
		merged.VerificationGasLimit = sp.Gas.VerificationGasLimit
		merged.PreVerificationGas = sp.Gas.PreVerificationGas
		if positive(sp.Gas.MaxFeePerGas) {
			merged.MaxFeePerGas = sp.Gas.MaxFeePerGas
		}
		if positive(sp.Gas.MaxPriorityFeePerGas) {
			merged.MaxPriorityFeePerGas = sp.Gas.MaxPriorityFeePerGas
		}
		op.Gas = &merged
	}
	return nil
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
