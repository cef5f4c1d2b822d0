package chain

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// DummySignature is a well-formed 65 byte ECDSA signature used while estimating
// gas, before the real signature can be computed.
var DummySignature = hexutil.MustDecode("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

// GasLimits holds the gas and fee fields of a user operation.
type GasLimits struct {
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Complete reports whether all three limits are present. Fee fields are not considered.
func (g *GasLimits) Complete() bool {
	return g != nil && g.CallGasLimit != nil && g.VerificationGasLimit != nil && g.PreVerificationGas != nil
}

// Sponsorship is what a paymaster hands back for an operation it agrees to pay for.
type Sponsorship struct {
	PaymasterAndData []byte
	// Gas is nil when the service did not refine the limits.
	Gas *GasLimits
}

// UserOperation is an ERC-4337 (EntryPoint v0.6) operation for a single call.
// It is mutated while sponsorship and signature are attached and must not be
// changed after SubmitOperation returns.
type UserOperation struct {
	Sender      common.Address
	Nonce       *big.Int
	InitCode    []byte
	Target      common.Address
	CallData    []byte
	Gas         *GasLimits
	Sponsorship *Sponsorship
	Signature   []byte
}

func (op *UserOperation) paymasterAndData() []byte {
	if op.Sponsorship == nil {
		return nil
	}
	return op.Sponsorship.PaymasterAndData
}

func (op *UserOperation) gas() GasLimits {
	if op.Gas == nil {
		return GasLimits{}
	}
	return *op.Gas
}

var (
	typeAddress = mustType("address")
	typeUint256 = mustType("uint256")
	typeBytes32 = mustType("bytes32")

	packArgs = abi.Arguments{
		{Type: typeAddress}, {Type: typeUint256}, {Type: typeBytes32}, {Type: typeBytes32},
		{Type: typeUint256}, {Type: typeUint256}, {Type: typeUint256}, {Type: typeUint256}, {Type: typeUint256},
		{Type: typeBytes32},
	}
	hashArgs = abi.Arguments{{Type: typeBytes32}, {Type: typeAddress}, {Type: typeUint256}}
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

func keccak(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Hash computes the EntryPoint v0.6 userOpHash of op.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	g := op.gas()
	packed, err := packArgs.Pack(
		op.Sender,
		orZero(op.Nonce),
		keccak(op.InitCode),
		keccak(op.CallData),
		orZero(g.CallGasLimit),
		orZero(g.VerificationGasLimit),
		orZero(g.PreVerificationGas),
		orZero(g.MaxFeePerGas),
		orZero(g.MaxPriorityFeePerGas),
		keccak(op.paymasterAndData()),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack user operation: %w", err)
	}
	enc, err := hashArgs.Pack(keccak(packed), entryPoint, orZero(chainID))
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack user operation hash: %w", err)
	}
	return keccak(enc), nil
}

// Sign sets op.Signature to an EIP-191 personal signature over the userOpHash.
func (op *UserOperation) Sign(key *ecdsa.PrivateKey, entryPoint common.Address, chainID *big.Int) error {
	hash, err := op.Hash(entryPoint, chainID)
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(accounts.TextHash(hash.Bytes()), key)
	if err != nil {
		return fmt.Errorf("sign user operation: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	op.Signature = sig
	return nil
}

type rpcOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

// MarshalJSON renders op in the hex-quantity form bundlers expect.
func (op *UserOperation) MarshalJSON() ([]byte, error) {
	g := op.gas()
	return json.Marshal(rpcOperation{
		Sender:               op.Sender,
		Nonce:                (*hexutil.Big)(orZero(op.Nonce)),
		InitCode:             hexutil.Bytes(op.InitCode),
		CallData:             hexutil.Bytes(op.CallData),
		CallGasLimit:         (*hexutil.Big)(orZero(g.CallGasLimit)),
		VerificationGasLimit: (*hexutil.Big)(orZero(g.VerificationGasLimit)),
		PreVerificationGas:   (*hexutil.Big)(orZero(g.PreVerificationGas)),
		MaxFeePerGas:         (*hexutil.Big)(orZero(g.MaxFeePerGas)),
		MaxPriorityFeePerGas: (*hexutil.Big)(orZero(g.MaxPriorityFeePerGas)),
		PaymasterAndData:     op.paymasterAndData(),
		Signature:            hexutil.Bytes(op.Signature),
	})
}
