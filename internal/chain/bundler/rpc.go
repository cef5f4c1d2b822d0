package bundler

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/chatwallet/internal/chain"
)

// call performs an eth_call of method on contract `to` and copies the single
// return value into out.
func (c *Client) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, out interface{}, args ...interface{}) error {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, raw)
	if err != nil {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	return parsed.Methods[method].Outputs.Copy(out, values)
}

func pubkeyAddress(pub *ecdsa.PublicKey) common.Address {
	return crypto.PubkeyToAddress(*pub)
}

func units(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// quantity accepts both hex strings and plain JSON numbers; bundlers disagree.
type quantity struct {
	*big.Int
}

func (q *quantity) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return fmt.Errorf("invalid quantity %s", b)
	}
	q.Int = v
	return nil
}

type gasEstimate struct {
	CallGasLimit         quantity `json:"callGasLimit"`
	VerificationGasLimit quantity `json:"verificationGasLimit"`
	PreVerificationGas   quantity `json:"preVerificationGas"`
}

func (e gasEstimate) limits() chain.GasLimits {
	return chain.GasLimits{
		CallGasLimit:         e.CallGasLimit.Int,
		VerificationGasLimit: e.VerificationGasLimit.Int,
		PreVerificationGas:   e.PreVerificationGas.Int,
	}
}

type sponsorContext struct {
	Mode               string `json:"mode"`
	CalculateGasLimits bool   `json:"calculateGasLimits"`
}

type sponsorResult struct {
	PaymasterAndData hexutil.Bytes `json:"paymasterAndData"`
	gasEstimate
}

type receiptResult struct {
	UserOpHash    common.Hash `json:"userOpHash"`
	Success       bool        `json:"success"`
	Reason        string      `json:"reason"`
	ActualGasCost quantity    `json:"actualGasCost"`
	ActualGasUsed quantity    `json:"actualGasUsed"`
	Receipt       struct {
		TransactionHash common.Hash `json:"transactionHash"`
		BlockNumber     quantity    `json:"blockNumber"`
	} `json:"receipt"`
}

func (r *receiptResult) receipt(hash common.Hash) chain.Receipt {
	out := chain.Receipt{
		OperationHash:   hash,
		TransactionHash: r.Receipt.TransactionHash,
		Success:         r.Success,
		Reason:          r.Reason,
		ActualGasCost:   r.ActualGasCost.Int,
	}
	if r.Receipt.BlockNumber.Int != nil {
		out.BlockNumber = r.Receipt.BlockNumber.Uint64()
	}
	if r.ActualGasUsed.Int != nil {
		out.ActualGasUsed = r.ActualGasUsed.Uint64()
	}
	return out
}
