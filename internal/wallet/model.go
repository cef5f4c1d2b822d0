package wallet

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Account is the smart-account identity of an owner on one chain. It is
// derived per flow and never persisted.
type Account struct {
	Owner    string
	Chain    *big.Int
	Signer   *ecdsa.PrivateKey
	Address  common.Address
	InitCode []byte
}

// Deployed reports whether the account contract already exists on chain.
func (a Account) Deployed() bool {
	return len(a.InitCode) == 0
}
