package keyvault

import (
	"errors"
	"time"
)

var (
	// ErrConfig means the vault cannot be constructed; the process must not serve requests.
	ErrConfig = errors.New("vault misconfigured")

	// ErrCorruptRecord means a stored blob could not be decrypted into a key.
	// Callers decide whether to treat the owner as keyless; the vault never regenerates on its own.
	ErrCorruptRecord = errors.New("corrupt key record")

	// ErrNotFound is returned by repositories when an owner has no record.
	ErrNotFound = errors.New("key record not found")

	// ErrOwnerExists is returned by Insert when another record already holds the owner.
	ErrOwnerExists = errors.New("key record exists for owner")
)

// Record is the persisted, encrypted private key of one owner.
type Record struct {
	ID         string
	Owner      string
	Ciphertext string
	CreatedAt  time.Time
}
