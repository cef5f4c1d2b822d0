package keyvault

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/congo-pay/chatwallet/internal/logging"
)

// ErrEmptyOwner is returned when ResolveKey is called without an owner.
var ErrEmptyOwner = errors.New("owner is required")

const resolveTimeout = 30 * time.Second

// Vault maps owners to private keys, creating one on first access.
type Vault struct {
	repo   Repository
	cipher *Cipher
	locker Locker
	logger *slog.Logger
	group  singleflight.Group
}

// NewVault wires a vault. locker may be nil, in which case only in-process
// serialization and the repository's uniqueness guard apply.
func NewVault(repo Repository, cipher *Cipher, locker Locker, logger *slog.Logger) (*Vault, error) {
	if cipher == nil {
		return nil, fmt.Errorf("%w: cipher is required", ErrConfig)
	}
	if repo == nil {
		return nil, fmt.Errorf("%w: repository is required", ErrConfig)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Vault{repo: repo, cipher: cipher, locker: locker, logger: logger}, nil
}

// ResolveKey returns owner's private key, generating and storing one if the
// owner has none yet. Every caller receives its own key value.
func (v *Vault) ResolveKey(ctx context.Context, owner string) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, ErrEmptyOwner
	}
	// The shared lookup runs detached from any one caller's deadline.
	ch := v.group.DoChan(owner, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		return v.resolve(ctx, owner)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return parseKey(res.Val.(string))
	}
}

func (v *Vault) resolve(ctx context.Context, owner string) (string, error) {
	plain, err := v.lookup(ctx, owner)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return plain, err
	}

	if v.locker != nil {
		unlock, err := v.locker.Lock(ctx, owner)
		if err != nil {
			return "", fmt.Errorf("lock owner: %w", err)
		}
		defer unlock()

		plain, err := v.lookup(ctx, owner)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return plain, err
		}
	}

	return v.create(ctx, owner)
}

func (v *Vault) lookup(ctx context.Context, owner string) (string, error) {
	rec, err := v.repo.FindByOwner(ctx, owner)
	if err != nil {
		return "", err
	}
	plain, err := v.cipher.Decrypt(rec.Ciphertext)
	if err != nil {
		v.logger.Error("key record unreadable",
			slog.String("owner", logging.MaskOwner(owner)),
			slog.String("record_id", rec.ID),
			slog.Any("error", err))
		return "", err
	}
	return string(plain), nil
}

func (v *Vault) create(ctx context.Context, owner string) (string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	plain := hexutil.Encode(crypto.FromECDSA(key))
	blob, err := v.cipher.Encrypt([]byte(plain))
	if err != nil {
		return "", err
	}

	rec := Record{
		ID:         uuid.New().String(),
		Owner:      owner,
		Ciphertext: blob,
		CreatedAt:  time.Now().UTC(),
	}
	if err := v.repo.Insert(ctx, rec); err != nil {
		if errors.Is(err, ErrOwnerExists) {
			v.logger.Info("key record created concurrently, using stored key",
				slog.String("owner", logging.MaskOwner(owner)))
			return v.lookup(ctx, owner)
		}
		return "", fmt.Errorf("insert key record: %w", err)
	}

	v.logger.Info("key record created",
		slog.String("owner", logging.MaskOwner(owner)),
		slog.String("record_id", rec.ID))
	return plain, nil
}

func parseKey(plain string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(plain, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return key, nil
}
