// Package assistant routes classified chat messages to the wallet core and
// reports every outcome back to the sender.
package assistant

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"runtime/debug"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/congo-pay/chatwallet/internal/chain"
	"github.com/congo-pay/chatwallet/internal/intent"
	"github.com/congo-pay/chatwallet/internal/keyvault"
	"github.com/congo-pay/chatwallet/internal/logging"
	"github.com/congo-pay/chatwallet/internal/notification"
	"github.com/congo-pay/chatwallet/internal/payments"
	"github.com/congo-pay/chatwallet/internal/txbuilder"
	"github.com/congo-pay/chatwallet/internal/wallet"
)

var (
	// ErrInvalidRecipient means the transfer target is not a hex address.
	ErrInvalidRecipient = errors.New("invalid recipient address")
	// ErrEmptySender means the inbound message had no sender to act for.
	ErrEmptySender = errors.New("message has no sender")
	// ErrTransferFailed means the operation was rejected or reverted.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrPanic is returned when handling a message panicked.
	ErrPanic = errors.New("message handler panicked")
)

// KeyResolver returns the signing key for an owner, creating it on first use.
type KeyResolver interface {
	ResolveKey(ctx context.Context, owner string) (*ecdsa.PrivateKey, error)
}

// Inbound is a chat message addressed to the assistant.
type Inbound struct {
	ID   string
	From string
	Text string
}

// Config selects the asset and chain transfers use.
type Config struct {
	ChainID     *big.Int
	Token       common.Address
	TokenSymbol string
}

// Service is the intent router.
type Service struct {
	classifier intent.Classifier
	keys       KeyResolver
	wallets    *wallet.Service
	builder    *txbuilder.Builder
	payments   *payments.Service
	notifier   notification.Notifier
	cfg        Config
	logger     *slog.Logger
}

// NewService wires the router.
func NewService(
	classifier intent.Classifier,
	keys KeyResolver,
	wallets *wallet.Service,
	builder *txbuilder.Builder,
	orchestrator *payments.Service,
	notifier notification.Notifier,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.TokenSymbol == "" {
		cfg.TokenSymbol = "DAI"
	}
	return &Service{
		classifier: classifier,
		keys:       keys,
		wallets:    wallets,
		builder:    builder,
		payments:   orchestrator,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
	}
}

type reply struct {
	kind string
	body string
}

// HandleMessage classifies in, performs the requested action and sends
// exactly one reply to the sender. The returned error is for logging; the
// user has already been told what happened.
func (s *Service) HandleMessage(ctx context.Context, in Inbound) (err error) {
	if strings.TrimSpace(in.From) == "" {
		return ErrEmptySender
	}
	log := s.logger.With(slog.String("owner", logging.MaskOwner(in.From)), slog.String("message_id", in.ID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("message handler panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			s.send(ctx, log, in.From, reply{notification.KindFailure, msgGeneric})
		}
	}()

	out, err := s.dispatch(ctx, in)
	if err != nil {
		log.Warn("message handling failed", slog.Any("error", err))
	}
	s.send(ctx, log, in.From, out)
	return err
}

// NotifyThrottled tells a sender that their messages are being dropped until
// the rate window resets.
func (s *Service) NotifyThrottled(ctx context.Context, to string) {
	if strings.TrimSpace(to) == "" {
		return
	}
	log := s.logger.With(slog.String("owner", logging.MaskOwner(to)))
	log.Info("sender throttled")
	s.send(ctx, log, to, reply{notification.KindFailure, msgThrottled})
}

func (s *Service) send(ctx context.Context, log *slog.Logger, to string, r reply) {
	if err := s.notifier.Send(ctx, notification.Message{Kind: r.kind, Destination: to, Body: r.body}); err != nil {
		log.Error("reply not delivered", slog.String("kind", r.kind), slog.Any("error", err))
	}
}

func (s *Service) dispatch(ctx context.Context, in Inbound) (reply, error) {
	classified, err := s.classifier.Classify(ctx, in.Text)
	if err != nil {
		return reply{notification.KindFailure, msgNotUnderstood}, fmt.Errorf("classify: %w", err)
	}

	switch it := classified.(type) {
	case intent.Transfer:
		return s.transfer(ctx, in.From, it)
	case intent.BalanceQuery:
		return s.balance(ctx, in.From)
	default:
		return reply{notification.KindHelp, msgHelp}, nil
	}
}

func (s *Service) account(ctx context.Context, owner string) (wallet.Account, error) {
	key, err := s.keys.ResolveKey(ctx, owner)
	if err != nil {
		return wallet.Account{}, fmt.Errorf("resolve key: %w", err)
	}
	return s.wallets.ResolveAccount(ctx, owner, key, s.cfg.ChainID)
}

func (s *Service) transfer(ctx context.Context, owner string, t intent.Transfer) (reply, error) {
	if !common.IsHexAddress(t.Recipient) {
		return failure(fmt.Errorf("%w: %q", ErrInvalidRecipient, t.Recipient))
	}
	recipient := common.HexToAddress(t.Recipient)

	account, err := s.account(ctx, owner)
	if err != nil {
		return failure(err)
	}
	built, err := s.builder.BuildTransfer(ctx, account, txbuilder.TransferRequest{
		Sender:    owner,
		Recipient: recipient,
		Token:     s.cfg.Token,
		Amount:    t.Amount,
	})
	if err != nil {
		return failure(err)
	}

	amount := built.DisplayAmount()
	res := s.payments.Submit(ctx, account.Signer, built.Op)
	switch res.Status {
	case payments.StatusConfirmed:
		ref := res.OperationHash
		if res.Receipt != nil && res.Receipt.TransactionHash != (common.Hash{}) {
			ref = res.Receipt.TransactionHash
		}
		return reply{notification.KindTransfer,
			fmt.Sprintf("Sent %s %s to %s.\nTransaction: %s", amount, s.cfg.TokenSymbol, recipient.Hex(), ref.Hex())}, nil
	case payments.StatusSubmitted:
		return reply{notification.KindTransfer,
			fmt.Sprintf("Your transfer of %s %s to %s was submitted and is awaiting confirmation.\nReference: %s",
				amount, s.cfg.TokenSymbol, recipient.Hex(), res.OperationHash.Hex())}, nil
	default:
		return reply{notification.KindFailure, fmt.Sprintf("Your transfer failed: %s", res.Reason)},
			fmt.Errorf("%w: %s", ErrTransferFailed, res.Reason)
	}
}

func (s *Service) balance(ctx context.Context, owner string) (reply, error) {
	account, err := s.account(ctx, owner)
	if err != nil {
		return failure(err)
	}
	bal, err := s.wallets.Balance(ctx, account)
	if err != nil {
		return failure(err)
	}
	return reply{notification.KindBalance, wallet.FormatBalance(bal)}, nil
}

func failure(err error) (reply, error) {
	return reply{notification.KindFailure, userMessage(err)}, err
}

const (
	msgHelp = "I can send money and check your balance.\n" +
		"Try \"send 5 to 0x...\" or \"what's my balance?\""
	msgNotUnderstood = "Sorry, I couldn't understand that right now. Please try again."
	msgGeneric       = "Something went wrong on our side. Please try again later."
	msgThrottled     = "You're sending messages too quickly. Please wait a minute and try again."
)

// userMessage turns a flow error into text that is safe to show the sender.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRecipient):
		return "That recipient doesn't look like a wallet address. Send it as 0x followed by 40 hex characters."
	case errors.Is(err, txbuilder.ErrInvalidAmount):
		return "I couldn't read that amount. Use a plain number such as 2.5."
	case errors.Is(err, txbuilder.ErrInvalidToken):
		return "That token isn't available right now."
	case errors.Is(err, keyvault.ErrCorruptRecord):
		return "Your wallet key could not be read. Please contact support."
	case errors.Is(err, chain.ErrUnsupportedChain), errors.Is(err, chain.ErrBackendUnavailable):
		return "The network is unavailable right now. Please try again later."
	default:
		return msgGeneric
	}
}
