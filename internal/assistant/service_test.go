package assistant

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/chatwallet/internal/chain"
	"github.com/congo-pay/chatwallet/internal/chain/chaintest"
	"github.com/congo-pay/chatwallet/internal/intent"
	"github.com/congo-pay/chatwallet/internal/keyvault"
	"github.com/congo-pay/chatwallet/internal/notification"
	"github.com/congo-pay/chatwallet/internal/payments"
	"github.com/congo-pay/chatwallet/internal/txbuilder"
	"github.com/congo-pay/chatwallet/internal/wallet"
)

const owner = "+15551234567"

var (
	dai        = common.HexToAddress("0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1")
	entryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	recipient  = "0xAbC0000000000000000000000000000000000001"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, m notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, m)
	return nil
}

func (n *recordingNotifier) only(t *testing.T) notification.Message {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.Len(t, n.sent, 1)
	return n.sent[0]
}

type fixedClassifier struct {
	intent intent.Intent
	err    error
}

func (c fixedClassifier) Classify(context.Context, string) (intent.Intent, error) {
	return c.intent, c.err
}

type panicClassifier struct{}

func (panicClassifier) Classify(context.Context, string) (intent.Intent, error) {
	panic("classifier exploded")
}

type harness struct {
	svc      *Service
	backend  *chaintest.Backend
	repo     keyvault.Repository
	notifier *recordingNotifier
}

func newHarness(t *testing.T, classifier intent.Classifier) *harness {
	t.Helper()
	backend := chaintest.New()
	backend.Decimals[dai] = 18
	repo := keyvault.NewMemoryRepository()
	cipher, err := keyvault.NewCipher(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	vault, err := keyvault.NewVault(repo, cipher, nil, nil)
	require.NoError(t, err)
	notifier := &recordingNotifier{}

	svc := NewService(
		classifier,
		vault,
		wallet.NewService(backend),
		txbuilder.NewBuilder(backend, nil),
		payments.NewService(backend, entryPoint, nil),
		notifier,
		Config{ChainID: big.NewInt(10), Token: dai},
		nil,
	)
	return &harness{svc: svc, backend: backend, repo: repo, notifier: notifier}
}

func (h *harness) keyRecords(t *testing.T) int {
	t.Helper()
	n, err := h.repo.CountByOwner(context.Background(), owner)
	require.NoError(t, err)
	return n
}

func TestHandleMessageTransferConfirmed(t *testing.T) {
	h := newHarness(t, fixedClassifier{intent: intent.Transfer{Recipient: recipient, Amount: "2.0"}})
	h.backend.Sponsor = chain.Sponsorship{PaymasterAndData: common.FromHex("0x00000f79b7faf42eebadba19acc07cd08af44789")}

	err := h.svc.HandleMessage(context.Background(), Inbound{ID: "m1", From: owner, Text: "send 2 DAI"})
	require.NoError(t, err)

	msg := h.notifier.only(t)
	assert.Equal(t, notification.KindTransfer, msg.Kind)
	assert.Equal(t, owner, msg.Destination)
	assert.True(t, strings.HasPrefix(msg.Body, "Sent 2 DAI to "+common.HexToAddress(recipient).Hex()), msg.Body)
	assert.Equal(t, 1, h.keyRecords(t))

	require.Len(t, h.backend.Submitted, 1)
	sent := h.backend.Submitted[0]
	require.NotNil(t, sent.Sponsorship)
	args, err := chain.SmartAccountABI.Methods["execute"].Inputs.Unpack(sent.CallData[4:])
	require.NoError(t, err)
	inner, err := chain.ERC20ABI.Methods["transfer"].Inputs.Unpack(args[2].([]byte)[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(recipient), inner[0])
	assert.Equal(t, "2000000000000000000", inner[1].(*big.Int).String())
}

func TestHandleMessageReusesWallet(t *testing.T) {
	h := newHarness(t, fixedClassifier{intent: intent.Transfer{Recipient: recipient, Amount: "1"}})

	for i := 0; i < 2; i++ {
		require.NoError(t, h.svc.HandleMessage(context.Background(), Inbound{From: owner}))
	}

	assert.Equal(t, 1, h.keyRecords(t))
	require.Len(t, h.backend.Submitted, 2)
	assert.Equal(t, h.backend.Submitted[0].Sender, h.backend.Submitted[1].Sender)
}

func TestHandleMessageSponsorshipFallback(t *testing.T) {
	h := newHarness(t, fixedClassifier{intent: intent.Transfer{Recipient: recipient, Amount: "1"}})
	h.backend.SponsorErr = errors.New("paymaster down")

	require.NoError(t, h.svc.HandleMessage(context.Background(), Inbound{From: owner}))

	assert.Equal(t, notification.KindTransfer, h.notifier.only(t).Kind)
	require.Len(t, h.backend.Submitted, 1)
	assert.Nil(t, h.backend.Submitted[0].Sponsorship)
}

func TestHandleMessageInvalidRecipient(t *testing.T) {
	h := newHarness(t, fixedClassifier{intent: intent.Transfer{Recipient: "bob", Amount: "1"}})

	err := h.svc.HandleMessage(context.Background(), Inbound{From: owner})
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	msg := h.notifier.only(t)
	assert.Equal(t, notification.KindFailure, msg.Kind)
	assert.Contains(t, msg.Body, "0x followed by 40 hex characters")
	assert.Equal(t, 0, h.keyRecords(t))
	assert.Empty(t, h.backend.Calls)
}

func TestHandleMessageInvalidAmount(t *testing.T) {
	h := newHarness(t, fixedClassifier{intent: intent.Transfer{Recipient: recipient, Amount: "lots"}})

	err := h.svc.HandleMessage(context.Background(), Inbound{From: owner})
	assert.ErrorIs(t, err, txbuilder.ErrInvalidAmount)
	assert.Contains(t, h.notifier.only(t).Body, "couldn't read that amount")
	assert.Equal(t, 1, h.keyRecords(t), "only the key record is left behind")
	assert.False(t, h.backend.Called("SubmitOperation"))
}

func TestHandleMessageReverted(t *testing.T) {
	h := newHarness(t, fixedClassifier{intent: intent.Transfer{Recipient: recipient, Amount: "1"}})
	h.backend.Receipt = chain.Receipt{Success: false, Reason: "transfer amount exceeds balance"}

	err := h.svc.HandleMessage(context.Background(), Inbound{From: owner})
	assert.ErrorIs(t, err, ErrTransferFailed)
	msg := h.notifier.only(t)
	assert.Equal(t, notification.KindFailure, msg.Kind)
	assert.Contains(t, msg.Body, "exceeds balance")
}

func TestHandleMessageBalance(t *testing.T) {
	h := newHarness(t, fixedClassifier{intent: intent.BalanceQuery{}})
	h.backend.Balances = chain.AggregateBalance{
		Denomination: "USD",
		Total:        decimal.RequireFromString("12.5"),
		Assets:       []chain.AssetBalance{{Symbol: "DAI", Amount: decimal.RequireFromString("12.5")}},
	}

	require.NoError(t, h.svc.HandleMessage(context.Background(), Inbound{From: owner}))

	msg := h.notifier.only(t)
	assert.Equal(t, notification.KindBalance, msg.Kind)
	assert.Equal(t, "Your balance is 12.50 USD\nDAI: 12.5", msg.Body)
}

func TestHandleMessageBalanceUnavailable(t *testing.T) {
	h := newHarness(t, fixedClassifier{intent: intent.BalanceQuery{}})
	h.backend.BalanceErr = errors.New("rpc timeout")

	err := h.svc.HandleMessage(context.Background(), Inbound{From: owner})
	assert.ErrorIs(t, err, chain.ErrBackendUnavailable)
	assert.Contains(t, h.notifier.only(t).Body, "network is unavailable")
}

func TestHandleMessageUnknownGetsHelp(t *testing.T) {
	h := newHarness(t, fixedClassifier{intent: intent.Unknown{Action: "request_payment"}})

	require.NoError(t, h.svc.HandleMessage(context.Background(), Inbound{From: owner}))
	assert.Equal(t, notification.KindHelp, h.notifier.only(t).Kind)
	assert.Equal(t, 0, h.keyRecords(t))
}

func TestHandleMessageClassifierError(t *testing.T) {
	h := newHarness(t, fixedClassifier{err: intent.ErrClassifierUnavailable})

	err := h.svc.HandleMessage(context.Background(), Inbound{From: owner})
	assert.ErrorIs(t, err, intent.ErrClassifierUnavailable)
	assert.Equal(t, notification.KindFailure, h.notifier.only(t).Kind)
}

func TestHandleMessageRecoversPanic(t *testing.T) {
	h := newHarness(t, panicClassifier{})

	err := h.svc.HandleMessage(context.Background(), Inbound{From: owner})
	assert.ErrorIs(t, err, ErrPanic)
	assert.Equal(t, notification.KindFailure, h.notifier.only(t).Kind)
}

func TestHandleMessageRequiresSender(t *testing.T) {
	h := newHarness(t, fixedClassifier{intent: intent.BalanceQuery{}})

	err := h.svc.HandleMessage(context.Background(), Inbound{From: " "})
	assert.ErrorIs(t, err, ErrEmptySender)
	assert.Empty(t, h.notifier.sent)
}
