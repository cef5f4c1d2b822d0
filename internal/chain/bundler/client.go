// Package bundler implements chain.Backend against an ERC-4337 bundler, a
// sponsorship paymaster and a plain chain RPC node.
package bundler

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/congo-pay/chatwallet/internal/chain"
	"github.com/congo-pay/chatwallet/internal/logging"
)

// Config describes the chain and account-abstraction deployment to talk to.
type Config struct {
	ChainID        *big.Int
	EntryPoint     common.Address
	Factory        common.Address
	Salt           *big.Int
	PaymasterMode  string
	SponsorTimeout time.Duration
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
	Tokens         []common.Address
	StableTokens   []common.Address
}

type ethCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

type rpcCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Client is the production chain.Backend.
type Client struct {
	cfg       Config
	eth       ethCaller
	bundler   rpcCaller
	paymaster rpcCaller
	logger    *slog.Logger
	closers   []func()
}

var _ chain.Backend = (*Client)(nil)

// Dial connects to the chain node, the bundler and (when paymasterURL is set)
// the paymaster. It fails if the node reports a different chain id.
func Dial(ctx context.Context, cfg Config, rpcURL, bundlerURL, paymasterURL string, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	remote, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	if cfg.ChainID != nil && remote.Cmp(cfg.ChainID) != 0 {
		eth.Close()
		return nil, fmt.Errorf("%w: node is on chain %s, configured %s", chain.ErrUnsupportedChain, remote, cfg.ChainID)
	}
	cfg.ChainID = remote

	bundler, err := rpc.DialContext(ctx, bundlerURL)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("dial bundler: %w", err)
	}
	closers := []func(){eth.Close, bundler.Close}

	var paymaster rpcCaller
	if paymasterURL != "" {
		pm, err := rpc.DialContext(ctx, paymasterURL)
		if err != nil {
			eth.Close()
			bundler.Close()
			return nil, fmt.Errorf("dial paymaster: %w", err)
		}
		paymaster = pm
		closers = append(closers, pm.Close)
	}

	c := newClient(cfg, eth, bundler, paymaster, logger)
	c.closers = closers
	return c, nil
}

func newClient(cfg Config, eth ethCaller, bundler, paymaster rpcCaller, logger *slog.Logger) *Client {
	if cfg.Salt == nil {
		cfg.Salt = new(big.Int)
	}
	if cfg.PaymasterMode == "" {
		cfg.PaymasterMode = "SPONSORED"
	}
	if cfg.SponsorTimeout <= 0 {
		cfg.SponsorTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{cfg: cfg, eth: eth, bundler: bundler, paymaster: paymaster, logger: logger}
}

// Close releases all connections.
func (c *Client) Close() {
	for _, fn := range c.closers {
		fn()
	}
}

// Ping checks that the chain node answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.eth.HeaderByNumber(ctx, nil)
	return err
}

// ChainID returns the chain this client is bound to.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.cfg.ChainID)
}

// DeriveAccount asks the account factory for the counterfactual address of
// signer's account and builds its initCode if it is not deployed yet.
func (c *Client) DeriveAccount(ctx context.Context, signer *ecdsa.PublicKey) (chain.Account, error) {
	owner := pubkeyAddress(signer)
	var addr common.Address
	if err := c.call(ctx, c.cfg.Factory, chain.AccountFactoryABI, "getAddress", &addr, owner, c.cfg.Salt); err != nil {
		return chain.Account{}, unavailable("factory getAddress", err)
	}
	code, err := c.eth.CodeAt(ctx, addr, nil)
	if err != nil {
		return chain.Account{}, unavailable("account code", err)
	}
	if len(code) > 0 {
		return chain.Account{Address: addr, Deployed: true}, nil
	}
	create, err := chain.AccountFactoryABI.Pack("createAccount", owner, c.cfg.Salt)
	if err != nil {
		return chain.Account{}, err
	}
	initCode := append(c.cfg.Factory.Bytes(), create...)
	return chain.Account{Address: addr, InitCode: initCode}, nil
}

// TokenDecimals reads decimals() from token. Non-contracts and non-tokens fail.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	var decimals uint8
	if err := c.call(ctx, token, chain.ERC20ABI, "decimals", &decimals); err != nil {
		return 0, err
	}
	return decimals, nil
}

// Nonce reads the EntryPoint nonce (key 0) of sender.
func (c *Client) Nonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	nonce := new(big.Int)
	if err := c.call(ctx, c.cfg.EntryPoint, chain.EntryPointABI, "getNonce", &nonce, sender, new(big.Int)); err != nil {
		return nil, unavailable("entrypoint getNonce", err)
	}
	return nonce, nil
}

// EstimateGas prices the operation from the latest base fee and asks the
// bundler for its three gas limits.
func (c *Client) EstimateGas(ctx context.Context, op *chain.UserOperation) (chain.GasLimits, error) {
	maxFee, tip, err := c.fees(ctx)
	if err != nil {
		return chain.GasLimits{}, unavailable("fee data", err)
	}
	probe := *op
	probe.Gas = &chain.GasLimits{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip}
	if len(probe.Signature) == 0 {
		probe.Signature = chain.DummySignature
	}

	var est gasEstimate
	if err := c.bundler.CallContext(ctx, &est, "eth_estimateUserOperationGas", &probe, c.cfg.EntryPoint); err != nil {
		return chain.GasLimits{}, fmt.Errorf("eth_estimateUserOperationGas: %w", err)
	}
	limits := est.limits()
	if !limits.Complete() {
		return chain.GasLimits{}, errors.New("bundler returned incomplete gas estimate")
	}
	limits.MaxFeePerGas = maxFee
	limits.MaxPriorityFeePerGas = tip
	return limits, nil
}

func (c *Client) fees(ctx context.Context) (*big.Int, *big.Int, error) {
	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, err
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	if head.BaseFee == nil {
		return tip, tip, nil
	}
	maxFee := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	return maxFee.Add(maxFee, tip), tip, nil
}

// SponsorshipData asks the paymaster to sponsor op. All failures wrap
// chain.ErrSponsorshipFailed.
func (c *Client) SponsorshipData(ctx context.Context, op *chain.UserOperation) (chain.Sponsorship, error) {
	if c.paymaster == nil {
		return chain.Sponsorship{}, fmt.Errorf("%w: no paymaster configured", chain.ErrSponsorshipFailed)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SponsorTimeout)
	defer cancel()

	var res sponsorResult
	err := c.paymaster.CallContext(ctx, &res, "pm_sponsorUserOperation", op, sponsorContext{
		Mode:               c.cfg.PaymasterMode,
		CalculateGasLimits: true,
	})
	if err != nil {
		return chain.Sponsorship{}, fmt.Errorf("%w: %v", chain.ErrSponsorshipFailed, err)
	}
	if len(res.PaymasterAndData) < common.AddressLength {
		return chain.Sponsorship{}, fmt.Errorf("%w: malformed paymasterAndData", chain.ErrSponsorshipFailed)
	}
	sp := chain.Sponsorship{PaymasterAndData: res.PaymasterAndData}
	if limits := res.limits(); limits.Complete() {
		sp.Gas = &limits
	}
	return sp, nil
}

// SubmitOperation hands op to the bundler. JSON-RPC errors are rejections;
// anything else is treated as the bundler being unavailable.
func (c *Client) SubmitOperation(ctx context.Context, op *chain.UserOperation) (common.Hash, error) {
	var hash common.Hash
	if err := c.bundler.CallContext(ctx, &hash, "eth_sendUserOperation", op, c.cfg.EntryPoint); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return common.Hash{}, fmt.Errorf("bundler rejected operation: %w", err)
		}
		return common.Hash{}, unavailable("eth_sendUserOperation", err)
	}
	return hash, nil
}

// WaitForReceipt polls the bundler until the operation is mined or the
// receipt timeout elapses. Transient polling errors are tolerated.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash) (chain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		var res *receiptResult
		err := c.bundler.CallContext(ctx, &res, "eth_getUserOperationReceipt", hash)
		switch {
		case err != nil:
			lastErr = err
			c.logger.Debug("receipt poll failed", slog.String("op_hash", hash.Hex()), slog.Any("error", err))
		case res != nil:
			return res.receipt(hash), nil
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return chain.Receipt{}, fmt.Errorf("%w: %v", chain.ErrReceiptTimeout, lastErr)
			}
			return chain.Receipt{}, chain.ErrReceiptTimeout
		case <-ticker.C:
		}
	}
}

// AggregateBalance sums the configured stablecoins 1:1 into USD and lists
// every configured token plus the native coin.
func (c *Client) AggregateBalance(ctx context.Context, account common.Address) (chain.AggregateBalance, error) {
	out := chain.AggregateBalance{Denomination: "USD"}

	native, err := c.eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return chain.AggregateBalance{}, unavailable("native balance", err)
	}
	out.Assets = append(out.Assets, chain.AssetBalance{Symbol: "ETH", Amount: units(native, 18)})

	stable := make(map[common.Address]bool, len(c.cfg.StableTokens))
	for _, t := range c.cfg.StableTokens {
		stable[t] = true
	}
	for _, token := range c.cfg.Tokens {
		asset, err := c.tokenBalance(ctx, token, account)
		if err != nil {
			return chain.AggregateBalance{}, unavailable("token balance", err)
		}
		if stable[token] {
			asset.ValueUSD = asset.Amount
			out.Total = out.Total.Add(asset.Amount)
		}
		out.Assets = append(out.Assets, asset)
	}
	return out, nil
}

func (c *Client) tokenBalance(ctx context.Context, token, account common.Address) (chain.AssetBalance, error) {
	var (
		raw      = new(big.Int)
		decimals uint8
		symbol   string
	)
	if err := c.call(ctx, token, chain.ERC20ABI, "balanceOf", &raw, account); err != nil {
		return chain.AssetBalance{}, err
	}
	if err := c.call(ctx, token, chain.ERC20ABI, "decimals", &decimals); err != nil {
		return chain.AssetBalance{}, err
	}
	if err := c.call(ctx, token, chain.ERC20ABI, "symbol", &symbol); err != nil {
		symbol = token.Hex()
	}
	return chain.AssetBalance{Token: token, Symbol: symbol, Amount: units(raw, decimals)}, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, chain.ErrBackendUnavailable, err)
}
