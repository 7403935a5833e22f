// Package ledger mirrors prediction markets on an EVM chain. Off-chain state
// is authoritative; everything here is best-effort.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/marketsim/internal/crypto"
	"github.com/alanyoungcy/marketsim/internal/domain"
)

const (
	defaultGasLimit = uint64(250_000)
	receiptPoll     = 2 * time.Second
)

var marketsABI abi.ABI

func init() {
	var err error
	marketsABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "createMarket",
			"type": "function",
			"inputs": [{"name": "marketId", "type": "bytes32"}],
			"outputs": []
		},
		{
			"name": "resolveMarket",
			"type": "function",
			"inputs": [
				{"name": "marketId", "type": "bytes32"},
				{"name": "outcome", "type": "bool"}
			],
			"outputs": []
		}
	]`))
	if err != nil {
		panic("markets abi parse: " + err.Error())
	}
}

// Backend is the subset of ethclient.Client the ledger needs.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config configures a Client.
type Config struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	GasLimit        uint64
	Timeout         time.Duration
}

// Client implements domain.Ledger against a markets contract.
type Client struct {
	backend  Backend
	signer   *crypto.Signer
	contract common.Address
	gasLimit uint64
	timeout  time.Duration
	logger   *slog.Logger
}

// Dial connects to cfg.RPCURL and returns a Client that sends from pk.
func Dial(cfg Config, pk *ecdsa.PrivateKey, logger *slog.Logger) (*Client, error) {
	ec, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial rpc: %w", err)
	}
	return New(ec, cfg, pk, logger), nil
}

// New creates a Client over an existing backend.
func New(backend Backend, cfg Config, pk *ecdsa.PrivateKey, logger *slog.Logger) *Client {
	gas := cfg.GasLimit
	if gas == 0 {
		gas = defaultGasLimit
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		backend:  backend,
		signer:   crypto.NewSigner(pk, cfg.ChainID),
		contract: common.HexToAddress(cfg.ContractAddress),
		gasLimit: gas,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "ledger")),
	}
}

// EnsureMarketOnChain registers market with the contract. A market that
// already carries an on-chain id is returned unchanged.
func (c *Client) EnsureMarketOnChain(ctx context.Context, market domain.Market) (string, error) {
	if market.OnChainID != "" {
		return market.OnChainID, nil
	}
	key := crypto.MarketKey(market.ID)
	data, err := marketsABI.Pack("createMarket", key)
	if err != nil {
		return "", fmt.Errorf("ledger: pack createMarket: %w", err)
	}
	if _, err := c.send(ctx, data); err != nil {
		return "", fmt.Errorf("ledger: create market %s: %w", market.ID, err)
	}
	return common.Hash(key).Hex(), nil
}

// ResolveMarketOnChain records outcome for onChainID and returns the tx hash.
func (c *Client) ResolveMarketOnChain(ctx context.Context, onChainID string, outcome bool) (string, error) {
	key, err := hexToBytes32(onChainID)
	if err != nil {
		return "", fmt.Errorf("ledger: on-chain id %q: %w", onChainID, err)
	}
	data, err := marketsABI.Pack("resolveMarket", key, outcome)
	if err != nil {
		return "", fmt.Errorf("ledger: pack resolveMarket: %w", err)
	}
	hash, err := c.send(ctx, data)
	if err != nil {
		return "", fmt.Errorf("ledger: resolve %s: %w", onChainID, err)
	}
	return hash, nil
}

// OutcomeHash returns the hex keccak commitment for a question outcome.
func (c *Client) OutcomeHash(questionID string, outcome bool) string {
	return crypto.OutcomeHash(questionID, outcome).Hex()
}

// send signs and submits a call to the contract, then waits for a receipt.
// A receipt that does not arrive in time is logged and the hash returned.
func (c *Client) send(ctx context.Context, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	from := c.signer.Address()
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       &c.contract,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil || gas == 0 {
		gas = c.gasLimit
	} else {
		gas = gas * 12 / 10
	}

	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), gas, gasPrice, data)
	signed, err := c.signer.SignTx(tx)
	if err != nil {
		return "", err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}
	hash := signed.Hash()

	receipt, err := c.waitForReceipt(ctx, hash)
	if err != nil {
		c.logger.WarnContext(ctx, "ledger receipt not confirmed",
			slog.String("tx", hash.Hex()),
			slog.String("error", err.Error()),
		)
		return hash.Hex(), nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("tx reverted: %s", hash.Hex())
	}
	return hash.Hex(), nil
}

func (c *Client) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if r, err := c.backend.TransactionReceipt(ctx, hash); err == nil {
		return r, nil
	}
	t := time.NewTicker(receiptPoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
			r, err := c.backend.TransactionReceipt(ctx, hash)
			if err != nil {
				continue
			}
			return r, nil
		}
	}
}

func hexToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b := common.FromHex(s)
	if len(b) != 32 {
		return out, errors.New("expected 32 bytes")
	}
	copy(out[:], b)
	return out, nil
}

var _ domain.Ledger = (*Client)(nil)
