package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsim/internal/crypto"
	"github.com/alanyoungcy/marketsim/internal/domain"
)

const testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

type fakeBackend struct {
	mu       sync.Mutex
	sent     []*types.Transaction
	status   uint64
	gasErr   error
	sendErr  error
	gasPrice *big.Int
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	if f.gasPrice != nil {
		return f.gasPrice, nil
	}
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.gasErr != nil {
		return 0, f.gasErr
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: f.status, TxHash: h}, nil
}

func newTestClient(t *testing.T, b *fakeBackend) *Client {
	t.Helper()
	pk, err := ethcrypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	return New(b, Config{
		ChainID:         84532,
		ContractAddress: "0x00000000000000000000000000000000000000aa",
	}, pk, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEnsureMarketOnChain_SendsCreateMarket(t *testing.T) {
	b := &fakeBackend{status: types.ReceiptStatusSuccessful}
	c := newTestClient(t, b)

	id, err := c.EnsureMarketOnChain(context.Background(), domain.Market{ID: "mkt-1"})
	require.NoError(t, err)

	key := crypto.MarketKey("mkt-1")
	assert.Equal(t, common.Hash(key).Hex(), id)

	require.Len(t, b.sent, 1)
	tx := b.sent[0]
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000aa"), *tx.To())
	// Estimated gas plus 20% headroom.
	assert.Equal(t, uint64(120_000), tx.Gas())

	want, err := marketsABI.Pack("createMarket", key)
	require.NoError(t, err)
	assert.Equal(t, want, tx.Data())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(84532)), tx)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x71562b71999873DB5b286dF957af199Ec94617F7"), sender)
}

func TestEnsureMarketOnChain_ExistingIDIsNoop(t *testing.T) {
	b := &fakeBackend{status: types.ReceiptStatusSuccessful}
	c := newTestClient(t, b)

	id, err := c.EnsureMarketOnChain(context.Background(), domain.Market{ID: "m", OnChainID: "0xdead"})
	require.NoError(t, err)
	assert.Equal(t, "0xdead", id)
	assert.Empty(t, b.sent)
}

func TestResolveMarketOnChain(t *testing.T) {
	b := &fakeBackend{status: types.ReceiptStatusSuccessful, gasErr: errors.New("estimate failed")}
	c := newTestClient(t, b)

	onChainID := common.Hash(crypto.MarketKey("mkt-2")).Hex()
	hash, err := c.ResolveMarketOnChain(context.Background(), onChainID, true)
	require.NoError(t, err)

	require.Len(t, b.sent, 1)
	assert.Equal(t, b.sent[0].Hash().Hex(), hash)
	assert.Equal(t, defaultGasLimit, b.sent[0].Gas())

	want, err := marketsABI.Pack("resolveMarket", crypto.MarketKey("mkt-2"), true)
	require.NoError(t, err)
	assert.Equal(t, want, b.sent[0].Data())
}

func TestResolveMarketOnChain_Reverted(t *testing.T) {
	b := &fakeBackend{status: types.ReceiptStatusFailed}
	c := newTestClient(t, b)

	_, err := c.ResolveMarketOnChain(context.Background(), common.Hash(crypto.MarketKey("x")).Hex(), false)
	assert.ErrorContains(t, err, "reverted")
}

func TestResolveMarketOnChain_BadID(t *testing.T) {
	c := newTestClient(t, &fakeBackend{})
	_, err := c.ResolveMarketOnChain(context.Background(), "0x1234", true)
	assert.Error(t, err)
}

func TestOutcomeHash(t *testing.T) {
	c := newTestClient(t, &fakeBackend{})
	yes := c.OutcomeHash("q1", true)
	assert.Equal(t, crypto.OutcomeHash("q1", true).Hex(), yes)
	assert.NotEqual(t, yes, c.OutcomeHash("q1", false))
}
