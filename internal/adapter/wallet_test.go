package adapter

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdtAddress = "0xdAC17F958D2ee523a2206206994597C13D831ec7"

func newTestWallet(t *testing.T, backend TxBackend) *EthereumWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w, err := NewEthereumWallet(backend, hex.EncodeToString(crypto.FromECDSA(key)), 1, 5*time.Millisecond)
	require.NoError(t, err)
	return w
}

func TestEthereumWallet_SendNative(t *testing.T) {
	backend := newFakeBackend()
	backend.nonce = 3
	w := newTestWallet(t, backend)

	wei := new(big.Int).Mul(big.NewInt(5), big.NewInt(1e16)) // 0.05 ETH
	hash, err := w.SendNative(context.Background(), testAddress, wei)
	require.NoError(t, err)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash().Hex())
	assert.Equal(t, uint8(ethtypes.DynamicFeeTxType), tx.Type())
	assert.Equal(t, common.HexToAddress(testAddress), *tx.To())
	assert.Equal(t, 0, tx.Value().Cmp(wei))
	assert.Empty(t, tx.Data())
	assert.Equal(t, uint64(3), tx.Nonce())
	assert.Equal(t, uint64(21000), tx.Gas())
	// fee cap = 2*baseFee + tip
	assert.Equal(t, int64(41_000_000_000), tx.GasFeeCap().Int64())

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(1)), tx)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), sender.Hex())
}

func TestEthereumWallet_TransferToken(t *testing.T) {
	backend := newFakeBackend()
	backend.gas = 65000
	w := newTestWallet(t, backend)

	amount := big.NewInt(10_500_000) // 10.5 USDT
	_, err := w.TransferToken(context.Background(), usdtAddress, testAddress, amount)
	require.NoError(t, err)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, common.HexToAddress(usdtAddress), *tx.To())
	assert.Zero(t, tx.Value().Sign())

	data := tx.Data()
	require.Len(t, data, 4+32+32)
	assert.Equal(t, "a9059cbb", hex.EncodeToString(data[:4]))
	assert.Equal(t, common.HexToAddress(testAddress), common.BytesToAddress(data[4:36]))
	assert.Equal(t, 0, new(big.Int).SetBytes(data[36:68]).Cmp(amount))
}

func TestEthereumWallet_InvalidInputs(t *testing.T) {
	backend := newFakeBackend()
	w := newTestWallet(t, backend)

	_, err := w.SendNative(context.Background(), "0xnope", big.NewInt(1))
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = w.TransferToken(context.Background(), "0xnope", testAddress, big.NewInt(1))
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Empty(t, backend.sent)

	_, err = NewEthereumWallet(backend, "not-hex", 1, time.Second)
	assert.Error(t, err)
}

func TestEthereumWallet_WaitReceipt(t *testing.T) {
	backend := newFakeBackend()
	w := newTestWallet(t, backend)

	hash := common.HexToHash("0xabc")
	go func() {
		time.Sleep(20 * time.Millisecond)
		backend.setReceipt(hash, ethtypes.ReceiptStatusSuccessful)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := w.WaitReceipt(ctx, hash.Hex())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEthereumWallet_WaitReceiptReverted(t *testing.T) {
	backend := newFakeBackend()
	w := newTestWallet(t, backend)

	hash := common.HexToHash("0xdef")
	backend.setReceipt(hash, ethtypes.ReceiptStatusFailed)

	ok, err := w.WaitReceipt(context.Background(), hash.Hex())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEthereumWallet_WaitReceiptTimeout(t *testing.T) {
	backend := newFakeBackend()
	w := newTestWallet(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := w.WaitReceipt(ctx, common.HexToHash("0x1").Hex())
	assert.ErrorIs(t, err, ErrReceiptTimeout)
}
