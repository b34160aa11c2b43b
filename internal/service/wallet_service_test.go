package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypto-temple/internal/adapter"
	apperrors "github.com/crypto-temple/internal/errors"
	"github.com/crypto-temple/internal/fortune"
	"github.com/crypto-temple/internal/storage"
	"github.com/crypto-temple/internal/types"
)

func newTestWalletService(chain adapter.ChainReader, firstTx adapter.FirstTxLookup, cache storage.SnapshotCache) *WalletService {
	return NewWalletService(chain, firstTx, cache,
		WithWalletClock(fixedClock),
		WithPnLOracle(fixedPnL(types.PnLProfit)),
	)
}

func TestWalletService_Snapshot(t *testing.T) {
	chain := &mockChain{balance: etherWei(1, 0), nonce: 1500}
	svc := newTestWalletService(chain, firstTxOn("2016-03-01"), nil)

	snap, err := svc.Snapshot(context.Background(), testAddress)
	require.NoError(t, err)

	assert.Equal(t, testAddress, snap.Address)
	assert.Equal(t, "1.0000 ETH", snap.Balance)
	assert.Equal(t, uint64(1500), snap.TransactionCount)
	assert.Equal(t, "2016-03-01", snap.FirstTxDate)
	assert.Equal(t, fortune.WalletAge("2016-03-01", testNow), snap.WalletAge)
	assert.Equal(t, fortune.CyberBazi("2016-03-01"), snap.CyberBazi)
	assert.Equal(t, fortune.Elements(testAddress), snap.ElementalBase)
	assert.Equal(t, []string{TagGrinder, TagAncient}, snap.Tags)
	assert.Equal(t, types.PnLProfit, snap.PnLStatus)
	assert.False(t, snap.Degraded)
}

func TestWalletService_BalanceRounding(t *testing.T) {
	wei, _ := new(big.Int).SetString("123456789000000000", 10)
	svc := newTestWalletService(&mockChain{balance: wei}, nil, nil)

	snap, err := svc.Snapshot(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, "0.1235 ETH", snap.Balance)
}

func TestWalletService_NewAccount(t *testing.T) {
	chain := &mockChain{balance: big.NewInt(0)}
	firstTx := &mockFirstTx{result: adapter.FirstTx{NewAccount: true, Source: "blockscout"}}
	svc := newTestWalletService(chain, firstTx, nil)

	snap, err := svc.Snapshot(context.Background(), testAddress)
	require.NoError(t, err)

	assert.Equal(t, "2024-06-01", snap.FirstTxDate, "a new account is shown as born today")
	assert.Equal(t, types.UnknownValue, snap.WalletAge)
	assert.Equal(t, types.ChaosEra, snap.CyberBazi)
	assert.Equal(t, []string{TagBeggar}, snap.Tags, "no era tag without a real date")
}

func TestWalletService_ExplorerFailure(t *testing.T) {
	chain := &mockChain{balance: etherWei(5, 0), nonce: 3}
	firstTx := &mockFirstTx{err: adapter.ErrNoExplorerData}
	svc := newTestWalletService(chain, firstTx, nil)

	snap, err := svc.Snapshot(context.Background(), testAddress)
	require.NoError(t, err)

	assert.False(t, snap.Degraded, "an unknown date does not degrade the snapshot")
	assert.Equal(t, types.UnknownValue, snap.FirstTxDate)
	assert.Equal(t, types.UnknownValue, snap.WalletAge)
	assert.Equal(t, "5.0000 ETH", snap.Balance)
	assert.Empty(t, snap.Tags)
}

func TestWalletService_Degraded(t *testing.T) {
	chain := &mockChain{err: errors.New("rpc down")}
	cache := storage.NewMemorySnapshotCache(1, time.Minute, fixedClock)
	svc := newTestWalletService(chain, firstTxOn("2020-01-01"), cache)
	ctx := context.Background()

	snap, err := svc.Snapshot(ctx, testAddress)
	require.NoError(t, err)

	assert.True(t, snap.Degraded)
	assert.Equal(t, types.UnknownValue, snap.FirstTxDate)
	assert.Equal(t, types.UnknownValue, snap.WalletAge)
	assert.Equal(t, types.BalanceLoading, snap.Balance)
	assert.Equal(t, uint64(0), snap.TransactionCount)
	assert.Equal(t, types.PnLChaos, snap.PnLStatus)
	assert.Equal(t, []string{types.TagUnstable}, snap.Tags)
	assert.Equal(t, types.UndetectableBazi, snap.CyberBazi)
	assert.Equal(t, fortune.Elements(testAddress), snap.ElementalBase)

	_, ok, err := cache.Get(ctx, testAddress)
	require.NoError(t, err)
	assert.False(t, ok, "degraded snapshots are not cached")

	_, err = svc.Snapshot(ctx, testAddress)
	require.NoError(t, err)
	assert.Equal(t, int32(2), chain.balances.Load())
}

func TestWalletService_CacheHit(t *testing.T) {
	chain := &mockChain{balance: etherWei(1, 0)}
	cache := storage.NewMemorySnapshotCache(1, time.Minute, fixedClock)
	svc := newTestWalletService(chain, nil, cache)
	ctx := context.Background()

	first, err := svc.Snapshot(ctx, testAddress)
	require.NoError(t, err)

	second, err := svc.Snapshot(ctx, "0xE5B8988C90CA60D5F2A913CB3BD35A781AE7F242")
	require.NoError(t, err)

	assert.Equal(t, int32(1), chain.balances.Load(), "second lookup is served from cache")
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("cached snapshot differs (-first +second):\n%s", diff)
	}
	assert.Equal(t, types.PnLProfit, second.PnLStatus)
	assert.True(t, testNow.Equal(second.FetchedAt))
}

func TestWalletService_InvalidAddress(t *testing.T) {
	chain := &mockChain{balance: big.NewInt(0)}
	svc := newTestWalletService(chain, nil, nil)

	for _, addr := range []string{"", "0x123", "e5b8988c90ca60d5f2a913cb3bd35a781ae7f242", "0xZZb8988c90ca60d5f2a913cb3bd35a781ae7f242"} {
		_, err := svc.Snapshot(context.Background(), addr)
		require.Error(t, err, addr)
		assert.True(t, apperrors.IsUserError(err))
	}
	assert.Equal(t, int32(0), chain.balances.Load())
}

func TestWalletService_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := &mockChain{err: context.Canceled}
	svc := newTestWalletService(chain, nil, nil)

	_, err := svc.Snapshot(ctx, testAddress)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTags(t *testing.T) {
	tests := []struct {
		name  string
		ether string
		nonce uint64
		date  string
		want  []string
	}{
		{"exactly ten is not a whale", "10.0000", 0, types.UnknownValue, []string{}},
		{"whale", "10.0001", 0, types.UnknownValue, []string{TagWhale}},
		{"exactly one cent is not a beggar", "0.0100", 0, types.UnknownValue, []string{}},
		{"beggar", "0.0099", 0, types.UnknownValue, []string{TagBeggar}},
		{"nonce 1000", "1", 1000, types.UnknownValue, []string{}},
		{"grinder", "1", 1001, types.UnknownValue, []string{TagGrinder}},
		{"2017 ancient", "1", 0, "2017-12-31", []string{TagAncient}},
		{"2018 veteran", "1", 0, "2018-01-01", []string{TagVeteran}},
		{"2020 veteran", "1", 0, "2020-06-01", []string{TagVeteran}},
		{"2021 core", "1", 0, "2021-01-01", []string{TagCore}},
		{"2023 core", "1", 0, "2023-12-31", []string{TagCore}},
		{"2024 newcomer", "1", 0, "2024-01-01", []string{TagNewcomer}},
		{"all together", "20", 5000, "2015-08-07", []string{TagWhale, TagGrinder, TagAncient}},
		{"new account sentinel", "0", 0, "新晋账号", []string{TagBeggar}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tags(decimal.RequireFromString(tt.ether), tt.nonce, tt.date)
			assert.Equal(t, tt.want, got)
		})
	}
}
