package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/crypto-temple/internal/types"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// newTestRedis starts a miniredis server and returns a cache bound to it
func newTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisCacheFromClient(client), mr
}

func testSnapshot(address string) *types.WalletSnapshot {
	return &types.WalletSnapshot{
		Address:          address,
		FirstTxDate:      "2021-05-04",
		WalletAge:        "2年242天",
		Balance:          "1.2345 ETH",
		TransactionCount: 42,
		PnLStatus:        types.PnLProfit,
		Tags:             []string{"Web3中坚"},
		CyberBazi:        "辛丑年 · 农历5月 · 链上降世",
		ElementalBase:    types.FiveElements{Gold: 18, Wood: 23, Water: 25, Fire: 20, Earth: 15},
		FetchedAt:        time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}
