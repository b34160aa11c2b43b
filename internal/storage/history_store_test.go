package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypto-temple/internal/config"
	"github.com/crypto-temple/internal/types"
)

func testRecords() []types.HistoryRecord {
	return []types.HistoryRecord{
		{
			ID:        "1704110400000",
			Timestamp: 1704110400000,
			Project: types.ProjectInfo{
				Name:            "PEPE",
				Type:            types.CategoryPrimaryMeme,
				TransactionTime: time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC),
			},
			Result: types.DivinationResult{
				HexagramName: "乾为天",
				Probability:  88,
				FiveElements: types.FiveElements{Gold: 20, Wood: 20, Water: 20, Fire: 20, Earth: 20},
			},
		},
		{
			ID:         "1704110500000",
			Timestamp:  1704110500000,
			Project:    types.ProjectInfo{Name: "ETH", Type: types.CategorySecondary},
			IsNotified: true,
			Feedback:   types.FeedbackAccurate,
		},
	}
}

// exerciseHistoryStore runs the shared contract against any backend
func exerciseHistoryStore(t *testing.T, store HistoryStore) {
	t.Helper()
	ctx := testContext(t)

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	records := testRecords()
	require.NoError(t, store.Save(ctx, records))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, records[0].ID, got[0].ID)
	assert.Equal(t, records[0].Project.Name, got[0].Project.Name)
	assert.True(t, records[0].Project.TransactionTime.Equal(got[0].Project.TransactionTime))
	assert.Equal(t, 88, got[0].Result.Probability)
	assert.True(t, got[1].IsNotified)
	assert.Equal(t, types.FeedbackAccurate, got[1].Feedback)

	// Save replaces the whole document
	require.NoError(t, store.Save(ctx, got[:1]))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, store.Save(ctx, nil))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryHistoryStore(t *testing.T) {
	exerciseHistoryStore(t, NewMemoryHistoryStore())
}

func TestRedisHistoryStore(t *testing.T) {
	redis, mr := newTestRedis(t)
	store := NewRedisHistoryStore(redis, "")
	exerciseHistoryStore(t, store)

	require.NoError(t, store.Save(context.Background(), testRecords()))
	raw, err := mr.Get(DefaultHistoryKey)
	require.NoError(t, err)
	assert.Contains(t, raw, `"isNotified":true`)
	assert.Zero(t, mr.TTL(DefaultHistoryKey), "history never expires")
}

func TestRedisHistoryStore_CorruptDocument(t *testing.T) {
	redis, mr := newTestRedis(t)
	require.NoError(t, mr.Set(DefaultHistoryKey, "[{"))

	_, err := NewRedisHistoryStore(redis, DefaultHistoryKey).Load(testContext(t))
	assert.Error(t, err)
}

func TestPostgresHistoryStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "crypto_temple",
		User:           "temple",
		Password:       "temple_dev_password",
		MaxConnections: 4,
	}

	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
		return
	}
	defer db.Close()

	if err := RunMigrations(cfg.DSN(), "../../migrations/postgres"); err != nil {
		t.Skipf("Skipping test - migrations failed: %v", err)
	}

	store := NewPostgresHistoryStore(db, "temple_history_test")
	_, err = db.Pool().Exec(testContext(t), `DELETE FROM history_documents WHERE key = $1`, "temple_history_test")
	require.NoError(t, err)

	exerciseHistoryStore(t, store)
}

func TestNewHistoryStore(t *testing.T) {
	s, err := NewHistoryStore("memory", "", nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryHistoryStore{}, s)

	_, err = NewHistoryStore("redis", "", nil, nil)
	assert.Error(t, err)
	_, err = NewHistoryStore("postgres", "", nil, nil)
	assert.Error(t, err)
	_, err = NewHistoryStore("localStorage", "", nil, nil)
	assert.Error(t, err)
}
