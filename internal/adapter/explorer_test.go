package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypto-temple/internal/circuitbreaker"
)

const testAddress = "0xe5b8988c90ca60d5f2a913cb3bd35a781ae7f242"

func explorerServer(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		q := r.URL.Query()
		assert.Equal(t, "account", q.Get("module"))
		assert.Equal(t, "txlist", q.Get("action"))
		assert.Equal(t, "asc", q.Get("sort"))
		assert.Equal(t, "1", q.Get("offset"))
		assert.Equal(t, testAddress, q.Get("address"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExplorerClient_FirstTransaction(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		want        FirstTx
		wantErr     bool
		requiresKey bool
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{"status":"1","message":"OK","result":[{"hash":"0x1","timeStamp":"1438269988"}]}`,
			want:   FirstTx{Timestamp: time.Unix(1438269988, 0).UTC(), Source: "test"},
		},
		{
			name:   "no transactions",
			status: http.StatusOK,
			body:   `{"status":"0","message":"No transactions found","result":[]}`,
			want:   FirstTx{NewAccount: true, Source: "test"},
		},
		{
			name:    "notok",
			status:  http.StatusOK,
			body:    `{"status":"0","message":"NOTOK","result":"Invalid API Key"}`,
			wantErr: true,
		},
		{
			name:    "status one with empty result",
			status:  http.StatusOK,
			body:    `{"status":"1","message":"OK","result":[]}`,
			wantErr: true,
		},
		{
			name:    "http error",
			status:  http.StatusBadGateway,
			body:    `bad gateway`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			status:  http.StatusOK,
			body:    `{"status":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := explorerServer(t, tt.status, tt.body, nil)
			client := NewExplorerClient(ExplorerConfig{Name: "test", BaseURL: srv.URL, RequestsPerSecond: 100})

			got, err := client.FirstTransaction(context.Background(), testAddress)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExplorerClient_SendsKeyAndChainID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("apikey"))
		assert.Equal(t, "1", r.URL.Query().Get("chainid"))
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"timeStamp":"1500000000"}]}`))
	}))
	defer srv.Close()

	client := NewExplorerClient(ExplorerConfig{Name: "etherscan", BaseURL: srv.URL, APIKey: "secret", ChainID: 1, RequiresKey: true})
	_, err := client.FirstTransaction(context.Background(), testAddress)
	require.NoError(t, err)
}

func TestExplorerClient_RequiresKey(t *testing.T) {
	client := NewExplorerClient(ExplorerConfig{Name: "etherscan", BaseURL: "http://127.0.0.1:0", RequiresKey: true})
	assert.False(t, client.Enabled())
	_, err := client.FirstTransaction(context.Background(), testAddress)
	assert.ErrorIs(t, err, ErrExplorerNotConfigured)
}

func TestFirstTxResolver(t *testing.T) {
	okBody := `{"status":"1","message":"OK","result":[{"timeStamp":"1438269988"}]}`
	newBody := `{"status":"0","message":"No transactions found","result":[]}`
	failBody := `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`

	t.Run("primary answers", func(t *testing.T) {
		var fallbackHits int32
		primary := explorerServer(t, http.StatusOK, okBody, nil)
		fallback := explorerServer(t, http.StatusOK, okBody, &fallbackHits)

		r := NewFirstTxResolver(
			NewExplorerClient(ExplorerConfig{Name: "etherscan", BaseURL: primary.URL, APIKey: "k", RequiresKey: true}),
			NewExplorerClient(ExplorerConfig{Name: "blockscout", BaseURL: fallback.URL}),
			nil,
		)
		got, err := r.FirstTransaction(context.Background(), testAddress)
		require.NoError(t, err)
		assert.Equal(t, "etherscan", got.Source)
		assert.Zero(t, atomic.LoadInt32(&fallbackHits))
	})

	t.Run("primary failure falls back", func(t *testing.T) {
		primary := explorerServer(t, http.StatusOK, failBody, nil)
		fallback := explorerServer(t, http.StatusOK, okBody, nil)

		r := NewFirstTxResolver(
			NewExplorerClient(ExplorerConfig{Name: "etherscan", BaseURL: primary.URL, APIKey: "k", RequiresKey: true}),
			NewExplorerClient(ExplorerConfig{Name: "blockscout", BaseURL: fallback.URL}),
			nil,
		)
		got, err := r.FirstTransaction(context.Background(), testAddress)
		require.NoError(t, err)
		assert.Equal(t, "blockscout", got.Source)
		assert.Equal(t, int64(1438269988), got.Timestamp.Unix())
	})

	t.Run("primary no transactions is not trusted", func(t *testing.T) {
		primary := explorerServer(t, http.StatusOK, newBody, nil)
		fallback := explorerServer(t, http.StatusOK, okBody, nil)

		r := NewFirstTxResolver(
			NewExplorerClient(ExplorerConfig{Name: "etherscan", BaseURL: primary.URL, APIKey: "k", RequiresKey: true}),
			NewExplorerClient(ExplorerConfig{Name: "blockscout", BaseURL: fallback.URL}),
			nil,
		)
		got, err := r.FirstTransaction(context.Background(), testAddress)
		require.NoError(t, err)
		assert.False(t, got.NewAccount)
		assert.Equal(t, "blockscout", got.Source)
	})

	t.Run("no key goes straight to fallback which declares new account", func(t *testing.T) {
		var primaryHits int32
		primary := explorerServer(t, http.StatusOK, okBody, &primaryHits)
		fallback := explorerServer(t, http.StatusOK, newBody, nil)

		r := NewFirstTxResolver(
			NewExplorerClient(ExplorerConfig{Name: "etherscan", BaseURL: primary.URL, RequiresKey: true}),
			NewExplorerClient(ExplorerConfig{Name: "blockscout", BaseURL: fallback.URL}),
			nil,
		)
		got, err := r.FirstTransaction(context.Background(), testAddress)
		require.NoError(t, err)
		assert.True(t, got.NewAccount)
		assert.Zero(t, atomic.LoadInt32(&primaryHits))
	})

	t.Run("both fail", func(t *testing.T) {
		primary := explorerServer(t, http.StatusInternalServerError, "", nil)
		fallback := explorerServer(t, http.StatusOK, failBody, nil)

		r := NewFirstTxResolver(
			NewExplorerClient(ExplorerConfig{Name: "etherscan", BaseURL: primary.URL, APIKey: "k", RequiresKey: true}),
			NewExplorerClient(ExplorerConfig{Name: "blockscout", BaseURL: fallback.URL}),
			nil,
		)
		_, err := r.FirstTransaction(context.Background(), testAddress)
		assert.True(t, errors.Is(err, ErrNoExplorerData))
	})

	t.Run("open breaker skips primary", func(t *testing.T) {
		var primaryHits int32
		primary := explorerServer(t, http.StatusOK, okBody, &primaryHits)
		fallback := explorerServer(t, http.StatusOK, okBody, nil)

		breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("etherscan"))
		for i := 0; i < 10; i++ {
			_ = breaker.Execute(context.Background(), func() error { return errors.New("down") })
		}
		require.Equal(t, circuitbreaker.StateOpen, breaker.GetState())

		r := NewFirstTxResolver(
			NewExplorerClient(ExplorerConfig{Name: "etherscan", BaseURL: primary.URL, APIKey: "k", RequiresKey: true}),
			NewExplorerClient(ExplorerConfig{Name: "blockscout", BaseURL: fallback.URL}),
			breaker,
		)
		got, err := r.FirstTransaction(context.Background(), testAddress)
		require.NoError(t, err)
		assert.Equal(t, "blockscout", got.Source)
		assert.Zero(t, atomic.LoadInt32(&primaryHits))
	})
}
