package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRouterClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "http://localhost:5173", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "Crypto Temple", r.Header.Get("X-Title"))

		body, _ := io.ReadAll(r.Body)
		var req openRouterRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "deepseek/deepseek-chat", req.Model)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "sys", req.Messages[0].Content)
		assert.Equal(t, "user", req.Messages[1].Role)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"probability\":77}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenRouterClient(OpenRouterConfig{
		APIKey:      "secret",
		BaseURL:     srv.URL + "/",
		SiteURL:     "http://localhost:5173",
		SiteName:    "Crypto Temple",
		Temperature: 0.7,
		Timeout:     time.Second,
	})

	got, err := c.Complete(context.Background(), "sys", "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"probability":77}`, got)
}

func TestOpenRouterClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"api error object", http.StatusOK, `{"error":{"message":"model overloaded","code":503}}`},
		{"error with non-200", http.StatusUnauthorized, `{"error":{"message":"No auth credentials found","code":401}}`},
		{"non-json 502", http.StatusBadGateway, `<html>bad gateway</html>`},
		{"no choices", http.StatusOK, `{"choices":[]}`},
		{"malformed", http.StatusOK, `{"choices":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: srv.URL})
			_, err := c.Complete(context.Background(), "sys", "prompt")
			assert.Error(t, err)
			assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "no retries")
		})
	}
}

func TestOpenRouterClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Complete(context.Background(), "sys", "prompt")
	assert.Error(t, err)
}
