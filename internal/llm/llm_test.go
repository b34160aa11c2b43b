package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypto-temple/internal/config"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    string
		wantErr bool
	}{
		{
			name:  "plain object",
			reply: `{"probability": 88}`,
			want:  `{"probability": 88}`,
		},
		{
			name:  "fenced",
			reply: "```json\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "chatter around object",
			reply: "施主请看：{\"a\": {\"b\": 2}} 善哉",
			want:  `{"a": {"b": 2}}`,
		},
		{
			name:  "bare fences",
			reply: "```{\"a\":1}```",
			want:  `{"a":1}`,
		},
		{
			name:    "no braces",
			reply:   "天机不可泄露",
			wantErr: true,
		},
		{
			name:    "only opening brace",
			reply:   "{ oops",
			wantErr: true,
		},
		{
			name:    "closing before opening",
			reply:   "} backwards {",
			wantErr: true,
		},
		{
			name:    "empty",
			reply:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.reply)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoJSON)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_NoCredentials(t *testing.T) {
	c, err := New(context.Background(), config.LLMConfig{Provider: "openrouter"})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = New(context.Background(), config.LLMConfig{Provider: "none", OpenRouterAPIKey: "k"})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNew_SelectsProvider(t *testing.T) {
	c, err := New(context.Background(), config.LLMConfig{
		Provider:         "openrouter",
		OpenRouterAPIKey: "k",
		OpenRouterModel:  "deepseek/deepseek-chat",
	})
	require.NoError(t, err)
	assert.Equal(t, "openrouter/deepseek/deepseek-chat", c.Name())

	c, err = New(context.Background(), config.LLMConfig{
		Provider:     "gemini",
		GeminiAPIKey: "k",
		GeminiModel:  "gemini-2.0-flash",
	})
	require.NoError(t, err)
	assert.Equal(t, "gemini/gemini-2.0-flash", c.Name())
}
