package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/crypto-temple/internal/logging"
)

const maxResponseBody = 4 << 20

// OpenRouterConfig configures the OpenRouter chat-completions client
type OpenRouterConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	SiteURL     string // sent as HTTP-Referer
	SiteName    string // sent as X-Title
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// OpenRouterClient implements Completer over OpenRouter
type OpenRouterClient struct {
	apiKey      string
	baseURL     string
	model       string
	siteURL     string
	siteName    string
	temperature float64
	timeout     time.Duration
	httpClient  *http.Client
	logger      *logging.Logger
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterRequest struct {
	Model       string              `json:"model"`
	Messages    []openRouterMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
}

type openRouterResponse struct {
	Choices []struct {
		Message openRouterMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string      `json:"message"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

// NewOpenRouterClient creates a client
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek/deepseek-chat"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &OpenRouterClient{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		siteURL:     cfg.SiteURL,
		siteName:    cfg.SiteName,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		httpClient:  client,
		logger:      logging.WithComponent("llm").WithField("provider", "openrouter"),
	}
}

// Name implements Completer
func (c *OpenRouterClient) Name() string {
	return "openrouter/" + c.model
}

// Complete implements Completer. A single attempt is made.
func (c *OpenRouterClient) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := withDefaultTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	payload, err := json.Marshal(openRouterRequest{
		Model: c.model,
		Messages: []openRouterMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var orResp openRouterResponse
	if err := json.Unmarshal(body, &orResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncateBody(body))
		}
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if orResp.Error != nil {
		return "", fmt.Errorf("API error: %s", orResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncateBody(body))
	}
	if len(orResp.Choices) == 0 {
		return "", fmt.Errorf("no completion returned")
	}

	content := orResp.Choices[0].Message.Content
	c.logger.WithFields(map[string]interface{}{
		"duration": time.Since(start).String(),
		"length":   len(content),
	}).Debug("Completion received")
	return content, nil
}

func truncateBody(body []byte) string {
	const limit = 256
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
