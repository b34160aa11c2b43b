package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/crypto-temple/internal/logging"
)

// GeminiConfig configures the Gemini client
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	BaseURL     string // override for tests
}

// GeminiClient implements Completer over the Gemini API
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
	logger      *logging.Logger
}

// NewGeminiClient creates a client
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/"
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		timeout:     cfg.Timeout,
		logger:      logging.WithComponent("llm").WithField("provider", "gemini"),
	}, nil
}

// Name implements Completer
func (c *GeminiClient) Name() string {
	return "gemini/" + c.model
}

// Complete implements Completer
func (c *GeminiClient) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := withDefaultTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(c.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	c.logger.WithFields(map[string]interface{}{
		"duration": time.Since(start).String(),
		"length":   len(text),
	}).Debug("Completion received")
	return text, nil
}
