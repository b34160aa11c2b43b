// Package llm talks to the hosted language models that produce divinations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crypto-temple/internal/config"
	"github.com/crypto-temple/internal/logging"
)

// ErrNoJSON is returned when a reply contains no {...} pair
var ErrNoJSON = errors.New("no JSON object in reply")

// Completer sends one system+user exchange and returns the raw reply text
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Name() string
}

// New builds the completer selected by cfg. It returns (nil, nil) when the
// provider is "none" or has no API key, in which case callers fall back to
// the placeholder result.
func New(ctx context.Context, cfg config.LLMConfig) (Completer, error) {
	if !cfg.HasCredentials() {
		logging.WithComponent("llm").WithField("provider", cfg.Provider).Warn("No API key configured, divinations will use the placeholder")
		return nil, nil
	}

	switch cfg.Provider {
	case "openrouter":
		return NewOpenRouterClient(OpenRouterConfig{
			APIKey:      cfg.OpenRouterAPIKey,
			BaseURL:     cfg.OpenRouterURL,
			Model:       cfg.OpenRouterModel,
			SiteURL:     cfg.SiteURL,
			SiteName:    cfg.SiteName,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}), nil
	case "gemini":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:      cfg.GeminiAPIKey,
			Model:       cfg.GeminiModel,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// ExtractJSON cleans a model reply down to its JSON object: code fence
// markers are removed, then everything outside the first '{' and the last
// '}' is dropped.
func ExtractJSON(reply string) (string, error) {
	content := strings.ReplaceAll(reply, "```json", "")
	content = strings.ReplaceAll(content, "```", "")
	content = strings.TrimSpace(content)

	first := strings.Index(content, "{")
	last := strings.LastIndex(content, "}")
	if first == -1 || last == -1 || last < first {
		return "", ErrNoJSON
	}
	return content[first : last+1], nil
}

func withDefaultTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
