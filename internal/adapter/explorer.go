package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/crypto-temple/internal/circuitbreaker"
	"github.com/crypto-temple/internal/logging"
)

const maxExplorerBody = 1 << 20

// ExplorerConfig configures one Etherscan-compatible explorer
type ExplorerConfig struct {
	Name              string
	BaseURL           string
	APIKey            string
	ChainID           int64 // sent as chainid when non-zero (Etherscan v2)
	RequiresKey       bool  // skip the explorer entirely without a key
	RequestsPerSecond int
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// ExplorerClient queries the account txlist endpoint of an
// Etherscan-compatible API.
type ExplorerClient struct {
	name        string
	baseURL     string
	apiKey      string
	chainID     int64
	requiresKey bool
	client      *http.Client
	limiter     *rate.Limiter
}

type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type explorerTx struct {
	Hash      string `json:"hash"`
	TimeStamp string `json:"timeStamp"`
}

// NewExplorerClient creates an explorer client
func NewExplorerClient(cfg ExplorerConfig) *ExplorerClient {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 3
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &ExplorerClient{
		name:        cfg.Name,
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		chainID:     cfg.ChainID,
		requiresKey: cfg.RequiresKey,
		client:      client,
		limiter:     rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Name returns the explorer name used in logs and metrics
func (c *ExplorerClient) Name() string {
	return c.name
}

// Enabled reports whether the explorer can be queried at all
func (c *ExplorerClient) Enabled() bool {
	return !c.requiresKey || c.apiKey != ""
}

// FirstTransaction returns the timestamp of the oldest transaction of
// address. An explicit "No transactions found" answer yields NewAccount
// instead of an error; every other non-success answer is an error.
func (c *ExplorerClient) FirstTransaction(ctx context.Context, address string) (FirstTx, error) {
	if !c.Enabled() {
		return FirstTx{}, ErrExplorerNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return FirstTx{}, err
	}

	body, err := c.doRequest(ctx, c.txlistURL(address))
	if err != nil {
		return FirstTx{}, NewAdapterError(c.name, "FirstTransaction", err, map[string]interface{}{
			"address": address,
		})
	}

	var resp explorerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return FirstTx{}, NewAdapterError(c.name, "FirstTransaction", fmt.Errorf("failed to parse response: %w", err), nil)
	}

	if resp.Status != "1" {
		if resp.Message == "No transactions found" {
			return FirstTx{NewAccount: true, Source: c.name}, nil
		}
		return FirstTx{}, NewAdapterError(c.name, "FirstTransaction", fmt.Errorf("explorer status %q: %s", resp.Status, resp.Message), nil)
	}

	var txs []explorerTx
	if err := json.Unmarshal(resp.Result, &txs); err != nil {
		return FirstTx{}, NewAdapterError(c.name, "FirstTransaction", fmt.Errorf("failed to parse result: %w", err), nil)
	}
	if len(txs) == 0 {
		return FirstTx{}, NewAdapterError(c.name, "FirstTransaction", ErrNoTransactions, nil)
	}

	secs, err := strconv.ParseInt(txs[0].TimeStamp, 10, 64)
	if err != nil {
		return FirstTx{}, NewAdapterError(c.name, "FirstTransaction", fmt.Errorf("invalid timeStamp %q: %w", txs[0].TimeStamp, err), nil)
	}
	return FirstTx{Timestamp: time.Unix(secs, 0).UTC(), Source: c.name}, nil
}

func (c *ExplorerClient) txlistURL(address string) string {
	q := url.Values{}
	if c.chainID > 0 {
		q.Set("chainid", strconv.FormatInt(c.chainID, 10))
	}
	q.Set("module", "account")
	q.Set("action", "txlist")
	q.Set("address", address)
	q.Set("startblock", "0")
	q.Set("endblock", "99999999")
	q.Set("page", "1")
	q.Set("offset", "1")
	q.Set("sort", "asc")
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}
	return c.baseURL + "?" + q.Encode()
}

func (c *ExplorerClient) doRequest(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExplorerBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrProviderRateLimit
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}

// FirstTxResolver asks the primary explorer first and falls back to the
// keyless explorer. Only the fallback may declare an address new.
type FirstTxResolver struct {
	primary  *ExplorerClient
	fallback *ExplorerClient
	breaker  *circuitbreaker.CircuitBreaker
	logger   *logging.Logger
}

// NewFirstTxResolver creates a resolver. primary may be disabled (no key),
// in which case only the fallback is queried.
func NewFirstTxResolver(primary, fallback *ExplorerClient, breaker *circuitbreaker.CircuitBreaker) *FirstTxResolver {
	if breaker == nil && primary != nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(primary.Name()))
	}
	return &FirstTxResolver{
		primary:  primary,
		fallback: fallback,
		breaker:  breaker,
		logger:   logging.WithComponent("explorer"),
	}
}

// FirstTransaction implements FirstTxLookup
func (r *FirstTxResolver) FirstTransaction(ctx context.Context, address string) (FirstTx, error) {
	if r.primary != nil && r.primary.Enabled() {
		var result FirstTx
		err := r.breaker.Execute(ctx, func() error {
			var err error
			result, err = r.primary.FirstTransaction(ctx, address)
			return err
		})
		if err == nil && !result.NewAccount {
			return result, nil
		}
		if ctx.Err() != nil {
			return FirstTx{}, ctx.Err()
		}
		if err == nil {
			err = ErrNoTransactions
		}
		r.logger.WithError(err).WithField("address", address).Debug("Primary explorer gave no date, using fallback")
	}

	if r.fallback == nil {
		return FirstTx{}, ErrNoExplorerData
	}

	result, err := r.fallback.FirstTransaction(ctx, address)
	if err != nil {
		r.logger.WithError(err).WithField("address", address).Warn("Fallback explorer failed")
		return FirstTx{}, fmt.Errorf("%w: %v", ErrNoExplorerData, err)
	}
	return result, nil
}
