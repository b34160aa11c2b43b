package adapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/crypto-temple/internal/logging"
)

// ethBackend is the subset of *ethclient.Client the temple uses
type ethBackend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	Close()
}

type dialFunc func(ctx context.Context, url string) (ethBackend, error)

func dialEthclient(ctx context.Context, url string) (ethBackend, error) {
	return ethclient.DialContext(ctx, url)
}

// EthereumClient is a JSON-RPC client that fails over between the
// endpoints of its EndpointSelector on transport errors. It implements both
// ChainReader and TxBackend.
type EthereumClient struct {
	endpoints EndpointSelector
	timeout   time.Duration
	dial      dialFunc
	logger    *logging.Logger

	mu      sync.Mutex
	backend ethBackend
	url     string
}

// NewEthereumClient creates a client that dials lazily on first use
func NewEthereumClient(endpoints EndpointSelector, timeout time.Duration) (*EthereumClient, error) {
	return newEthereumClient(endpoints, timeout, dialEthclient)
}

func newEthereumClient(endpoints EndpointSelector, timeout time.Duration, dial dialFunc) (*EthereumClient, error) {
	if endpoints == nil {
		return nil, fmt.Errorf("endpoints cannot be nil")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EthereumClient{
		endpoints: endpoints,
		timeout:   timeout,
		dial:      dial,
		logger:    logging.WithComponent("ethereum"),
	}, nil
}

// current returns the backend for the active endpoint URL, dialing it
// when the URL changed since the last call.
func (c *EthereumClient) current(ctx context.Context) (ethBackend, error) {
	url, err := c.endpoints.CurrentURL()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend != nil && c.url == url {
		return c.backend, nil
	}

	backend, err := c.dial(ctx, url)
	if err != nil {
		return nil, err
	}
	if c.backend != nil {
		c.backend.Close()
	}
	c.backend = backend
	c.url = url
	return backend, nil
}

// call runs fn against the active endpoint and retries once on the other
// endpoint when the failure looks like a transport problem.
func (c *EthereumClient) call(ctx context.Context, op string, fn func(ctx context.Context, b ethBackend) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.attempt(ctx, fn)
	if err == nil {
		return nil
	}

	if ctx.Err() == nil && shouldFailover(err) {
		if failErr := c.endpoints.Failover(); failErr == nil {
			url, _ := c.endpoints.CurrentURL()
			c.logger.WithError(err).WithFields(map[string]interface{}{
				"op":  op,
				"url": url,
			}).Warn("RPC failover")
			if err = c.attempt(ctx, fn); err == nil {
				return nil
			}
		}
	}

	return NewAdapterError("ethereum", op, err, nil)
}

func (c *EthereumClient) attempt(ctx context.Context, fn func(ctx context.Context, b ethBackend) error) error {
	backend, err := c.current(ctx)
	if err != nil {
		c.endpoints.RecordFailure(err)
		return err
	}

	start := time.Now()
	if err := fn(ctx, backend); err != nil {
		if err != ethereum.NotFound {
			c.endpoints.RecordFailure(err)
		}
		return err
	}
	c.endpoints.RecordSuccess(time.Since(start))
	return nil
}

// BalanceAt returns the latest balance of address in wei
func (c *EthereumClient) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	if !ValidateAddress(address) {
		return nil, NewAdapterError("ethereum", "BalanceAt", ErrInvalidAddress, map[string]interface{}{
			"address": address,
		})
	}

	var balance *big.Int
	err := c.call(ctx, "BalanceAt", func(ctx context.Context, b ethBackend) error {
		var err error
		balance, err = b.BalanceAt(ctx, common.HexToAddress(address), nil)
		return err
	})
	return balance, err
}

// NonceAt returns the latest nonce of address
func (c *EthereumClient) NonceAt(ctx context.Context, address string) (uint64, error) {
	if !ValidateAddress(address) {
		return 0, NewAdapterError("ethereum", "NonceAt", ErrInvalidAddress, map[string]interface{}{
			"address": address,
		})
	}

	var nonce uint64
	err := c.call(ctx, "NonceAt", func(ctx context.Context, b ethBackend) error {
		var err error
		nonce, err = b.NonceAt(ctx, common.HexToAddress(address), nil)
		return err
	})
	return nonce, err
}

// PendingNonceAt implements TxBackend
func (c *EthereumClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.call(ctx, "PendingNonceAt", func(ctx context.Context, b ethBackend) error {
		var err error
		nonce, err = b.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// SuggestGasTipCap implements TxBackend
func (c *EthereumClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var tip *big.Int
	err := c.call(ctx, "SuggestGasTipCap", func(ctx context.Context, b ethBackend) error {
		var err error
		tip, err = b.SuggestGasTipCap(ctx)
		return err
	})
	return tip, err
}

// HeaderByNumber implements TxBackend
func (c *EthereumClient) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	var header *ethtypes.Header
	err := c.call(ctx, "HeaderByNumber", func(ctx context.Context, b ethBackend) error {
		var err error
		header, err = b.HeaderByNumber(ctx, number)
		return err
	})
	return header, err
}

// EstimateGas implements TxBackend
func (c *EthereumClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := c.call(ctx, "EstimateGas", func(ctx context.Context, b ethBackend) error {
		var err error
		gas, err = b.EstimateGas(ctx, msg)
		return err
	})
	return gas, err
}

// SendTransaction implements TxBackend
func (c *EthereumClient) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	return c.call(ctx, "SendTransaction", func(ctx context.Context, b ethBackend) error {
		return b.SendTransaction(ctx, tx)
	})
}

// TransactionReceipt implements TxBackend. A pending transaction yields an
// error wrapping ethereum.NotFound.
func (c *EthereumClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	var receipt *ethtypes.Receipt
	err := c.call(ctx, "TransactionReceipt", func(ctx context.Context, b ethBackend) error {
		var err error
		receipt, err = b.TransactionReceipt(ctx, txHash)
		return err
	})
	return receipt, err
}

// Health returns the endpoint health for the health endpoint
func (c *EthereumClient) Health() *ProviderHealth {
	return c.endpoints.Health()
}

// Close closes the underlying connection
func (c *EthereumClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend != nil {
		c.backend.Close()
		c.backend = nil
	}
}

// shouldFailover determines if an error warrants failing over to the other endpoint
func shouldFailover(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return true
	}

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "503") {
		return true
	}

	return false
}
