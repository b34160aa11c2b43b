// Package adapter contains the clients for everything outside the process
// that the temple talks to on chain: Ethereum JSON-RPC, Etherscan-compatible
// explorers and the donation wallet.
package adapter

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"time"
)

// ChainReader reads the account state a wallet snapshot needs
type ChainReader interface {
	// BalanceAt returns the latest native balance in wei
	BalanceAt(ctx context.Context, address string) (*big.Int, error)

	// NonceAt returns the latest outgoing transaction count
	NonceAt(ctx context.Context, address string) (uint64, error)
}

// FirstTx is the outcome of a first-transaction lookup
type FirstTx struct {
	// Timestamp of the earliest transaction. Zero when NewAccount is set.
	Timestamp time.Time
	// NewAccount is set when the explorer positively reported that the
	// address has no transactions yet.
	NewAccount bool
	// Source names the explorer that answered
	Source string
}

// FirstTxLookup resolves the earliest transaction of an address
type FirstTxLookup interface {
	FirstTransaction(ctx context.Context, address string) (FirstTx, error)
}

// Common error types for adapters

var (
	// ErrInvalidAddress indicates the address format is invalid
	ErrInvalidAddress = fmt.Errorf("invalid address format")

	// ErrProviderUnavailable indicates the data provider is unavailable
	ErrProviderUnavailable = fmt.Errorf("data provider unavailable")

	// ErrProviderRateLimit indicates the provider rate limit was exceeded
	ErrProviderRateLimit = fmt.Errorf("provider rate limit exceeded")

	// ErrNoTransactions indicates the explorer reported an empty history
	ErrNoTransactions = fmt.Errorf("no transactions found")

	// ErrExplorerNotConfigured indicates the explorer has no API key
	ErrExplorerNotConfigured = fmt.Errorf("explorer not configured")

	// ErrNoExplorerData indicates every explorer failed to answer
	ErrNoExplorerData = fmt.Errorf("no explorer could resolve first transaction")

	// ErrReceiptTimeout indicates a donation was not mined in time
	ErrReceiptTimeout = fmt.Errorf("timed out waiting for receipt")
)

// AdapterError wraps errors with additional context
type AdapterError struct {
	Provider string
	Op       string // Operation that failed (e.g., "BalanceAt", "FirstTransaction")
	Err      error
	Details  map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("adapter error [%s:%s]: %v (details: %+v)", e.Provider, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("adapter error [%s:%s]: %v", e.Provider, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(provider, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Provider: provider,
		Op:       op,
		Err:      err,
		Details:  details,
	}
}

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ValidateAddress checks if address format is valid for Ethereum:
// 0x followed by 40 hex characters.
func ValidateAddress(address string) bool {
	return addressPattern.MatchString(address)
}
