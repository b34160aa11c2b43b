package adapter

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/crypto-temple/internal/logging"
)

const erc20TransferABI = `[{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"payable":false,"stateMutability":"nonpayable","type":"function"}]`

// TxBackend is what a wallet needs from a chain connection.
// *EthereumClient and *ethclient.Client both satisfy it.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Wallet signs and broadcasts donations
type Wallet interface {
	// SendNative transfers wei of ether to to and returns the tx hash
	SendNative(ctx context.Context, to string, wei *big.Int) (string, error)

	// TransferToken calls transfer(to, amount) on the ERC-20 token contract
	TransferToken(ctx context.Context, token, to string, amount *big.Int) (string, error)

	// WaitReceipt blocks until the transaction is mined and reports whether
	// it succeeded.
	WaitReceipt(ctx context.Context, txHash string) (bool, error)
}

// EthereumWallet is a Wallet backed by a local private key. It signs
// EIP-1559 transactions.
type EthereumWallet struct {
	backend      TxBackend
	key          *ecdsa.PrivateKey
	from         common.Address
	chainID      *big.Int
	pollInterval time.Duration
	erc20        abi.ABI
	logger       *logging.Logger
}

// NewEthereumWallet creates a wallet from a hex encoded private key
func NewEthereumWallet(backend TxBackend, hexKey string, chainID int64, pollInterval time.Duration) (*EthereumWallet, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = 4 * time.Second
	}
	return &EthereumWallet{
		backend:      backend,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:      big.NewInt(chainID),
		pollInterval: pollInterval,
		erc20:        parsed,
		logger:       logging.WithComponent("wallet"),
	}, nil
}

// Address returns the signer address
func (w *EthereumWallet) Address() string {
	return w.from.Hex()
}

// SendNative implements Wallet
func (w *EthereumWallet) SendNative(ctx context.Context, to string, wei *big.Int) (string, error) {
	if !ValidateAddress(to) {
		return "", ErrInvalidAddress
	}
	return w.send(ctx, common.HexToAddress(to), wei, nil)
}

// TransferToken implements Wallet
func (w *EthereumWallet) TransferToken(ctx context.Context, token, to string, amount *big.Int) (string, error) {
	if !ValidateAddress(token) || !ValidateAddress(to) {
		return "", ErrInvalidAddress
	}
	data, err := w.erc20.Pack("transfer", common.HexToAddress(to), amount)
	if err != nil {
		return "", fmt.Errorf("failed to encode transfer: %w", err)
	}
	return w.send(ctx, common.HexToAddress(token), big.NewInt(0), data)
}

func (w *EthereumWallet) send(ctx context.Context, to common.Address, value *big.Int, data []byte) (string, error) {
	nonce, err := w.backend.PendingNonceAt(ctx, w.from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	tip, err := w.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to suggest tip: %w", err)
	}

	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  w.from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	w.logger.WithFields(map[string]interface{}{
		"txHash": signed.Hash().Hex(),
		"to":     to.Hex(),
		"nonce":  nonce,
	}).Info("Donation transaction broadcast")
	return signed.Hash().Hex(), nil
}

// WaitReceipt implements Wallet by polling for the receipt
func (w *EthereumWallet) WaitReceipt(ctx context.Context, txHash string) (bool, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt.Status == ethtypes.ReceiptStatusSuccessful, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			w.logger.WithError(err).WithField("txHash", txHash).Warn("Receipt lookup failed")
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return false, ErrReceiptTimeout
			}
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
