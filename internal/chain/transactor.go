package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrReceiptNotFound is returned when a receipt is still missing after the
// polling budget is spent.
var ErrReceiptNotFound = errors.New("transaction receipt not found")

// ErrReverted is returned when a transaction was mined but failed.
var ErrReverted = errors.New("transaction reverted")

// Backend is the subset of ethclient.Client used to read state and submit
// transactions.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ReceiptReader fetches transaction receipts.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Transactor signs and submits transactions from a single account.
type Transactor struct {
	backend      Backend
	key          *ecdsa.PrivateKey
	from         common.Address
	chainID      *big.Int
	pollInterval time.Duration

	// serialises nonce selection
	mu sync.Mutex
}

// NewTransactor creates a transactor for the account controlled by key.
func NewTransactor(ctx context.Context, backend Backend, key *ecdsa.PrivateKey) (*Transactor, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	return &Transactor{
		backend:      backend,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:      chainID,
		pollInterval: time.Second,
	}, nil
}

// From returns the sending account.
func (t *Transactor) From() common.Address {
	return t.from
}

// SetPollInterval changes how often receipts are polled while waiting.
func (t *Transactor) SetPollInterval(d time.Duration) {
	t.pollInterval = d
}

// Call executes a read-only contract call against the latest block.
func (t *Transactor) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return t.backend.CallContract(ctx, ethereum.CallMsg{From: t.from, To: &to, Data: data}, nil)
}

// Send signs and submits a call to the contract at to.
func (t *Transactor) Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nonce, err := t.backend.PendingNonceAt(ctx, t.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}
	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: t.from, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas + gas/5,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(t.chainID), t.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	slog.Debug("transaction sent", "hash", signed.Hash().Hex(), "to", to.Hex(), "nonce", nonce)
	return signed.Hash(), nil
}

// SendAndWait submits a call and blocks until it is mined or ctx is done.
func (t *Transactor) SendAndWait(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error) {
	hash, err := t.Send(ctx, to, data)
	if err != nil {
		return nil, err
	}
	return WaitMined(ctx, t.backend, hash, t.pollInterval)
}

// WaitMined polls for the receipt of hash until it is available or ctx is
// done. A mined but failed transaction yields ErrReverted.
func WaitMined(ctx context.Context, r ReceiptReader, hash common.Hash, interval time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := r.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			return checkStatus(receipt)
		case !IsNotFound(err):
			return nil, fmt.Errorf("failed to get receipt for %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// PollReceipt makes up to attempts receipt lookups with a fixed backoff in
// between. Lookups that fail with a not-found error are retried; any other
// error is returned immediately.
func PollReceipt(ctx context.Context, r ReceiptReader, hash common.Hash, attempts int, backoff time.Duration) (*types.Receipt, error) {
	for attempt := 1; attempt <= attempts; attempt++ {
		receipt, err := r.TransactionReceipt(ctx, hash)
		if err == nil {
			return checkStatus(receipt)
		}
		if !IsNotFound(err) {
			return nil, fmt.Errorf("failed to get receipt for %s: %w", hash.Hex(), err)
		}

		slog.Debug("receipt not found yet", "hash", hash.Hex(), "attempt", attempt, "attempts", attempts)
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %s", ErrReceiptNotFound, attempts, hash.Hex())
}

// IsNotFound reports whether err means the receipt is not available yet.
func IsNotFound(err error) bool {
	if errors.Is(err, ethereum.NotFound) || errors.Is(err, ErrReceiptNotFound) {
		return true
	}
	// some providers only report it in the message
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "method not found") {
		return false
	}
	return msg == "not found" ||
		strings.Contains(msg, "transaction hash not found") ||
		strings.Contains(msg, "receipt not found")
}

func checkStatus(receipt *types.Receipt) (*types.Receipt, error) {
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, fmt.Errorf("%w: %s", ErrReverted, receipt.TxHash.Hex())
	}
	return receipt, nil
}
