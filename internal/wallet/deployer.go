package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mentorcertai/cert-issuer/internal/chain"
)

const (
	DefaultReceiptAttempts = 5
	DefaultReceiptBackoff  = 2 * time.Second
)

var ErrNoDeployEvent = errors.New("could not find deployed contract address in transaction events")

// Deployment is the outcome of a sponsored account deployment.
type Deployment struct {
	TransactionHash common.Hash
	ContractAddress common.Address
}

// Deployer deploys student accounts through the paymaster and confirms them
// on chain.
type Deployer struct {
	paymaster *Paymaster
	receipts  chain.ReceiptReader
	classHash common.Hash
	udc       common.Address

	Attempts int
	Backoff  time.Duration
}

func NewDeployer(paymaster *Paymaster, receipts chain.ReceiptReader, classHash common.Hash, udc common.Address) *Deployer {
	return &Deployer{
		paymaster: paymaster,
		receipts:  receipts,
		classHash: classHash,
		udc:       udc,
		Attempts:  DefaultReceiptAttempts,
		Backoff:   DefaultReceiptBackoff,
	}
}

// Account returns the counterfactual account for owner.
func (d *Deployer) Account(owner common.Address) Account {
	return NewAccount(owner, d.classHash)
}

// Deploy runs the two paymaster calls for owner's account, waits for the
// receipt and reads the deployed address from the universal deployer event.
func (d *Deployer) Deploy(ctx context.Context, owner common.Address) (Deployment, error) {
	account := d.Account(owner)

	if _, err := d.paymaster.BuildTypedData(ctx, account); err != nil {
		return Deployment{}, err
	}
	txHash, err := d.paymaster.DeployAccount(ctx, account)
	if err != nil {
		return Deployment{}, err
	}
	slog.Info("account deployment submitted", "owner", owner.Hex(), "account", account.Address.Hex(), "tx", txHash.Hex())

	receipt, err := chain.PollReceipt(ctx, d.receipts, txHash, d.Attempts, d.Backoff)
	if err != nil {
		return Deployment{}, err
	}

	addr, ok := DeployedAddress(receipt, d.udc)
	if !ok {
		return Deployment{}, ErrNoDeployEvent
	}
	return Deployment{TransactionHash: txHash, ContractAddress: addr}, nil
}

// DeployedAddress reads the contract address from the first data word of the
// first log emitted by the universal deployer.
func DeployedAddress(receipt *types.Receipt, udc common.Address) (common.Address, bool) {
	for _, log := range receipt.Logs {
		if log.Address != udc || len(log.Data) < common.HashLength {
			continue
		}
		return common.BytesToAddress(log.Data[:common.HashLength]), true
	}
	return common.Address{}, false
}

// String is used in log lines.
func (d Deployment) String() string {
	return fmt.Sprintf("%s@%s", d.ContractAddress.Hex(), d.TransactionHash.Hex())
}
