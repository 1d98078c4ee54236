package certificate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mentorcertai/cert-issuer/internal/metrics"
	"github.com/mentorcertai/cert-issuer/internal/wallet"
)

var ErrWalletsDisabled = errors.New("wallet management is not configured")

// CreateWallet creates the user's wallet, or returns the existing one.
// created is false when the wallet already existed.
func (s *Service) CreateWallet(ctx context.Context, userID string) (w Wallet, created bool, err error) {
	if s.deps.Vault == nil {
		return Wallet{}, false, ErrWalletsDisabled
	}

	w, err = s.db.GetWallet(ctx, userID)
	if err == nil {
		return w, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Wallet{}, false, err
	}

	material, err := s.deps.Vault.New()
	if err != nil {
		return Wallet{}, false, err
	}
	w = Wallet{
		UserID:         userID,
		EncryptedKey:   material.EncryptedKey,
		OwnerAddress:   material.Owner.Hex(),
		AccountAddress: material.Account.Hex(),
		CreatedAt:      s.opts.Now().UTC(),
	}
	if err := s.db.CreateWallet(ctx, w); err != nil {
		if errors.Is(err, ErrWalletExists) {
			// lost a race with a concurrent request
			existing, getErr := s.db.GetWallet(ctx, userID)
			return existing, false, getErr
		}
		return Wallet{}, false, err
	}

	slog.Info("wallet created", "user", userID, "account", w.AccountAddress)
	return w, true, nil
}

// DeployWallet deploys the user's account through the paymaster. Deploying
// an already deployed wallet returns it unchanged.
func (s *Service) DeployWallet(ctx context.Context, userID string) (Wallet, error) {
	if s.deps.Vault == nil || s.deps.Deployer == nil {
		return Wallet{}, ErrWalletsDisabled
	}

	w, err := s.db.GetWallet(ctx, userID)
	if err != nil {
		return Wallet{}, err
	}
	if w.DeployedAddress.Valid {
		return w, nil
	}

	key, err := s.deps.Vault.Open(w.EncryptedKey)
	if err != nil {
		return Wallet{}, fmt.Errorf("failed to open wallet key: %w", err)
	}
	owner := wallet.OwnerAddress(key)
	if owner != common.HexToAddress(w.OwnerAddress) {
		return Wallet{}, fmt.Errorf("wallet key does not match owner %s", w.OwnerAddress)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ChainTimeout)
	defer cancel()

	deployment, err := s.deps.Deployer.Deploy(ctx, owner)
	metrics.WalletDeployed(err)
	if err != nil {
		return Wallet{}, fmt.Errorf("failed to deploy wallet: %w", err)
	}

	txHash, address := deployment.TransactionHash.Hex(), deployment.ContractAddress.Hex()
	if err := s.db.MarkWalletDeployed(context.WithoutCancel(ctx), userID, txHash, address); err != nil {
		return Wallet{}, err
	}
	w.DeployTxHash.String, w.DeployTxHash.Valid = txHash, true
	w.DeployedAddress.String, w.DeployedAddress.Valid = address, true

	slog.Info("wallet deployed", "user", userID, "deployment", deployment)
	return w, nil
}
