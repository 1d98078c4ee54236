package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Minter mints certificate NFTs on the certificate contract.
type Minter struct {
	tx       *Transactor
	contract common.Address
}

func NewMinter(tx *Transactor, contract common.Address) *Minter {
	return &Minter{tx: tx, contract: contract}
}

// Mint raises the recipient's mint allowance, waits for it to be mined, then
// mints tokenID to the recipient and waits again. There is no retry: a
// failure in the second step leaves the allowance incremented.
func (m *Minter) Mint(ctx context.Context, recipient common.Address, score int, tokenID uint64) (common.Hash, error) {
	data, err := nftABI.Pack("incrementMintableNfts", recipient)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack incrementMintableNfts: %w", err)
	}
	receipt, err := m.tx.SendAndWait(ctx, m.contract, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to increment mintable nfts: %w", err)
	}
	slog.Info("mint allowance incremented", "recipient", recipient.Hex(), "tx", receipt.TxHash.Hex())

	placeholder := ShortString("0")
	data, err = nftABI.Pack("safeMint",
		recipient,
		placeholder,
		placeholder,
		big.NewInt(int64(score)),
		new(big.Int).SetUint64(tokenID),
		placeholder,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack safeMint: %w", err)
	}
	receipt, err = m.tx.SendAndWait(ctx, m.contract, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to mint token %d: %w", tokenID, err)
	}

	slog.Info("certificate minted", "recipient", recipient.Hex(), "token", tokenID, "tx", receipt.TxHash.Hex())
	return receipt.TxHash, nil
}

// TotalSupply returns the number of tokens minted so far.
func (m *Minter) TotalSupply(ctx context.Context) (uint64, error) {
	data, err := nftABI.Pack("totalSupply")
	if err != nil {
		return 0, fmt.Errorf("failed to pack totalSupply: %w", err)
	}
	out, err := m.tx.Call(ctx, m.contract, data)
	if err != nil {
		return 0, fmt.Errorf("failed to call totalSupply: %w", err)
	}
	values, err := nftABI.Unpack("totalSupply", out)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack totalSupply: %w", err)
	}
	supply, ok := values[0].(*big.Int)
	if !ok || !supply.IsUint64() {
		return 0, fmt.Errorf("unexpected totalSupply value %v", values[0])
	}
	return supply.Uint64(), nil
}
