package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Registry anchors Merkle roots on the hash registry contract.
type Registry struct {
	tx       *Transactor
	contract common.Address
}

func NewRegistry(tx *Transactor, contract common.Address) *Registry {
	return &Registry{tx: tx, contract: contract}
}

// AnchorRoot records root on chain and returns the mined transaction hash.
func (r *Registry) AnchorRoot(ctx context.Context, root common.Hash) (common.Hash, error) {
	data, err := registryABI.Pack("anchorHash", [32]byte(root))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack anchorHash: %w", err)
	}
	receipt, err := r.tx.SendAndWait(ctx, r.contract, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to anchor root %s: %w", root.Hex(), err)
	}
	return receipt.TxHash, nil
}

// IsAnchored reports whether root has been recorded.
func (r *Registry) IsAnchored(ctx context.Context, root common.Hash) (bool, error) {
	data, err := registryABI.Pack("isAnchored", [32]byte(root))
	if err != nil {
		return false, fmt.Errorf("failed to pack isAnchored: %w", err)
	}
	out, err := r.tx.Call(ctx, r.contract, data)
	if err != nil {
		return false, fmt.Errorf("failed to call isAnchored: %w", err)
	}
	values, err := registryABI.Unpack("isAnchored", out)
	if err != nil {
		return false, fmt.Errorf("failed to unpack isAnchored: %w", err)
	}
	anchored, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected isAnchored value %v", values[0])
	}
	return anchored, nil
}
