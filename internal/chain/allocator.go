package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TokenMinter is what the allocator needs from the certificate contract.
type TokenMinter interface {
	TotalSupply(ctx context.Context) (uint64, error)
	Mint(ctx context.Context, recipient common.Address, score int, tokenID uint64) (common.Hash, error)
}

// TokenAllocator hands out token ids one at a time. The id is one past the
// on-chain supply, but never lower than or equal to an id this allocator
// already handed out, so concurrent issuers in this process never collide
// even while the chain lags behind.
type TokenAllocator struct {
	minter TokenMinter

	mu   sync.Mutex
	last uint64
}

func NewTokenAllocator(minter TokenMinter) *TokenAllocator {
	return &TokenAllocator{minter: minter}
}

// Last returns the most recently handed out token id.
func (a *TokenAllocator) Last() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func (a *TokenAllocator) next(ctx context.Context) (uint64, error) {
	supply, err := a.minter.TotalSupply(ctx)
	if err != nil {
		return 0, err
	}
	id := supply + 1
	if id <= a.last {
		id = a.last + 1
	}
	a.last = id
	return id, nil
}

// Issue allocates the next token id and mints it to recipient. The
// allocation lock is held through the mint so ids are consumed in order.
// A failed mint gives its id back: the next allocation reads the supply
// again, so ids stay contiguous on chain and supply+1 stays free after a
// restart.
func (a *TokenAllocator) Issue(ctx context.Context, recipient common.Address, score int) (uint64, common.Hash, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tokenID, err := a.next(ctx)
	if err != nil {
		return 0, common.Hash{}, fmt.Errorf("failed to allocate token id: %w", err)
	}

	hash, err := a.minter.Mint(ctx, recipient, score, tokenID)
	if err != nil {
		a.last = tokenID - 1
		return tokenID, common.Hash{}, err
	}
	return tokenID, hash, nil
}
