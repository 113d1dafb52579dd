package ownership

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrTokenNotFound is returned (wrapped) when the referenced token does not exist.
var ErrTokenNotFound = errors.New("token does not exist")

// Resolver answers who currently holds a non-fungible token.
type Resolver interface {
	OwnerOf(ctx context.Context, contract common.Address, tokenID *big.Int) (common.Address, error)
}

// ResolverFunc adapts a plain function to Resolver.
type ResolverFunc func(ctx context.Context, contract common.Address, tokenID *big.Int) (common.Address, error)

func (f ResolverFunc) OwnerOf(ctx context.Context, contract common.Address, tokenID *big.Int) (common.Address, error) {
	return f(ctx, contract, tokenID)
}
