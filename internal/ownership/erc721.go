package ownership

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc721OwnerOfABI = `[{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}]`

var ownerOfABI = mustParseABI(erc721OwnerOfABI)

// Caller is the subset of ethclient used for read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ERC721Resolver resolves owners with eth_call against ownerOf(uint256).
// Results are never cached: the owner at settlement time may differ from the
// owner at record time.
type ERC721Resolver struct {
	rpcURL  string
	mu      sync.Mutex
	caller  Caller
	timeout time.Duration
	retries int
}

func NewERC721Resolver(rpcURL string, timeout time.Duration, retries int) *ERC721Resolver {
	r := NewERC721ResolverWithCaller(nil, timeout, retries)
	r.rpcURL = strings.TrimSpace(rpcURL)
	return r
}

func NewERC721ResolverWithCaller(caller Caller, timeout time.Duration, retries int) *ERC721Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &ERC721Resolver{
		caller:  caller,
		timeout: timeout,
		retries: retries,
	}
}

func (r *ERC721Resolver) OwnerOf(ctx context.Context, contract common.Address, tokenID *big.Int) (common.Address, error) {
	if tokenID == nil || tokenID.Sign() < 0 {
		return common.Address{}, fmt.Errorf("invalid token id")
	}
	data, err := ownerOfABI.Pack("ownerOf", tokenID)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack call data: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		caller, err := r.getCaller(attemptCtx)
		if err != nil {
			cancel()
			lastErr = err
			if !shouldRetry(ctx, attempt, r.retries) {
				break
			}
			continue
		}

		output, err := caller.CallContract(attemptCtx, ethereum.CallMsg{To: &contract, Data: data}, nil)
		cancel()
		if err != nil {
			if isRevert(err) {
				return common.Address{}, fmt.Errorf("%w: %s #%s", ErrTokenNotFound, contract.Hex(), tokenID)
			}
			lastErr = fmt.Errorf("rpc call failed: %w", err)
			if !shouldRetry(ctx, attempt, r.retries) {
				break
			}
			continue
		}
		return decodeOwner(contract, tokenID, output)
	}
	return common.Address{}, lastErr
}

func decodeOwner(contract common.Address, tokenID *big.Int, output []byte) (common.Address, error) {
	if len(output) == 0 {
		return common.Address{}, fmt.Errorf("%w: %s #%s", ErrTokenNotFound, contract.Hex(), tokenID)
	}
	values, err := ownerOfABI.Unpack("ownerOf", output)
	if err != nil || len(values) != 1 {
		return common.Address{}, fmt.Errorf("failed to decode ownerOf result: %v", err)
	}
	owner, ok := values[0].(common.Address)
	if !ok || owner == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s #%s", ErrTokenNotFound, contract.Hex(), tokenID)
	}
	return owner, nil
}

func (r *ERC721Resolver) getCaller(ctx context.Context) (Caller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.caller != nil {
		return r.caller, nil
	}
	if r.rpcURL == "" {
		return nil, fmt.Errorf("rpc url not configured")
	}
	client, err := ethclient.DialContext(ctx, r.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect rpc: %w", err)
	}
	r.caller = client
	return r.caller, nil
}

func isRevert(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

func shouldRetry(ctx context.Context, attempt, max int) bool {
	if attempt >= max {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	default:
	}
	time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
	return true
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
