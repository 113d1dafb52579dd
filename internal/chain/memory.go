package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/settlus/settlegate/internal/currency"
	"github.com/settlus/settlegate/internal/ownership"
)

// Memory is an in-process chain: native balances, tokens and NFTs.
// It backs tests and the devnet mode of the server.
type Memory struct {
	mu       sync.Mutex
	deployer common.Address
	nonce    uint64
	native   map[common.Address]*big.Int
	tokens   map[common.Address]*memToken
	nfts     map[common.Address]map[string]common.Address
	faults   map[common.Address]error
}

type memToken struct {
	name         string
	symbol       string
	minter       common.Address
	transferable bool
	balances     map[common.Address]*big.Int
}

// TokenInfo is a read-only view of a memory token.
type TokenInfo struct {
	Address      common.Address `json:"address"`
	Name         string         `json:"name"`
	Symbol       string         `json:"symbol"`
	Minter       common.Address `json:"minter"`
	Transferable bool           `json:"transferable"`
}

// NativeFaultKey addresses fault injection at native transfers.
var NativeFaultKey = common.Address{}

func NewMemory(deployer common.Address) *Memory {
	return &Memory{
		deployer: deployer,
		native:   make(map[common.Address]*big.Int),
		tokens:   make(map[common.Address]*memToken),
		nfts:     make(map[common.Address]map[string]common.Address),
		faults:   make(map[common.Address]error),
	}
}

// nextAddress derives contract-style addresses from the deployer and a nonce.
func (m *Memory) nextAddress() common.Address {
	addr := crypto.CreateAddress(m.deployer, m.nonce)
	m.nonce++
	return addr
}

func (m *Memory) AllocateTreasury(_ context.Context, _ string) (common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextAddress(), nil
}

// --- native coin ---

func (m *Memory) NativeBalance(_ context.Context, account common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return balanceOf(m.native, account), nil
}

func (m *Memory) NativeTransfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.faults[NativeFaultKey]; err != nil {
		return err
	}
	return move(m.native, from, to, amount)
}

// Fund credits native coin out of thin air.
func (m *Memory) Fund(account common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.native[account] = new(big.Int).Add(balanceOf(m.native, account), amount)
}

// --- tokens ---

func (m *Memory) DeployToken(_ context.Context, spec currency.TokenSpec) (common.Address, error) {
	if !spec.Kind.NeedsToken() {
		return common.Address{}, fmt.Errorf("kind %s has no token contract", spec.Kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := m.nextAddress()
	m.tokens[addr] = &memToken{
		name:         spec.Name,
		symbol:       spec.Symbol,
		minter:       spec.Minter,
		transferable: spec.Kind == currency.Fungible,
		balances:     make(map[common.Address]*big.Int),
	}
	return addr, nil
}

// RegisterToken installs a pre-existing token at a fixed address.
func (m *Memory) RegisterToken(addr common.Address, kind currency.Kind, minter common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[addr] = &memToken{
		minter:       minter,
		transferable: kind == currency.Fungible,
		balances:     make(map[common.Address]*big.Int),
	}
}

func (m *Memory) Token(addr common.Address) (TokenInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[addr]
	if !ok {
		return TokenInfo{}, false
	}
	return TokenInfo{
		Address:      addr,
		Name:         tok.name,
		Symbol:       tok.symbol,
		Minter:       tok.minter,
		Transferable: tok.transferable,
	}, true
}

func (m *Memory) TokenBalance(_ context.Context, token, account common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", currency.ErrUnknownToken, token.Hex())
	}
	return balanceOf(tok.balances, account), nil
}

func (m *Memory) TokenTransfer(_ context.Context, token, from, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, err := m.token(token)
	if err != nil {
		return err
	}
	if !tok.transferable {
		return currency.ErrNonTransferable
	}
	return move(tok.balances, from, to, amount)
}

func (m *Memory) TokenMint(_ context.Context, token, minter, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, err := m.token(token)
	if err != nil {
		return err
	}
	if tok.minter != minter {
		return fmt.Errorf("%w: %s", currency.ErrNotMinter, minter.Hex())
	}
	tok.balances[to] = new(big.Int).Add(balanceOf(tok.balances, to), amount)
	return nil
}

// MintToken issues token units regardless of the minter, for devnet faucets.
func (m *Memory) MintToken(token, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[token]
	if !ok {
		return fmt.Errorf("%w: %s", currency.ErrUnknownToken, token.Hex())
	}
	tok.balances[to] = new(big.Int).Add(balanceOf(tok.balances, to), amount)
	return nil
}

func (m *Memory) token(addr common.Address) (*memToken, error) {
	if err := m.faults[addr]; err != nil {
		return nil, err
	}
	tok, ok := m.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", currency.ErrUnknownToken, addr.Hex())
	}
	return tok, nil
}

// SetFault makes every mutation of target fail with err; nil clears it.
// Use NativeFaultKey to target native transfers.
func (m *Memory) SetFault(target common.Address, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, target)
		return
	}
	m.faults[target] = err
}

// --- NFTs ---

func (m *Memory) MintNFT(contract common.Address, tokenID *big.Int, owner common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owners, ok := m.nfts[contract]
	if !ok {
		owners = make(map[string]common.Address)
		m.nfts[contract] = owners
	}
	owners[tokenID.String()] = owner
}

func (m *Memory) TransferNFT(contract common.Address, tokenID *big.Int, to common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	owners := m.nfts[contract]
	if _, ok := owners[tokenID.String()]; !ok {
		return fmt.Errorf("%w: %s #%s", ownership.ErrTokenNotFound, contract.Hex(), tokenID)
	}
	owners[tokenID.String()] = to
	return nil
}

func (m *Memory) OwnerOf(_ context.Context, contract common.Address, tokenID *big.Int) (common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tokenID == nil {
		return common.Address{}, fmt.Errorf("%w: nil token id", ownership.ErrTokenNotFound)
	}
	owner, ok := m.nfts[contract][tokenID.String()]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s #%s", ownership.ErrTokenNotFound, contract.Hex(), tokenID)
	}
	return owner, nil
}

// Tokens lists deployed or registered tokens sorted by address.
func (m *Memory) Tokens() []TokenInfo {
	m.mu.Lock()
	addrs := make([]common.Address, 0, len(m.tokens))
	for addr := range m.tokens {
		addrs = append(addrs, addr)
	}
	m.mu.Unlock()
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
	out := make([]TokenInfo, 0, len(addrs))
	for _, addr := range addrs {
		if info, ok := m.Token(addr); ok {
			out = append(out, info)
		}
	}
	return out
}

func balanceOf(balances map[common.Address]*big.Int, account common.Address) *big.Int {
	if bal, ok := balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func move(balances map[common.Address]*big.Int, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid amount %v", amount)
	}
	fromBal := balanceOf(balances, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", currency.ErrInsufficientBalance, fromBal, amount)
	}
	balances[from] = fromBal.Sub(fromBal, amount)
	balances[to] = new(big.Int).Add(balanceOf(balances, to), amount)
	return nil
}
