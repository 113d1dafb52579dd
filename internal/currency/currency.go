// Package currency adapts the three settlement currency kinds behind one
// capability. A ledger picks its variant once, at creation, and keeps it.
package currency

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Kind numbering matches the manager contract encoding.
type Kind uint8

const (
	Native Kind = iota
	Fungible
	NonTransferable
)

var (
	ErrNonTransferable     = errors.New("token is non-transferable")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotMinter           = errors.New("account is not the token minter")
	ErrUnknownToken        = errors.New("unknown token")
	ErrUnsupported         = errors.New("operation not supported by backend")
)

// SubmittedError reports a payout that reached the node but whose outcome is
// not known yet. The transfer must not be sent again; its fate is read back
// through TxStatus.
type SubmittedError struct {
	TxHash common.Hash
	Err    error
}

func (e *SubmittedError) Error() string {
	return fmt.Sprintf("tx %s submitted, outcome unknown: %v", e.TxHash.Hex(), e.Err)
}

func (e *SubmittedError) Unwrap() error {
	return e.Err
}

// TxState is the settled outcome of a submitted payout.
type TxState uint8

const (
	TxPending TxState = iota
	TxConfirmed
	TxReverted
)

func (s TxState) String() string {
	switch s {
	case TxPending:
		return "pending"
	case TxConfirmed:
		return "confirmed"
	case TxReverted:
		return "reverted"
	default:
		return fmt.Sprintf("tx_state(%d)", uint8(s))
	}
}

// ReceiptChecker is implemented by backends whose transfers can outlive the
// call that submitted them.
type ReceiptChecker interface {
	TxStatus(ctx context.Context, hash common.Hash) (TxState, error)
}

func (k Kind) String() string {
	switch k {
	case Native:
		return "native"
	case Fungible:
		return "fungible"
	case NonTransferable:
		return "non_transferable"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind accepts the names returned by String as well as the numeric codes.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "native", "eth", "0":
		return Native, nil
	case "fungible", "erc20", "1":
		return Fungible, nil
	case "non_transferable", "nontransferable", "sbt", "2":
		return NonTransferable, nil
	default:
		return 0, fmt.Errorf("unknown currency kind %q", s)
	}
}

// NeedsToken reports whether the kind is backed by a token contract.
func (k Kind) NeedsToken() bool {
	return k == Fungible || k == NonTransferable
}

type Currency struct {
	Kind    Kind           `json:"kind"`
	Address common.Address `json:"address"`
}

func (c Currency) String() string {
	if c.Kind == Native {
		return c.Kind.String()
	}
	return c.Kind.String() + ":" + c.Address.Hex()
}

// Adapter is the settlement capability every currency variant provides.
type Adapter interface {
	Currency() Currency
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
}

// Minter is implemented by variants whose token the treasury may issue.
type Minter interface {
	Mint(ctx context.Context, minter, to common.Address, amount *big.Int) error
}

type NativeBackend interface {
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
	NativeTransfer(ctx context.Context, from, to common.Address, amount *big.Int) error
}

type TokenBackend interface {
	TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error)
	TokenTransfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
	TokenMint(ctx context.Context, token, minter, to common.Address, amount *big.Int) error
}

// TokenSpec describes a fresh token instantiated for a single tenant.
type TokenSpec struct {
	Name   string
	Symbol string
	Kind   Kind
	Minter common.Address
}

type Deployer interface {
	DeployToken(ctx context.Context, spec TokenSpec) (common.Address, error)
}

// Backend is everything a chain must offer to host ledgers.
type Backend interface {
	NativeBackend
	TokenBackend
	Deployer
}

// New selects the adapter variant for cur.
func New(cur Currency, backend Backend) (Adapter, error) {
	if backend == nil {
		return nil, errors.New("currency backend is nil")
	}
	switch cur.Kind {
	case Native:
		return &NativeAdapter{backend: backend}, nil
	case Fungible:
		if cur.Address == (common.Address{}) {
			return nil, errors.New("fungible currency requires a token address")
		}
		return &FungibleAdapter{token: cur.Address, backend: backend}, nil
	case NonTransferable:
		if cur.Address == (common.Address{}) {
			return nil, errors.New("non-transferable currency requires a token address")
		}
		return &NonTransferableAdapter{token: cur.Address, backend: backend}, nil
	default:
		return nil, fmt.Errorf("unsupported currency kind %d", cur.Kind)
	}
}

type NativeAdapter struct {
	backend NativeBackend
}

func (a *NativeAdapter) Currency() Currency {
	return Currency{Kind: Native}
}

func (a *NativeAdapter) TxStatus(ctx context.Context, hash common.Hash) (TxState, error) {
	return txStatus(ctx, a.backend, hash)
}

func (a *NativeAdapter) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return a.backend.NativeBalance(ctx, account)
}

func (a *NativeAdapter) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return a.backend.NativeTransfer(ctx, from, to, amount)
}

type FungibleAdapter struct {
	token   common.Address
	backend TokenBackend
}

func (a *FungibleAdapter) Currency() Currency {
	return Currency{Kind: Fungible, Address: a.token}
}

func (a *FungibleAdapter) TxStatus(ctx context.Context, hash common.Hash) (TxState, error) {
	return txStatus(ctx, a.backend, hash)
}

func (a *FungibleAdapter) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return a.backend.TokenBalance(ctx, a.token, account)
}

func (a *FungibleAdapter) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return a.backend.TokenTransfer(ctx, a.token, from, to, amount)
}

func (a *FungibleAdapter) Mint(ctx context.Context, minter, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return a.backend.TokenMint(ctx, a.token, minter, to, amount)
}

// NonTransferableAdapter settles by issuance: holders can never move their
// balance, so paying a recipient means the treasury mints to them.
type NonTransferableAdapter struct {
	token   common.Address
	backend TokenBackend
}

func (a *NonTransferableAdapter) Currency() Currency {
	return Currency{Kind: NonTransferable, Address: a.token}
}

func (a *NonTransferableAdapter) TxStatus(ctx context.Context, hash common.Hash) (TxState, error) {
	return txStatus(ctx, a.backend, hash)
}

func (a *NonTransferableAdapter) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return a.backend.TokenBalance(ctx, a.token, account)
}

func (a *NonTransferableAdapter) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return a.backend.TokenMint(ctx, a.token, from, to, amount)
}

func (a *NonTransferableAdapter) Mint(ctx context.Context, minter, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return a.backend.TokenMint(ctx, a.token, minter, to, amount)
}

func txStatus(ctx context.Context, backend any, hash common.Hash) (TxState, error) {
	rc, ok := backend.(ReceiptChecker)
	if !ok {
		return TxPending, fmt.Errorf("tx status: %w", ErrUnsupported)
	}
	return rc.TxStatus(ctx, hash)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid amount %v", amount)
	}
	return nil
}
