package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/settlus/settlegate/internal/currency"
	"github.com/settlus/settlegate/internal/ownership"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func TestMemoryNativeTransfer(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(common.HexToAddress("0xbeef"))
	m.Fund(alice, big.NewInt(100))

	require.NoError(t, m.NativeTransfer(ctx, alice, bob, big.NewInt(40)))
	err := m.NativeTransfer(ctx, alice, bob, big.NewInt(61))
	assert.ErrorIs(t, err, currency.ErrInsufficientBalance)

	a, _ := m.NativeBalance(ctx, alice)
	b, _ := m.NativeBalance(ctx, bob)
	assert.Equal(t, int64(60), a.Int64())
	assert.Equal(t, int64(40), b.Int64())
}

func TestMemoryTokens(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(common.HexToAddress("0xbeef"))

	ft, err := m.DeployToken(ctx, currency.TokenSpec{Name: "Point", Symbol: "PT", Kind: currency.Fungible, Minter: alice})
	require.NoError(t, err)
	sbt, err := m.DeployToken(ctx, currency.TokenSpec{Name: "Badge", Symbol: "BDG", Kind: currency.NonTransferable, Minter: alice})
	require.NoError(t, err)
	assert.NotEqual(t, ft, sbt)

	assert.ErrorIs(t, m.TokenMint(ctx, ft, bob, bob, big.NewInt(1)), currency.ErrNotMinter)
	require.NoError(t, m.TokenMint(ctx, ft, alice, alice, big.NewInt(10)))
	require.NoError(t, m.TokenTransfer(ctx, ft, alice, bob, big.NewInt(3)))

	require.NoError(t, m.TokenMint(ctx, sbt, alice, bob, big.NewInt(5)))
	assert.ErrorIs(t, m.TokenTransfer(ctx, sbt, bob, alice, big.NewInt(1)), currency.ErrNonTransferable)

	bal, err := m.TokenBalance(ctx, ft, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(3), bal.Int64())

	_, err = m.TokenBalance(ctx, common.HexToAddress("0x01"), bob)
	assert.ErrorIs(t, err, currency.ErrUnknownToken)

	info, ok := m.Token(ft)
	require.True(t, ok)
	assert.Equal(t, "PT", info.Symbol)
	assert.True(t, info.Transferable)
	assert.Len(t, m.Tokens(), 2)
}

func TestMemoryFaults(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(common.HexToAddress("0xbeef"))
	ft, _ := m.DeployToken(ctx, currency.TokenSpec{Kind: currency.Fungible, Minter: alice})
	require.NoError(t, m.TokenMint(ctx, ft, alice, alice, big.NewInt(10)))

	boom := errors.New("token contract paused")
	m.SetFault(ft, boom)
	assert.ErrorIs(t, m.TokenTransfer(ctx, ft, alice, bob, big.NewInt(1)), boom)
	m.SetFault(ft, nil)
	assert.NoError(t, m.TokenTransfer(ctx, ft, alice, bob, big.NewInt(1)))
}

func TestMemoryOwnerOf(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(common.HexToAddress("0xbeef"))
	nft := common.HexToAddress("0x00000000000000000000000000000000000000f1")

	_, err := m.OwnerOf(ctx, nft, big.NewInt(1))
	assert.ErrorIs(t, err, ownership.ErrTokenNotFound)

	m.MintNFT(nft, big.NewInt(1), alice)
	owner, err := m.OwnerOf(ctx, nft, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, alice, owner)

	require.NoError(t, m.TransferNFT(nft, big.NewInt(1), bob))
	owner, _ = m.OwnerOf(ctx, nft, big.NewInt(1))
	assert.Equal(t, bob, owner)

	assert.ErrorIs(t, m.TransferNFT(nft, big.NewInt(2), bob), ownership.ErrTokenNotFound)
}

func TestMemoryAllocateTreasuryIsDeterministic(t *testing.T) {
	ctx := context.Background()
	a := NewMemory(common.HexToAddress("0xbeef"))
	b := NewMemory(common.HexToAddress("0xbeef"))

	a1, _ := a.AllocateTreasury(ctx, "x")
	a2, _ := a.AllocateTreasury(ctx, "y")
	b1, _ := b.AllocateTreasury(ctx, "x")
	assert.Equal(t, a1, b1)
	assert.NotEqual(t, a1, a2)
}
