package currency_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/settlus/settlegate/internal/chain"
	"github.com/settlus/settlegate/internal/currency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	treasury  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func TestNewSelectsVariant(t *testing.T) {
	mem := chain.NewMemory(common.HexToAddress("0xbeef"))
	token := common.HexToAddress("0x00000000000000000000000000000000000000c0")

	tests := []struct {
		name    string
		cur     currency.Currency
		want    any
		wantErr bool
	}{
		{"native", currency.Currency{Kind: currency.Native}, &currency.NativeAdapter{}, false},
		{"fungible", currency.Currency{Kind: currency.Fungible, Address: token}, &currency.FungibleAdapter{}, false},
		{"non-transferable", currency.Currency{Kind: currency.NonTransferable, Address: token}, &currency.NonTransferableAdapter{}, false},
		{"fungible without token", currency.Currency{Kind: currency.Fungible}, nil, true},
		{"unknown kind", currency.Currency{Kind: 9}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := currency.New(tt.cur, mem)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, adapter)
			assert.Equal(t, tt.cur, adapter.Currency())
		})
	}
}

func TestNativeAdapterTransfer(t *testing.T) {
	ctx := context.Background()
	mem := chain.NewMemory(common.HexToAddress("0xbeef"))
	mem.Fund(treasury, big.NewInt(50))
	adapter, err := currency.New(currency.Currency{Kind: currency.Native}, mem)
	require.NoError(t, err)

	require.NoError(t, adapter.Transfer(ctx, treasury, recipient, big.NewInt(20)))
	assert.ErrorIs(t, adapter.Transfer(ctx, treasury, recipient, big.NewInt(31)), currency.ErrInsufficientBalance)
	assert.Error(t, adapter.Transfer(ctx, treasury, recipient, big.NewInt(-1)))

	bal, err := adapter.BalanceOf(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, int64(20), bal.Int64())
	_, mintable := adapter.(currency.Minter)
	assert.False(t, mintable)
}

func TestFungibleAdapterMintAndTransfer(t *testing.T) {
	ctx := context.Background()
	mem := chain.NewMemory(common.HexToAddress("0xbeef"))
	token, err := mem.DeployToken(ctx, currency.TokenSpec{Kind: currency.Fungible, Minter: treasury})
	require.NoError(t, err)
	adapter, err := currency.New(currency.Currency{Kind: currency.Fungible, Address: token}, mem)
	require.NoError(t, err)

	minter, ok := adapter.(currency.Minter)
	require.True(t, ok)
	require.NoError(t, minter.Mint(ctx, treasury, treasury, big.NewInt(1000)))
	require.NoError(t, adapter.Transfer(ctx, treasury, recipient, big.NewInt(100)))

	bal, _ := adapter.BalanceOf(ctx, treasury)
	assert.Equal(t, int64(900), bal.Int64())
}

func TestNonTransferableAdapterSettlesByIssuance(t *testing.T) {
	ctx := context.Background()
	mem := chain.NewMemory(common.HexToAddress("0xbeef"))
	token, err := mem.DeployToken(ctx, currency.TokenSpec{Kind: currency.NonTransferable, Minter: treasury})
	require.NoError(t, err)
	adapter, err := currency.New(currency.Currency{Kind: currency.NonTransferable, Address: token}, mem)
	require.NoError(t, err)

	// No treasury balance is needed: the recipient receives freshly issued units.
	require.NoError(t, adapter.Transfer(ctx, treasury, recipient, big.NewInt(500)))
	bal, _ := adapter.BalanceOf(ctx, recipient)
	assert.Equal(t, int64(500), bal.Int64())

	// Only the minter may issue.
	assert.ErrorIs(t, adapter.Transfer(ctx, recipient, treasury, big.NewInt(1)), currency.ErrNotMinter)
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]currency.Kind{
		"native": currency.Native, "ERC20": currency.Fungible, "2": currency.NonTransferable, "sbt": currency.NonTransferable,
	} {
		got, err := currency.ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := currency.ParseKind("gold")
	assert.Error(t, err)
}
