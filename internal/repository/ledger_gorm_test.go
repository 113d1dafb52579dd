package repository

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/settlus/settlegate/internal/chain"
	"github.com/settlus/settlegate/internal/currency"
	"github.com/settlus/settlegate/internal/ledger"
	"github.com/settlus/settlegate/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ownerAddr   = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	settlerAddr = common.HexToAddress("0x0000000000000000000000000000000000000b02")
	masterAddr  = common.HexToAddress("0x0000000000000000000000000000000000000b03")
	payeeAddr   = common.HexToAddress("0x0000000000000000000000000000000000000b04")
	nftAddr     = common.HexToAddress("0x0000000000000000000000000000000000000b05")
)

func TestGormLedgerRepoSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	repo := NewGormLedgerRepo(newTestDB(t))
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	meta := ledger.State{
		Name:         "shop",
		Treasury:     common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Master:       masterAddr,
		Recorders:    []common.Address{payeeAddr},
		Currency:     currency.Currency{Kind: currency.Fungible, Address: common.HexToAddress("0x00000000000000000000000000000000000000cc")},
		PayoutPeriod: time.Hour,
		MaxBatchSize: 5,
		CreatedAt:    created,
	}
	records := []ledger.Record{
		{Index: 0, RequestID: "r-0", Amount: big.NewInt(10), SourceChainID: big.NewInt(1), Recipient: payeeAddr, CreatedAt: created, Status: ledger.Pending},
		{Index: 1, RequestID: "r-1", Amount: big.NewInt(20), Recipient: payeeAddr, NFTContract: nftAddr, TokenID: big.NewInt(7), CreatedAt: created, Status: ledger.Pending},
	}
	require.NoError(t, repo.SaveLedger(ctx, meta, records))

	// settle the first record and move the cursor
	meta.Cursor = 1
	records[0].Status = ledger.Settled
	records[0].FinalizedAt = created.Add(2 * time.Hour)
	require.NoError(t, repo.SaveLedger(ctx, meta, records[:1]))

	states, err := repo.LoadLedgers(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)

	st := states[0]
	assert.Equal(t, "shop", st.Name)
	assert.Equal(t, meta.Treasury, st.Treasury)
	assert.Equal(t, meta.Master, st.Master)
	assert.Equal(t, []common.Address{payeeAddr}, st.Recorders)
	assert.Equal(t, meta.Currency, st.Currency)
	assert.Equal(t, time.Hour, st.PayoutPeriod)
	assert.Equal(t, 1, st.Cursor)
	assert.True(t, created.Equal(st.CreatedAt))

	require.Len(t, st.Records, 2)
	first, second := st.Records[0], st.Records[1]
	assert.Equal(t, ledger.Settled, first.Status)
	assert.True(t, records[0].FinalizedAt.Equal(first.FinalizedAt))
	assert.Equal(t, "1", first.SourceChainID.String())
	assert.Nil(t, first.TokenID)
	assert.False(t, first.NFTBacked())

	assert.Equal(t, ledger.Pending, second.Status)
	assert.Equal(t, "20", second.Amount.String())
	assert.Equal(t, nftAddr, second.NFTContract)
	assert.Equal(t, "7", second.TokenID.String())
	assert.Nil(t, second.SourceChainID)
	assert.True(t, second.FinalizedAt.IsZero())
}

func TestGormLedgerRepoPayoutInFlight(t *testing.T) {
	ctx := context.Background()
	repo := NewGormLedgerRepo(newTestDB(t))
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	meta := ledger.State{Name: "shop", Master: masterAddr, Currency: currency.Currency{Kind: currency.Native}, CreatedAt: created}

	rec := ledger.Record{Index: 0, RequestID: "r-0", Amount: big.NewInt(10), Recipient: payeeAddr, CreatedAt: created, PayoutStarted: true}
	require.NoError(t, repo.SaveLedger(ctx, meta, []ledger.Record{rec}))

	rec.TxHash = common.HexToHash("0xabc")
	require.NoError(t, repo.SaveLedger(ctx, meta, []ledger.Record{rec}))

	states, err := repo.LoadLedgers(ctx)
	require.NoError(t, err)
	require.Len(t, states[0].Records, 1)
	got := states[0].Records[0]
	assert.True(t, got.InFlight())
	assert.Equal(t, rec.TxHash, got.TxHash)

	rec.Status = ledger.Settled
	rec.PayoutStarted = false
	require.NoError(t, repo.SaveLedger(ctx, meta, []ledger.Record{rec}))
	states, err = repo.LoadLedgers(ctx)
	require.NoError(t, err)
	got = states[0].Records[0]
	assert.False(t, got.PayoutStarted)
	assert.Equal(t, ledger.Settled, got.Status)
}

// Rows left by an earlier tenant of the same name are overwritten whole.
func TestGormLedgerRepoOverwritesStaleRecords(t *testing.T) {
	ctx := context.Background()
	repo := NewGormLedgerRepo(newTestDB(t))
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	meta := ledger.State{Name: "shop", Master: masterAddr, Currency: currency.Currency{Kind: currency.Native}, CreatedAt: created}

	stale := ledger.Record{Index: 0, RequestID: "old", Amount: big.NewInt(999), SourceChainID: big.NewInt(5), Recipient: nftAddr, CreatedAt: created}
	require.NoError(t, repo.SaveLedger(ctx, meta, []ledger.Record{stale}))

	fresh := ledger.Record{Index: 0, RequestID: "new", Amount: big.NewInt(1), Recipient: payeeAddr, CreatedAt: created.Add(time.Hour)}
	require.NoError(t, repo.SaveLedger(ctx, meta, []ledger.Record{fresh}))

	states, err := repo.LoadLedgers(ctx)
	require.NoError(t, err)
	require.Len(t, states[0].Records, 1)
	got := states[0].Records[0]
	assert.Equal(t, "new", got.RequestID)
	assert.Equal(t, "1", got.Amount.String())
	assert.Nil(t, got.SourceChainID)
	assert.Equal(t, payeeAddr, got.Recipient)
	assert.True(t, fresh.CreatedAt.Equal(got.CreatedAt))
}

func TestGormLedgerRepoLoadsInCreationOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewGormLedgerRepo(newTestDB(t))

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, repo.SaveLedger(ctx, ledger.State{Name: name, Master: masterAddr}, nil))
	}
	require.NoError(t, repo.DeleteLedger(ctx, "alpha"))

	states, err := repo.LoadLedgers(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "zeta", states[0].Name)
	assert.Equal(t, "mid", states[1].Name)
}

func TestGormLedgerRepoSettlers(t *testing.T) {
	ctx := context.Background()
	repo := NewGormLedgerRepo(newTestDB(t))

	require.NoError(t, repo.SaveSettler(ctx, settlerAddr, true))
	require.NoError(t, repo.SaveSettler(ctx, settlerAddr, true))
	require.NoError(t, repo.SaveSettler(ctx, payeeAddr, true))

	settlers, err := repo.ListSettlers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []common.Address{settlerAddr, payeeAddr}, settlers)

	require.NoError(t, repo.SaveSettler(ctx, payeeAddr, false))
	settlers, err = repo.ListSettlers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{settlerAddr}, settlers)
}

// A registry rebuilt from the database continues where the previous process
// stopped: same cursor, same final records and a schedule holding only the
// tenants with pending work.
func TestRegistrySurvivesRestart(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	mem := chain.NewMemory(common.HexToAddress("0xdeadbeef"))

	first := service.NewTenantManager(ownerAddr, []common.Address{settlerAddr}, mem, service.WithLedgerRepo(NewGormLedgerRepo(db)))
	sum, err := first.CreateTenant(ctx, masterAddr, service.CreateTenantParams{Name: "shop", Kind: currency.Native})
	require.NoError(t, err)
	_, err = first.CreateTenant(ctx, masterAddr, service.CreateTenantParams{Name: "later", Kind: currency.Native, PayoutPeriod: 24 * time.Hour})
	require.NoError(t, err)
	mem.Fund(sum.Treasury, big.NewInt(100))

	for _, id := range []string{"a", "b"} {
		_, err := first.Record(ctx, masterAddr, "shop", ledger.RecordParams{RequestID: id, Amount: big.NewInt(10), Recipient: payeeAddr})
		require.NoError(t, err)
	}
	_, err = first.Record(ctx, masterAddr, "later", ledger.RecordParams{RequestID: "c", Amount: big.NewInt(5), Recipient: payeeAddr})
	require.NoError(t, err)

	res, err := first.SettleTenant(ctx, settlerAddr, "shop", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Settled)
	require.NoError(t, first.GrantSettler(ctx, ownerAddr, payeeAddr))

	second := service.NewTenantManager(ownerAddr, []common.Address{settlerAddr}, mem, service.WithLedgerRepo(NewGormLedgerRepo(db)))
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tenants := second.ListTenants()
	require.Len(t, tenants, 2)
	assert.Equal(t, "shop", tenants[0].Name)
	assert.Equal(t, 2, tenants[0].Cursor)
	assert.Equal(t, 2, tenants[0].Length)
	assert.False(t, tenants[0].Backlog)
	assert.Equal(t, "later", tenants[1].Name)
	assert.True(t, tenants[1].Backlog)

	rec, err := second.LookupRecord("shop", "a")
	require.NoError(t, err)
	assert.Equal(t, ledger.Settled, rec.Status)

	assert.True(t, second.HasRole(service.RoleSettler, payeeAddr))

	required, err := second.SettleRequired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"later"}, required)

	// request ids stay unique across the restart
	_, err = second.Record(ctx, masterAddr, "shop", ledger.RecordParams{RequestID: "a", Amount: big.NewInt(1), Recipient: payeeAddr})
	require.Error(t, err)
}
