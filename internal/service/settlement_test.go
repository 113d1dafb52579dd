package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/settlus/settlegate/internal/chain"
	"github.com/settlus/settlegate/internal/currency"
	"github.com/settlus/settlegate/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettleAllRequiresSettler(t *testing.T) {
	h := newHarness(t)
	_, err := h.m.SettleAll(h.ctx, stranger, SettleAllParams{})
	assert.Equal(t, apperrors.ErrUnauthorized, apperrors.TypeOf(err))
	_, err = h.m.SettleAll(h.ctx, owner, SettleAllParams{})
	assert.Equal(t, apperrors.ErrUnauthorized, apperrors.TypeOf(err))
}

func TestSettleAllIsolatesFailingTenant(t *testing.T) {
	h := newHarness(t)
	names := []string{"t0", "t1", "t2", "t3"}
	tokens := map[string]common.Address{}
	for i, name := range names {
		sum := h.createFunded(t, name, common.BigToAddress(big.NewInt(int64(0xb00+i))), time.Minute, 1000)
		tokens[name] = sum.Currency.Address
		for j := 0; j < 3; j++ {
			h.record(t, name, sum.Master, fmt.Sprintf("%s-%d", name, j), 10)
		}
	}
	h.mem.SetFault(tokens["t1"], errors.New("token contract paused"))
	h.clock.Advance(time.Minute)

	report, err := h.m.SettleAll(h.ctx, settler, SettleAllParams{})
	require.NoError(t, err)
	require.Len(t, report.Tenants, 4)
	assert.Equal(t, 9, report.Settled)
	assert.Equal(t, 1, report.Failed)

	for _, res := range report.Tenants {
		if res.Tenant == "t1" {
			assert.True(t, res.Halted)
			assert.Equal(t, 0, res.Cursor)
			assert.True(t, res.NeedsSettlement)
			assert.Contains(t, res.Error, "paused")
			continue
		}
		assert.Empty(t, res.Error)
		assert.Equal(t, 3, res.Settled)
		assert.False(t, res.Backlog)
		assert.Equal(t, int64(30), h.tokenBalance(t, tokens[res.Tenant], payee))
	}

	members, _ := h.m.SettleRequired(h.ctx)
	assert.Equal(t, []string{"t1"}, members)

	// Once the outage clears the halted tenant drains from where it stopped.
	h.mem.SetFault(tokens["t1"], nil)
	report, err = h.m.SettleAll(h.ctx, settler, SettleAllParams{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Settled)
	assert.Equal(t, int64(30), h.tokenBalance(t, tokens["t1"], payee))
}

// panickyChain panics on transfers of one token.
type panickyChain struct {
	*chain.Memory
	token common.Address
}

func (p *panickyChain) TokenTransfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	if token == p.token {
		panic("corrupt token contract")
	}
	return p.Memory.TokenTransfer(ctx, token, from, to, amount)
}

func TestSettleAllRecoversPanics(t *testing.T) {
	mem := chain.NewMemory(common.HexToAddress("0xfeed"))
	bad, err := mem.DeployToken(context.Background(), currency.TokenSpec{Kind: currency.Fungible})
	require.NoError(t, err)

	ch := &panickyChain{Memory: mem, token: bad}
	m := NewTenantManager(owner, []common.Address{settler}, ch)
	ctx := context.Background()

	_, err = m.CreateTenant(ctx, creatorA, CreateTenantParams{Name: "bad", Kind: currency.Fungible, Currency: bad})
	require.NoError(t, err)
	good, err := m.CreateTenant(ctx, creatorB, CreateTenantParams{Name: "good", Kind: currency.Native})
	require.NoError(t, err)
	mem.Fund(good.Treasury, big.NewInt(50))

	_, err = m.Record(ctx, creatorA, "bad", recordParams("x", 1))
	require.NoError(t, err)
	_, err = m.Record(ctx, creatorB, "good", recordParams("y", 50))
	require.NoError(t, err)

	report, err := m.SettleAll(ctx, settler, SettleAllParams{})
	require.NoError(t, err)
	require.Len(t, report.Tenants, 2)
	assert.Contains(t, report.Tenants[0].Error, "panic")
	assert.Equal(t, 1, report.Tenants[1].Settled)

	bal, err := mem.NativeBalance(ctx, payee)
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal.Int64())

	// The registry lock was released by the panicking tenant.
	_, err = m.Tenant("bad")
	require.NoError(t, err)
}

func TestSettleAllBudget(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"a", "b", "c"} {
		h.createFunded(t, name, creatorA, 0, 100)
		for j := 0; j < 4; j++ {
			h.record(t, name, creatorA, fmt.Sprintf("%s%d", name, j), 1)
		}
	}

	report, err := h.m.SettleAll(h.ctx, settler, SettleAllParams{BatchCap: 5, Budget: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Examined)
	require.Len(t, report.Tenants, 2)
	assert.Equal(t, 4, report.Tenants[0].Settled)
	assert.Equal(t, 1, report.Tenants[1].Settled)
	assert.Equal(t, []string{"c"}, report.Deferred)

	report, err = h.m.SettleAll(h.ctx, settler, SettleAllParams{BatchCap: 2})
	require.NoError(t, err)
	for _, res := range report.Tenants {
		assert.LessOrEqual(t, res.Settled, 2)
	}
}

func TestSettleAllExplicitAndScanAll(t *testing.T) {
	h := newHarness(t)
	h.createFunded(t, "a", creatorA, 0, 10)
	h.createFunded(t, "b", creatorA, 0, 10)
	h.record(t, "a", creatorA, "a1", 1)
	h.record(t, "b", creatorA, "b1", 1)

	report, err := h.m.SettleAll(h.ctx, settler, SettleAllParams{Tenants: []string{"b", "missing"}})
	require.NoError(t, err)
	assert.Equal(t, SourceExplicit, report.Source)
	require.Len(t, report.Tenants, 2)
	assert.Equal(t, 1, report.Tenants[0].Settled)
	assert.Contains(t, report.Tenants[1].Error, "not found")

	h.m.settings.ScanAll = true
	report, err = h.m.SettleAll(h.ctx, settler, SettleAllParams{})
	require.NoError(t, err)
	assert.Equal(t, SourceAll, report.Source)
	assert.Len(t, report.Tenants, 2)
	assert.Equal(t, 1, report.Settled)
}

type brokenSchedule struct{ *MemorySchedule }

func (brokenSchedule) Members(context.Context) ([]string, error) {
	return nil, errors.New("redis unavailable")
}

func TestSettleAllFallsBackWhenIndexFails(t *testing.T) {
	h := newHarness(t, WithSchedule(brokenSchedule{NewMemorySchedule()}))
	h.createFunded(t, "a", creatorA, 0, 10)
	h.record(t, "a", creatorA, "a1", 1)

	report, err := h.m.SettleAll(h.ctx, settler, SettleAllParams{})
	require.NoError(t, err)
	assert.Equal(t, SourceAll, report.Source)
	assert.Equal(t, 1, report.Settled)
}

func TestSettleTenant(t *testing.T) {
	h := newHarness(t)
	h.createFunded(t, "a", creatorA, 0, 15)
	h.record(t, "a", creatorA, "a1", 10)
	h.record(t, "a", creatorA, "a2", 10)

	_, err := h.m.SettleTenant(h.ctx, stranger, "a", 0)
	assert.Equal(t, apperrors.ErrUnauthorized, apperrors.TypeOf(err))

	res, err := h.m.SettleTenant(h.ctx, creatorA, "a", 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrTransferFailed, apperrors.TypeOf(err))
	assert.Equal(t, 1, res.Settled)
	assert.True(t, res.Halted)
	assert.Equal(t, 1, res.Cursor)

	require.NoError(t, h.m.MintTreasury(h.ctx, creatorA, "a", big.NewInt(5)))
	res, err = h.m.SettleTenant(h.ctx, settler, "a", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Settled)
	assert.False(t, res.Backlog)
}
