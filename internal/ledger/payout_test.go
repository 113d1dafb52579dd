package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/settlus/settlegate/internal/currency"
	"github.com/settlus/settlegate/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowChain reports every payout as broadcast but unconfirmed until state
// says otherwise.
type slowChain struct {
	sends  int
	submit bool
	state  currency.TxState
	paid   map[common.Address]int64
}

func newSlowChain() *slowChain {
	return &slowChain{submit: true, paid: make(map[common.Address]int64)}
}

func (c *slowChain) Currency() currency.Currency {
	return currency.Currency{Kind: currency.Native}
}

func (c *slowChain) BalanceOf(_ context.Context, acct common.Address) (*big.Int, error) {
	return big.NewInt(c.paid[acct]), nil
}

func (c *slowChain) Transfer(_ context.Context, _, to common.Address, amount *big.Int) error {
	c.sends++
	c.paid[to] += amount.Int64()
	if c.submit {
		return &currency.SubmittedError{
			TxHash: common.BigToHash(big.NewInt(int64(c.sends))),
			Err:    context.DeadlineExceeded,
		}
	}
	return nil
}

func (c *slowChain) TxStatus(_ context.Context, _ common.Hash) (currency.TxState, error) {
	return c.state, nil
}

func newSlowLedger(t *testing.T, c *slowChain, opts ...Option) *Ledger {
	t.Helper()
	l, err := New(Config{
		Name:     "tenant",
		Treasury: common.HexToAddress("0xbeef"),
		Master:   master,
	}, c, nil, append([]Option{WithClock(newClock().Now)}, opts...)...)
	require.NoError(t, err)
	_, err = l.Record(context.Background(), master, RecordParams{RequestID: "r1", Amount: big.NewInt(100), Recipient: buyer})
	require.NoError(t, err)
	return l
}

func TestSubmittedPayoutIsNeverResent(t *testing.T) {
	ctx := context.Background()
	c := newSlowChain()
	l := newSlowLedger(t, c)

	for i := 0; i < 3; i++ {
		out, err := l.Settle(ctx, 0)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrTransferFailed))
		assert.True(t, out.Halted)
		assert.Equal(t, 0, l.Cursor())
	}
	assert.Equal(t, 1, c.sends, "one broadcast for one record")

	rec, _ := l.Lookup("r1")
	assert.Equal(t, Pending, rec.Status)
	assert.True(t, rec.InFlight())
	assert.Equal(t, common.BigToHash(big.NewInt(1)), rec.TxHash)
	assert.True(t, l.NeedsSettlement())

	err := l.Cancel(master, "r1")
	assert.True(t, apperrors.Is(err, apperrors.ErrAlreadyFinal))

	c.state = currency.TxConfirmed
	out, err := l.Settle(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Settled)
	assert.Equal(t, 1, l.Cursor())
	assert.Equal(t, 1, c.sends)
	assert.Equal(t, int64(100), c.paid[buyer])

	rec, _ = l.Lookup("r1")
	assert.Equal(t, Settled, rec.Status)
	assert.False(t, rec.InFlight())
}

func TestRevertedPayoutIsSentAgain(t *testing.T) {
	ctx := context.Background()
	c := newSlowChain()
	l := newSlowLedger(t, c)

	_, err := l.Settle(ctx, 0)
	require.Error(t, err)

	c.state = currency.TxReverted
	c.submit = false
	out, err := l.Settle(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Settled)
	assert.Equal(t, 2, c.sends)

	rec, _ := l.Lookup("r1")
	assert.Equal(t, Settled, rec.Status)
	assert.Equal(t, common.Hash{}, rec.TxHash)
}

func TestSubmittedPayoutSurvivesRestore(t *testing.T) {
	ctx := context.Background()
	c := newSlowChain()
	l := newSlowLedger(t, c)

	_, err := l.Settle(ctx, 0)
	require.Error(t, err)
	changes := l.Changes()
	require.Len(t, changes.Records, 1)
	assert.True(t, changes.Records[0].PayoutStarted)
	assert.NotEqual(t, common.Hash{}, changes.Records[0].TxHash)

	restored, err := Restore(l.State(), c, nil)
	require.NoError(t, err)
	_, err = restored.Settle(ctx, 0)
	require.Error(t, err)
	assert.Equal(t, 1, c.sends)
}

func TestCheckpointFailureBlocksPayout(t *testing.T) {
	ctx := context.Background()
	c := newSlowChain()
	c.submit = false
	down := errors.New("db down")
	var saved []bool
	l := newSlowLedger(t, c, WithCheckpoint(func(_ context.Context, l *Ledger) error {
		for _, rec := range l.Changes().Records {
			saved = append(saved, rec.PayoutStarted)
		}
		return down
	}))

	out, err := l.Settle(ctx, 0)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrPersistence))
	assert.ErrorIs(t, err, down)
	assert.True(t, out.Halted)
	assert.Equal(t, 0, c.sends)
	assert.Contains(t, saved, true, "intent is offered to the checkpoint before funds move")

	rec, _ := l.Lookup("r1")
	assert.False(t, rec.InFlight())
}

func TestUnknownPayoutWaitsForResolution(t *testing.T) {
	ctx := context.Background()
	c := newSlowChain()
	c.submit = false
	l := newSlowLedger(t, c)

	// A record saved with its intent but not its outcome.
	st := l.State()
	st.Records[0].PayoutStarted = true
	restored, err := Restore(st, c, nil, WithClock(newClock().Now))
	require.NoError(t, err)

	out, err := restored.Settle(ctx, 0)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrTransferFailed))
	assert.True(t, out.Halted)
	assert.Equal(t, 0, c.sends)

	err = restored.ResolvePayout(outsider, "r1", false)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
	err = restored.ResolvePayout(master, "missing", false)
	assert.True(t, apperrors.Is(err, apperrors.ErrRecordNotFound))

	t.Run("not paid", func(t *testing.T) {
		r, err := Restore(st, c, nil)
		require.NoError(t, err)
		require.NoError(t, r.ResolvePayout(master, "r1", false))
		_, err = r.Settle(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, c.sends)
		assert.Equal(t, 1, r.Cursor())
	})

	t.Run("paid", func(t *testing.T) {
		r, err := Restore(st, c, nil)
		require.NoError(t, err)
		require.NoError(t, r.ResolvePayout(master, "r1", true))
		assert.Equal(t, 1, r.Cursor())
		rec, _ := r.Lookup("r1")
		assert.Equal(t, Settled, rec.Status)

		err = r.ResolvePayout(master, "r1", true)
		assert.True(t, apperrors.Is(err, apperrors.ErrAlreadyFinal))
	})
}
