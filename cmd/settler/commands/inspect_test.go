package commands

import (
	"math/big"
	"testing"
	"time"

	"github.com/settlus/settlegate/internal/currency"
	"github.com/settlus/settlegate/internal/ledger"
	"github.com/stretchr/testify/assert"
)

func TestSummarizeState(t *testing.T) {
	st := ledger.State{
		Name:         "shop",
		Currency:     currency.Currency{Kind: currency.Native},
		PayoutPeriod: time.Hour,
		Cursor:       2,
		Records: []ledger.Record{
			{Index: 0, RequestID: "a", Amount: big.NewInt(1), Status: ledger.Settled},
			{Index: 1, RequestID: "b", Amount: big.NewInt(1), Status: ledger.Canceled},
			{Index: 2, RequestID: "c", Amount: big.NewInt(1), Status: ledger.Pending},
			{Index: 3, RequestID: "d", Amount: big.NewInt(1), Status: ledger.Pending, PayoutStarted: true},
		},
	}

	s := summarizeState(st)
	assert.Equal(t, "shop", s.Name)
	assert.Equal(t, "native", s.Currency)
	assert.Equal(t, "1h0m0s", s.Payout)
	assert.Equal(t, 2, s.Cursor)
	assert.Equal(t, 2, s.Pending)
	assert.Equal(t, 1, s.InFlight)
	assert.Equal(t, 1, s.Settled)
	assert.Equal(t, 1, s.Canceled)
}
