package keeper

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ether(milli int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(milli), big.NewInt(1e15))
}

func TestShouldSendAlert(t *testing.T) {
	danger := ether(1000)  // 1 ETH
	decrease := ether(100) // 0.1 ETH

	tests := []struct {
		name        string
		current     *big.Int
		lastAlert   *big.Int
		wasInDanger bool
		want        bool
	}{
		{"enters danger", ether(500), nil, false, true},
		{"healthy", ether(1500), nil, false, false},
		{"recovers", ether(1500), ether(500), true, true},
		{"exactly at threshold is healthy", ether(1000), nil, false, false},
		{"small drop while in danger", ether(450), ether(500), true, false},
		{"drop of exactly decrease", ether(400), ether(500), true, true},
		{"large drop while in danger", ether(100), ether(500), true, true},
		{"rise while in danger", ether(600), ether(500), true, false},
		{"in danger without previous alert", ether(500), nil, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldSendAlert(tt.current, tt.lastAlert, tt.wasInDanger, danger, decrease))
		})
	}
}

func TestEtherToWei(t *testing.T) {
	wei, err := etherToWei("0.5")
	require.NoError(t, err)
	assert.Equal(t, ether(500), wei)

	wei, err = etherToWei("2")
	require.NoError(t, err)
	assert.Equal(t, ether(2000), wei)

	_, err = etherToWei("abc")
	assert.Error(t, err)
	_, err = etherToWei("-1")
	assert.Error(t, err)

	assert.Equal(t, "0.500000", formatEther(ether(500)))
}

type fakeBalance struct {
	bal *big.Int
	err error
	n   int
}

func (f *fakeBalance) NativeBalance(context.Context, common.Address) (*big.Int, error) {
	f.n++
	return f.bal, f.err
}

type fakeNotifier struct {
	messages []string
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, msg string) error {
	f.messages = append(f.messages, msg)
	return f.err
}

func TestBalanceMonitorCheck(t *testing.T) {
	ctx := context.Background()
	src := &fakeBalance{bal: ether(2000)}
	notes := &fakeNotifier{}
	m, err := NewBalanceMonitor(src, common.HexToAddress("0xabc"), 100, "1", "0.1", notes)
	require.NoError(t, err)

	// only blocks ending in 00 or 99 are checked
	require.NoError(t, m.Check(ctx, 150))
	assert.Equal(t, 0, src.n)
	require.NoError(t, m.Check(ctx, 199))
	require.NoError(t, m.Check(ctx, 200))
	assert.Equal(t, 2, src.n)
	assert.Empty(t, notes.messages)

	src.bal = ether(500)
	require.NoError(t, m.Check(ctx, 300))
	require.Len(t, notes.messages, 1)
	assert.Contains(t, notes.messages[0], "danger")
	assert.Contains(t, notes.messages[0], "0.500000")

	src.bal = ether(450)
	require.NoError(t, m.Check(ctx, 400))
	assert.Len(t, notes.messages, 1)

	src.bal = ether(350)
	require.NoError(t, m.Check(ctx, 500))
	assert.Len(t, notes.messages, 2)

	src.bal = ether(1200)
	require.NoError(t, m.Check(ctx, 600))
	require.Len(t, notes.messages, 3)
	assert.Contains(t, notes.messages[2], "recovered")
}

func TestBalanceMonitorErrors(t *testing.T) {
	ctx := context.Background()
	_, err := NewBalanceMonitor(&fakeBalance{}, common.Address{}, 1, "x", "0.1", nil)
	assert.Error(t, err)

	src := &fakeBalance{err: errors.New("rpc down")}
	m, err := NewBalanceMonitor(src, common.Address{}, 1, "1", "0.1", nil)
	require.NoError(t, err)
	assert.ErrorContains(t, m.Check(ctx, 7), "rpc down")

	notes := &fakeNotifier{err: errors.New("slack down")}
	m, err = NewBalanceMonitor(&fakeBalance{bal: big.NewInt(0)}, common.Address{}, 1, "1", "0.1", notes)
	require.NoError(t, err)
	assert.ErrorContains(t, m.Check(ctx, 7), "slack down")
}

func TestSlackNotifier(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if strings.Contains(got["text"], "fail") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL)
	require.NoError(t, n.Notify(context.Background(), "hello"))
	assert.Equal(t, "hello", got["text"])

	assert.ErrorContains(t, n.Notify(context.Background(), "fail please"), "500")
	n.client.CloseIdleConnections()
}
