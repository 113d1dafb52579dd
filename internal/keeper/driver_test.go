package keeper

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/settlus/settlegate/internal/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var managerAddr = common.HexToAddress("0x0000000000000000000000000000000000000e01")

type fakeSender struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (s *fakeSender) SendTx(_ context.Context, to common.Address, _ *big.Int, data []byte) (*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, data)
	return types.NewTx(&types.LegacyTx{
		Nonce:    uint64(len(s.sent)),
		To:       &to,
		Gas:      100000,
		GasPrice: big.NewInt(1e9),
		Data:     data,
	}), nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// fakeBackend answers getSettleRequiredTenants, receipts and revert replays.
type fakeBackend struct {
	tenants   []common.Address
	callErr   error
	status    uint64
	revertErr error
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if block != nil {
		return nil, b.revertErr
	}
	if b.callErr != nil {
		return nil, b.callErr
	}
	return chain.TenantManager().Methods["getSettleRequiredTenants"].Outputs.Pack(b.tenants)
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: b.status, GasUsed: 21000, BlockNumber: big.NewInt(7)}, nil
}

func (b *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}

func TestContractDriverSkipsWhenNothingRequired(t *testing.T) {
	sender := &fakeSender{}
	d := NewContractDriver(sender, &fakeBackend{}, managerAddr, settlerAcct, nil)
	require.NoError(t, d.Settle(context.Background(), 1))
	assert.Equal(t, 0, sender.count())
}

func TestContractDriverSendsSettleAll(t *testing.T) {
	sender := &fakeSender{}
	backend := &fakeBackend{tenants: []common.Address{common.HexToAddress("0x1")}}
	d := NewContractDriver(sender, backend, managerAddr, settlerAcct, nil)
	require.NoError(t, d.Settle(context.Background(), 1))

	require.Equal(t, 1, sender.count())
	selector := chain.TenantManager().Methods["settleAll"].ID
	assert.True(t, bytes.Equal(selector, sender.sent[0]))
}

func TestContractDriverWithoutCallerAlwaysSends(t *testing.T) {
	sender := &fakeSender{}
	d := NewContractDriver(sender, nil, managerAddr, settlerAcct, nil)
	require.NoError(t, d.Settle(context.Background(), 1))
	require.NoError(t, d.Settle(context.Background(), 2))
	assert.Equal(t, 2, sender.count())
}

func TestContractDriverErrors(t *testing.T) {
	d := NewContractDriver(&fakeSender{}, &fakeBackend{callErr: errors.New("rpc down")}, managerAddr, settlerAcct, nil)
	assert.ErrorContains(t, d.Settle(context.Background(), 1), "rpc down")

	d = NewContractDriver(&fakeSender{err: errors.New("nonce too low")}, nil, managerAddr, settlerAcct, nil)
	assert.ErrorContains(t, d.Settle(context.Background(), 1), "nonce too low")
}

func TestTxCheckerReportsOutcome(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		success bool
		reason  string
	}{
		{"success", &fakeBackend{status: types.ReceiptStatusSuccessful}, true, ""},
		{"reverted", &fakeBackend{status: types.ReceiptStatusFailed, revertErr: errors.New("execution reverted: paused")}, false, "execution reverted: paused"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			results := make(chan TxResult, 1)
			checker := NewTxChecker(tc.backend)
			checker.observe = func(r TxResult) { results <- r }
			checker.Start(ctx)

			sender := &fakeSender{}
			d := NewContractDriver(sender, nil, managerAddr, settlerAcct, checker)
			require.NoError(t, d.Settle(ctx, 1))

			select {
			case res := <-results:
				assert.Equal(t, tc.success, res.Success)
				assert.Equal(t, tc.reason, res.Reason)
				assert.Equal(t, uint64(21000), res.GasUsed)
				assert.Equal(t, new(big.Int).Mul(big.NewInt(21000), big.NewInt(1e9)), res.Fee)
			case <-time.After(2 * time.Second):
				t.Fatal("checker produced no result")
			}
			cancel()
			checker.Wait()
		})
	}
}
