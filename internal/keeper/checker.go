package keeper

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/settlus/settlegate/internal/pkg/logger"
	"github.com/settlus/settlegate/internal/pkg/metrics"
	"github.com/shopspring/decimal"
)

// CheckBackend is satisfied by *ethclient.Client.
type CheckBackend interface {
	bind.DeployBackend
	ethereum.ContractCaller
}

type TxCheck struct {
	Tx  *types.Transaction
	Msg ethereum.CallMsg
}

// TxResult is the mined outcome of a checked transaction.
type TxResult struct {
	Hash    common.Hash
	Success bool
	GasUsed uint64
	Fee     *big.Int
	Reason  string
	Err     error
}

// TxChecker waits for receipts off the trigger path and replays reverted
// calls to log the revert reason.
type TxChecker struct {
	backend CheckBackend
	queue   chan TxCheck
	wg      sync.WaitGroup
	observe func(TxResult)
}

func NewTxChecker(backend CheckBackend) *TxChecker {
	return &TxChecker{
		backend: backend,
		queue:   make(chan TxCheck, 16),
	}
}

func (tc *TxChecker) Start(ctx context.Context) {
	tc.wg.Add(1)
	go func() {
		defer tc.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-tc.queue:
				res := tc.check(ctx, msg)
				if tc.observe != nil {
					tc.observe(res)
				}
			}
		}
	}()
}

// Check queues msg. It blocks while the queue is full, until ctx is done.
func (tc *TxChecker) Check(ctx context.Context, msg TxCheck) {
	select {
	case tc.queue <- msg:
	case <-ctx.Done():
	}
}

// Wait blocks until the checker goroutine exits after its context ends.
func (tc *TxChecker) Wait() {
	tc.wg.Wait()
}

func (tc *TxChecker) check(ctx context.Context, msg TxCheck) TxResult {
	res := TxResult{Hash: msg.Tx.Hash()}
	receipt, err := bind.WaitMined(ctx, tc.backend, msg.Tx)
	if err != nil {
		res.Err = err
		logger.Error("failed to wait for transaction mining", "tx", res.Hash.Hex(), "error", err)
		metrics.KeeperRuns.WithLabelValues("contract", "unmined").Inc()
		return res
	}

	res.GasUsed = receipt.GasUsed
	res.Fee = new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), msg.Tx.GasPrice())
	fee := decimal.NewFromBigInt(res.Fee, -18).StringFixed(18)

	if receipt.Status == types.ReceiptStatusSuccessful {
		res.Success = true
		logger.Info("transaction successful", "tx", res.Hash.Hex())
		logger.Debug("transaction fee", "tx", res.Hash.Hex(), "gas_used", receipt.GasUsed, "fee_eth", fee)
		return res
	}

	metrics.KeeperRuns.WithLabelValues("contract", "reverted").Inc()
	// 在同一区块重放调用以取回 revert 原因
	_, err = tc.backend.CallContract(ctx, msg.Msg, receipt.BlockNumber)
	if err != nil {
		res.Reason = err.Error()
	}
	logger.Warn("transaction failed", "tx", res.Hash.Hex(), "block", receipt.BlockNumber, "reason", res.Reason)
	return res
}
