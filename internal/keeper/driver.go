package keeper

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/settlus/settlegate/internal/chain"
	"github.com/settlus/settlegate/internal/pkg/logger"
	"github.com/settlus/settlegate/internal/service"
)

// Settler is the in-process registry entry point.
type Settler interface {
	SettleAll(ctx context.Context, caller common.Address, p service.SettleAllParams) (*service.SettleReport, error)
}

// LocalDriver runs settle_all against the in-process registry as a settler
// account.
type LocalDriver struct {
	settler Settler
	account common.Address
	params  service.SettleAllParams
}

func NewLocalDriver(settler Settler, account common.Address, params service.SettleAllParams) *LocalDriver {
	return &LocalDriver{settler: settler, account: account, params: params}
}

func (d *LocalDriver) Name() string { return "local" }

func (d *LocalDriver) Settle(ctx context.Context, block uint64) error {
	report, err := d.settler.SettleAll(ctx, d.account, d.params)
	if err != nil {
		return err
	}
	if report.Settled > 0 || report.Failed > 0 {
		logger.Info("keeper pass",
			"tick", block,
			"source", report.Source,
			"settled", report.Settled,
			"failed", report.Failed,
			"deferred", len(report.Deferred),
		)
	}
	return nil
}

// TxSender is satisfied by *chain.Client: it manages nonces, estimates and
// multiplies gas, signs and broadcasts.
type TxSender interface {
	SendTx(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error)
}

// ContractDriver sends settleAll() to an on-chain tenant manager.
type ContractDriver struct {
	sender  TxSender
	caller  ethereum.ContractCaller
	manager common.Address
	from    common.Address
	checker *TxChecker
	abi     abi.ABI
}

// NewContractDriver builds a driver for the manager at addr. When caller is
// set, a tx is only sent while getSettleRequiredTenants is non-empty.
func NewContractDriver(sender TxSender, caller ethereum.ContractCaller, manager, from common.Address, checker *TxChecker) *ContractDriver {
	return &ContractDriver{
		sender:  sender,
		caller:  caller,
		manager: manager,
		from:    from,
		checker: checker,
		abi:     chain.TenantManager(),
	}
}

func (d *ContractDriver) Name() string { return "contract" }

func (d *ContractDriver) Settle(ctx context.Context, block uint64) error {
	if d.caller != nil {
		pending, err := d.requiredTenants(ctx)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
	}

	data, err := d.abi.Pack("settleAll")
	if err != nil {
		return fmt.Errorf("failed to pack settleAll: %w", err)
	}
	tx, err := d.sender.SendTx(ctx, d.manager, nil, data)
	if err != nil {
		return err
	}
	logger.Info("settleAll sent", "block", block, "tx", tx.Hash().Hex(), "gas", tx.Gas())

	if d.checker != nil {
		d.checker.Check(ctx, TxCheck{
			Tx:  tx,
			Msg: ethereum.CallMsg{From: d.from, To: &d.manager, Data: data, Gas: tx.Gas()},
		})
	}
	return nil
}

func (d *ContractDriver) requiredTenants(ctx context.Context) ([]common.Address, error) {
	data, err := d.abi.Pack("getSettleRequiredTenants")
	if err != nil {
		return nil, err
	}
	out, err := d.caller.CallContract(ctx, ethereum.CallMsg{From: d.from, To: &d.manager, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("getSettleRequiredTenants: %w", err)
	}
	values, err := d.abi.Unpack("getSettleRequiredTenants", out)
	if err != nil {
		return nil, fmt.Errorf("unpack getSettleRequiredTenants: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	tenants, ok := values[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected getSettleRequiredTenants output %T", values[0])
	}
	return tenants, nil
}
