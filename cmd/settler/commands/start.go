package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/settlus/settlegate/internal/chain"
	"github.com/settlus/settlegate/internal/config"
	"github.com/settlus/settlegate/internal/keeper"
	"github.com/settlus/settlegate/internal/pkg/logger"
	"github.com/spf13/cobra"
)

// NewStartCmd creates the start command
func NewStartCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the settler service",
		Long: `Follow new blocks and send settleAll() to the tenant manager contract.

Requires chain.rpc_url, keeper.manager_address and keeper.private_key.
Falls back to polling every keeper.interval_seconds when the node
does not support head subscriptions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			err = runStart(cmd.Context(), cfg, once)
			if err != nil {
				logger.Error("Settler service terminated with error", "error", err)
			} else {
				logger.Info("Settler service terminated gracefully")
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single settleAll() pass and exit")
	return cmd
}

func runStart(ctx context.Context, cfg *config.Config, once bool) error {
	if cfg.Chain.RPCURL == "" {
		return errors.New("chain.rpc_url is required")
	}
	if !common.IsHexAddress(cfg.Keeper.ManagerAddress) {
		return fmt.Errorf("keeper.manager_address %q is not an address", cfg.Keeper.ManagerAddress)
	}
	key := cfg.Keeper.PrivateKey
	if key == "" {
		key = cfg.Chain.OperatorKey
	}

	client, err := chain.Dial(ctx, chain.ClientOptions{
		RPCURL:        cfg.Chain.RPCURL,
		ChainID:       cfg.Chain.ChainID,
		OperatorKey:   key,
		CallTimeout:   cfg.Chain.CallTimeout(),
		CallRetries:   cfg.Chain.CallRetries,
		GasMultiplier: uint64(cfg.Keeper.GasMultiplier),
	})
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Info("Starting settler...", "operator", client.Operator().Hex(), "manager", cfg.Keeper.ManagerAddress)

	checker := keeper.NewTxChecker(client.Eth())
	checker.Start(ctx)
	defer checker.Wait()

	driver := keeper.NewContractDriver(client, client.Eth(), common.HexToAddress(cfg.Keeper.ManagerAddress), client.Operator(), checker)

	if once {
		block, err := client.Eth().BlockNumber(ctx)
		if err != nil {
			return err
		}
		return driver.Settle(ctx, block)
	}

	opts := []keeper.Option{keeper.WithHeads(client.Eth())}
	if cfg.Keeper.SlackWebhookURL != "" {
		monitor, err := keeper.NewBalanceMonitor(client, client.Operator(), cfg.Keeper.BalanceCheckEvery,
			cfg.Keeper.DangerThreshold, cfg.Keeper.DecreaseThreshold, keeper.NewSlackNotifier(cfg.Keeper.SlackWebhookURL))
		if err != nil {
			return err
		}
		opts = append(opts, keeper.WithBalanceMonitor(monitor))
	} else {
		logger.Warn("keeper.slack_webhook_url not set, balance alerts disabled")
	}

	keeper.New(driver, cfg.Keeper.Interval(), opts...).Run(ctx)
	return nil
}
