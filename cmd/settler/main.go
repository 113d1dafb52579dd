package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/settlus/settlegate/cmd/settler/commands"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "settler",
	Short: "SettleGate settlement keeper",
	Long:  "settler calls settleAll() on the tenant manager contract whenever a new block is produced, and inspects persisted ledgers",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to config file (default: ./config.yaml)")
	flags.String("log-level", "info", "Log level (debug|info|warn|error)")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
}

func main() {
	rootCmd.AddCommand(commands.NewStartCmd())
	rootCmd.AddCommand(commands.NewInspectCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
