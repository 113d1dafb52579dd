package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/settlus/settlegate/internal/ledger"
	"github.com/settlus/settlegate/internal/repository"
	"github.com/spf13/cobra"
)

type ledgerSummary struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Treasury string `json:"treasury"`
	Payout   string `json:"payout_period"`
	Cursor   int    `json:"cursor"`
	Pending  int    `json:"pending"`
	Settled  int    `json:"settled"`
	Canceled int    `json:"canceled"`
	InFlight int    `json:"in_flight"`
}

// NewInspectCmd creates the inspect command
func NewInspectCmd() *cobra.Command {
	var (
		tenant string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show persisted ledgers",
		Long:  "Read ledgers from database.dsn and print a per-tenant summary of the record queue.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return fmt.Errorf("database.dsn is required")
			}
			db, err := repository.NewDB(cfg)
			if err != nil {
				return err
			}
			states, err := repository.NewGormLedgerRepo(db).LoadLedgers(cmd.Context())
			if err != nil {
				return err
			}

			summaries := make([]ledgerSummary, 0, len(states))
			for _, st := range states {
				if tenant != "" && !strings.EqualFold(st.Name, tenant) {
					continue
				}
				summaries = append(summaries, summarizeState(st))
			}
			if tenant != "" && len(summaries) == 0 {
				return fmt.Errorf("tenant %q not found", tenant)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summaries)
			}
			printSummaries(summaries)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Only show this tenant")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func summarizeState(st ledger.State) ledgerSummary {
	s := ledgerSummary{
		Name:     st.Name,
		Currency: st.Currency.String(),
		Treasury: st.Treasury.Hex(),
		Payout:   st.PayoutPeriod.String(),
		Cursor:   st.Cursor,
	}
	for _, rec := range st.Records {
		switch rec.Status {
		case ledger.Pending:
			s.Pending++
			if rec.InFlight() {
				s.InFlight++
			}
		case ledger.Settled:
			s.Settled++
		case ledger.Canceled:
			s.Canceled++
		}
	}
	return s
}

func printSummaries(summaries []ledgerSummary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tCURRENCY\tPAYOUT\tCURSOR\tPENDING\tIN_FLIGHT\tSETTLED\tCANCELED")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n", s.Name, s.Currency, s.Payout, s.Cursor, s.Pending, s.InFlight, s.Settled, s.Canceled)
	}
	w.Flush()
}
