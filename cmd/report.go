package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/report"
)

var (
	reportFrom string
	reportTo   string
	reportXLSX string
	reportCSV  string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate financial reports from posted journals",
}

var reportStatementsCmd = &cobra.Command{
	Use:   "statements",
	Short: "Trial balance, P&L and balance sheet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("report"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		from, to, err := reportRange()
		if err != nil {
			return err
		}

		r := report.NewReporter(st)
		tb, err := r.TrialBalance(ctx, from, to)
		if err != nil {
			return eris.Wrap(err, "trial balance")
		}
		pl := report.ProfitAndLoss(tb)
		bs := report.BalanceSheet(tb)

		if reportCSV != "" {
			f, err := os.Create(reportCSV)
			if err != nil {
				return eris.Wrap(err, "create csv")
			}
			defer f.Close() //nolint:errcheck
			if err := report.WriteTrialBalanceCSV(f, tb); err != nil {
				return err
			}
			zap.L().Info("trial balance written", zap.String("path", reportCSV))
		}

		if reportXLSX != "" {
			activity, err := r.Activity(ctx, from, to)
			if err != nil {
				return eris.Wrap(err, "monthly activity")
			}
			if err := report.WriteWorkbook(reportXLSX, tb, pl, bs, activity); err != nil {
				return err
			}
			zap.L().Info("workbook written", zap.String("path", reportXLSX))
		}

		if reportCSV == "" && reportXLSX == "" {
			if err := report.WriteTrialBalanceCSV(os.Stdout, tb); err != nil {
				return err
			}
			fmt.Println()
			if err := report.WriteSummariesCSV(os.Stdout, pl, bs); err != nil {
				return err
			}
		}
		return nil
	},
}

var reportAgingCmd = &cobra.Command{
	Use:   "aging",
	Short: "Open item aging for payables or receivables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		sideFlag, _ := cmd.Flags().GetString("side")
		side := model.OpenItemSide(sideFlag)
		if side != model.SidePayable && side != model.SideReceivable {
			return eris.Errorf("side must be payable or receivable, got %q", sideFlag)
		}

		aged, err := report.NewReporter(st).Aging(ctx, side, time.Now().UTC())
		if err != nil {
			return eris.Wrap(err, "aging")
		}

		for _, a := range aged {
			fmt.Printf("%-16s %-10s due %10.2f  %4d days  %s\n",
				a.Item.DocNumber, a.Item.CounterpartyID,
				model.MajorUnits(a.Item.AmountDueMinor), a.DaysDue, a.Item.Status)
		}
		return nil
	},
}

// reportRange parses --from/--to, defaulting to the current calendar year.
func reportRange() (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	var err error
	if reportFrom != "" {
		from, err = time.Parse("2006-01-02", reportFrom)
		if err != nil {
			return time.Time{}, time.Time{}, eris.Wrap(err, "parse --from")
		}
	}
	if reportTo != "" {
		to, err = time.Parse("2006-01-02", reportTo)
		if err != nil {
			return time.Time{}, time.Time{}, eris.Wrap(err, "parse --to")
		}
	}
	return from, to, nil
}

func init() {
	reportCmd.PersistentFlags().StringVar(&reportFrom, "from", "", "start date inclusive (YYYY-MM-DD), default Jan 1")
	reportCmd.PersistentFlags().StringVar(&reportTo, "to", "", "end date exclusive (YYYY-MM-DD), default next Jan 1")
	reportStatementsCmd.Flags().StringVar(&reportXLSX, "xlsx", "", "write statements workbook to this path")
	reportStatementsCmd.Flags().StringVar(&reportCSV, "csv", "", "write trial balance CSV to this path")
	reportAgingCmd.Flags().String("side", "payable", "payable or receivable")

	reportCmd.AddCommand(reportStatementsCmd)
	reportCmd.AddCommand(reportAgingCmd)
	rootCmd.AddCommand(reportCmd)
}
