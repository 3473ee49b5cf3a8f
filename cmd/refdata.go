package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fairledger/ledger-cli/internal/refdata"
)

var (
	refdataSeedPath string
	refdataFXCSV    string
)

var refdataCmd = &cobra.Command{
	Use:   "refdata",
	Short: "Load vendor master, tax rules and FX rates",
	Long:  "Upserts reference data from a YAML seed file, plus optional FX rates from a CSV export, into the store used by validation.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path := refdataSeedPath
		if path == "" {
			path = cfg.Refdata.SeedPath
		}
		if path == "" && refdataFXCSV == "" {
			return eris.New("nothing to load: pass --seed or --fx-csv, or set refdata.seed_path")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if path != "" {
			src, err := openInput(ctx, path)
			if err != nil {
				return err
			}
			seed, err := refdata.ParseSeed(src)
			src.Close() //nolint:errcheck
			if err != nil {
				return err
			}
			if err := st.UpsertVendors(ctx, seed.Vendors); err != nil {
				return eris.Wrap(err, "upsert vendors")
			}
			if err := st.UpsertTaxRules(ctx, seed.TaxRules); err != nil {
				return eris.Wrap(err, "upsert tax rules")
			}
			if err := st.UpsertFXRates(ctx, seed.FXRates); err != nil {
				return eris.Wrap(err, "upsert fx rates")
			}
			zap.L().Info("seed loaded",
				zap.String("path", path),
				zap.Int("vendors", len(seed.Vendors)),
				zap.Int("tax_rules", len(seed.TaxRules)),
				zap.Int("fx_rates", len(seed.FXRates)),
			)
		}

		if refdataFXCSV != "" {
			src, err := openInput(ctx, refdataFXCSV)
			if err != nil {
				return err
			}
			rates, err := refdata.ParseFXRatesCSV(src)
			src.Close() //nolint:errcheck
			if err != nil {
				return err
			}
			if err := st.UpsertFXRates(ctx, rates); err != nil {
				return eris.Wrap(err, "upsert fx rates")
			}
			zap.L().Info("fx rates loaded",
				zap.String("path", refdataFXCSV),
				zap.Int("fx_rates", len(rates)),
			)
		}
		return nil
	},
}

func init() {
	refdataCmd.Flags().StringVar(&refdataSeedPath, "seed", "", "YAML seed file or URL (default from config refdata.seed_path)")
	refdataCmd.Flags().StringVar(&refdataFXCSV, "fx-csv", "", "FX rates CSV file or URL (date,from,to,rate)")
	rootCmd.AddCommand(refdataCmd)
}
