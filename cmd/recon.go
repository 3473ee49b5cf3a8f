package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fairledger/ledger-cli/internal/extract"
	"github.com/fairledger/ledger-cli/internal/recon"
)

var (
	reconFeedPath string
	reconUseAI    bool
)

var reconCmd = &cobra.Command{
	Use:   "recon",
	Short: "Reconcile open items against a bank statement feed",
	Long:  "Applies outstanding credit notes, matches bank lines to open AP/AR items, books the cash journal entries and updates settlement status.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("recon"); err != nil {
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

		var feed []recon.BankTransaction
		if reconFeedPath != "" {
			src, err := openInput(ctx, reconFeedPath)
			if err != nil {
				return err
			}
			feed, err = recon.ParseBankFeed(src)
			src.Close() //nolint:errcheck
			if err != nil {
				return err
			}
		}

		var matcher recon.Matcher
		if reconUseAI {
			if cfg.Anthropic.Key == "" {
				return eris.New("anthropic.key is required for --ai matching (LEDGER_ANTHROPIC_KEY)")
			}
			client := extract.NewMessageClient(cfg.Anthropic.Key)
			matcher = recon.NewAnthropicMatcher(client, cfg.Anthropic.Model)
		}

		res, err := recon.NewReconciler(st, matcher).Run(ctx, feed)
		if err != nil {
			return err
		}

		zap.L().Info("reconciliation complete",
			zap.Int("matched", res.Matched),
			zap.Int("fuzzy_matched", res.FuzzyMatched),
			zap.Int("unmatched", len(res.Unmatched)),
			zap.Int("credits_applied", res.AppliedCredits),
		)
		return nil
	},
}

func init() {
	reconCmd.Flags().StringVar(&reconFeedPath, "feed", "", "bank statement CSV file or URL (date,amount,memo,guess_doc_number)")
	reconCmd.Flags().BoolVar(&reconUseAI, "ai", false, "use Claude to match lines the doc-number lookup misses")
	rootCmd.AddCommand(reconCmd)
}
