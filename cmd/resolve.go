package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fairledger/ledger-cli/internal/model"
)

var (
	resolveAction   string
	resolveReviewer string
	resolveNote     string

	resolveVendorID     string
	resolveVendorName   string
	resolveAmount       float64
	resolveTaxAmount    float64
	resolveCurrency     string
	resolveFXRate       float64
	resolveTxDate       string
	resolveNotDuplicate bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <request-id>",
	Short: "Resolve a pending review request",
	Long:  "Submits a reviewer decision: approve posts the record as validated, correct re-validates with the supplied field overrides, reject terminates the instance.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res := model.Resolution{
			Kind:     model.ResolutionKind(resolveAction),
			Reviewer: resolveReviewer,
			Note:     resolveNote,
		}
		if res.Kind == model.ResolutionCorrect {
			res.Corrected = collectCorrections(cmd)
		}

		inst, err := env.Engine.Resolve(ctx, args[0], res)
		if err != nil {
			return err
		}

		zap.L().Info("resolution applied",
			zap.String("request_id", args[0]),
			zap.String("instance_id", inst.ID),
			zap.String("state", string(inst.State)),
		)
		return nil
	},
}

// collectCorrections turns only the flags the reviewer actually set into
// field overrides, so unset flags leave extracted values alone.
func collectCorrections(cmd *cobra.Command) model.CorrectedFields {
	var c model.CorrectedFields
	if cmd.Flags().Changed("vendor-id") {
		c.VendorID = &resolveVendorID
	}
	if cmd.Flags().Changed("vendor-name") {
		c.VendorName = &resolveVendorName
	}
	if cmd.Flags().Changed("amount") {
		c.Amount = &resolveAmount
	}
	if cmd.Flags().Changed("tax-amount") {
		c.TaxAmount = &resolveTaxAmount
	}
	if cmd.Flags().Changed("currency") {
		c.Currency = &resolveCurrency
	}
	if cmd.Flags().Changed("fx-rate") {
		c.FXRate = &resolveFXRate
	}
	if cmd.Flags().Changed("tx-date") {
		c.TxDate = &resolveTxDate
	}
	c.NotDuplicate = resolveNotDuplicate
	return c
}

func init() {
	resolveCmd.Flags().StringVar(&resolveAction, "action", "", "approve, correct or reject (required)")
	resolveCmd.Flags().StringVar(&resolveReviewer, "reviewer", "", "reviewer identity for the audit trail")
	resolveCmd.Flags().StringVar(&resolveNote, "note", "", "free-form resolution note")

	resolveCmd.Flags().StringVar(&resolveVendorID, "vendor-id", "", "corrected vendor ID")
	resolveCmd.Flags().StringVar(&resolveVendorName, "vendor-name", "", "corrected vendor name")
	resolveCmd.Flags().Float64Var(&resolveAmount, "amount", 0, "corrected document total")
	resolveCmd.Flags().Float64Var(&resolveTaxAmount, "tax-amount", 0, "corrected tax amount")
	resolveCmd.Flags().StringVar(&resolveCurrency, "currency", "", "corrected ISO currency code")
	resolveCmd.Flags().Float64Var(&resolveFXRate, "fx-rate", 0, "manual FX rate override")
	resolveCmd.Flags().StringVar(&resolveTxDate, "tx-date", "", "corrected transaction date (YYYY-MM-DD)")
	resolveCmd.Flags().BoolVar(&resolveNotDuplicate, "not-duplicate", false, "confirm the document is not a duplicate")

	resolveCmd.MarkFlagRequired("action") //nolint:errcheck
	rootCmd.AddCommand(resolveCmd)
}
