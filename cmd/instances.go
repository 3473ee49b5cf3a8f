package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/store"
)

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "Inspect and manage workflow instances",
	Long:  "Commands for listing, viewing, resuming and cancelling document workflow instances.",
}

// -- instances list --

var instancesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow instances",
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

		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		instances, err := st.ListInstances(ctx, store.InstanceFilter{
			State: model.State(state),
			Limit: limit,
		})
		if err != nil {
			return eris.Wrap(err, "instances list")
		}

		if len(instances) == 0 {
			fmt.Fprintln(os.Stderr, "No instances found.")
			return nil
		}

		formatInstanceList(os.Stdout, instances)
		return nil
	},
}

// -- instances show --

var instancesShowCmd = &cobra.Command{
	Use:   "show <instance-id>",
	Short: "Show full details of an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		inst, err := st.GetInstance(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "instances show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(inst)
	},
}

// -- instances audit --

var instancesAuditCmd = &cobra.Command{
	Use:   "audit <instance-id>",
	Short: "Show the audit trail of an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		trail, err := st.ListAudit(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "instances audit")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tACTOR\tTRANSITION\tDETAIL")
		for _, e := range trail {
			transition := ""
			if e.FromState != "" || e.ToState != "" {
				transition = fmt.Sprintf("%s -> %s", e.FromState, e.ToState)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				e.Timestamp.Format(time.RFC3339), e.Actor, transition, e.Detail)
		}
		return w.Flush()
	},
}

// -- instances resume --

var instancesResumeCmd = &cobra.Command{
	Use:   "resume <instance-id>",
	Short: "Resume a validated or resolved instance",
	Long:  "Re-drives posting for an instance that stopped between validation and posting, e.g. after a crash or a ledger outage.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		inst, err := env.Engine.Resume(ctx, args[0])
		if err != nil {
			return err
		}

		zap.L().Info("instance resumed",
			zap.String("instance_id", inst.ID),
			zap.String("state", string(inst.State)),
		)
		return nil
	},
}

// -- instances cancel --

var instancesCancelCmd = &cobra.Command{
	Use:   "cancel <instance-id>",
	Short: "Cancel a pending instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		actor, _ := cmd.Flags().GetString("actor")
		note, _ := cmd.Flags().GetString("note")

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		inst, err := env.Engine.Cancel(ctx, args[0], actor, note)
		if err != nil {
			return err
		}

		zap.L().Info("instance cancelled",
			zap.String("instance_id", inst.ID),
			zap.String("state", string(inst.State)),
		)
		return nil
	},
}

func init() {
	instancesListCmd.Flags().String("state", "", "filter by state (Received, PendingReview, Posted, ...)")
	instancesListCmd.Flags().Int("limit", 50, "max number of instances to display")

	instancesCancelCmd.Flags().String("actor", "system", "who is cancelling, for the audit trail")
	instancesCancelCmd.Flags().String("note", "", "cancellation reason")

	instancesCmd.AddCommand(instancesListCmd)
	instancesCmd.AddCommand(instancesShowCmd)
	instancesCmd.AddCommand(instancesAuditCmd)
	instancesCmd.AddCommand(instancesResumeCmd)
	instancesCmd.AddCommand(instancesCancelCmd)
	rootCmd.AddCommand(instancesCmd)
}

// formatInstanceList writes a tabular list of instances to w.
func formatInstanceList(out io.Writer, instances []model.WorkflowInstance) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATE\tDOC_NUMBER\tVENDOR\tEXCEPTIONS\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t-----\t----------\t------\t----------\t-------")

	for _, inst := range instances {
		docNumber, vendor := "", ""
		if inst.Record != nil {
			docNumber = inst.Record.DocNumber
			vendor = inst.Record.VendorName
		} else if inst.Raw != nil {
			docNumber = inst.Raw.DocNumber
			vendor = inst.Raw.VendorName
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			inst.ID, inst.State, docNumber, vendor, len(inst.Exceptions),
			inst.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
