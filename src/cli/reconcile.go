package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	sharedconfig "github.com/stake-plus/govvote/src/config"
	"github.com/stake-plus/govvote/src/reconcile"
)

func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass against the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			interval := sharedconfig.LoadAgentsConfig(a.db).Reconcile.Interval
			rep := reconcile.New(a.store, a.ledger, a.hub, interval, a.log).RunOnce(cmd.Context())

			out := cmd.OutOrStdout()
			if rootOpts.Output == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			fmt.Fprintf(out, "checked=%d transitioned=%d drifted=%d lagging=%d failed=%d invariant_violations=%d ledger_proposals=%d\n",
				rep.Checked, rep.Transitioned, rep.Drifted, rep.Lagging, rep.Failed, rep.InvariantViolations, rep.LedgerProposals)
			return nil
		},
	}
}
