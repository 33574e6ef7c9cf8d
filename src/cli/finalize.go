package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/stake-plus/govvote/src/voting"
)

func NewFinalizeCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		id      uint64
		expired bool
	)
	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Finalize one proposal, or every proposal past its deadline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (id == 0) == !expired {
				return errors.New("exactly one of --id or --expired is required")
			}
			a, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			var results []voting.FinalizationResult
			if expired {
				results, err = a.svc.Finalizer().FinalizeExpired(cmd.Context())
			} else {
				var res *voting.FinalizationResult
				res, err = a.svc.Finalize(cmd.Context(), id)
				if res != nil {
					results = append(results, *res)
				}
			}
			if err != nil {
				return err
			}
			return writeFinalized(cmd.OutOrStdout(), rootOpts.Output, results)
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "local proposal id")
	cmd.Flags().BoolVar(&expired, "expired", false, "finalize every active proposal past its deadline")
	return cmd
}

func writeFinalized(w io.Writer, format string, results []voting.FinalizationResult) error {
	if format == "json" {
		if results == nil {
			results = []voting.FinalizationResult{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, r := range results {
		fmt.Fprintf(w, "proposal %d: %s (yes=%d no=%d) tx=%s\n", r.ProposalID, r.Status, r.YesVotes, r.NoVotes, r.TxRef)
	}
	fmt.Fprintf(w, "finalized %d proposal(s)\n", len(results))
	return nil
}
