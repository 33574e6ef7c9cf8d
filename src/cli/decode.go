package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/stake-plus/govvote/src/ledger"
)

func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <raw-record>",
		Short: "Decode a raw ledger proposal record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := ledger.Decode(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rootOpts.Output == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"title":        rec.Title,
					"content_hash": rec.ContentHash,
					"deadline":     rec.Deadline,
					"confidence":   rec.Confidence,
					"yes_votes":    rec.YesVotes,
					"no_votes":     rec.NoVotes,
					"finalized":    rec.Finalized,
				})
			}
			fmt.Fprintf(out, "title:        %s\n", rec.Title)
			fmt.Fprintf(out, "content hash: %s\n", rec.ContentHash)
			fmt.Fprintf(out, "deadline:     %s\n", time.Unix(rec.Deadline, 0).UTC().Format(time.RFC3339))
			fmt.Fprintf(out, "confidence:   %d\n", rec.Confidence)
			fmt.Fprintf(out, "votes:        yes=%d no=%d\n", rec.YesVotes, rec.NoVotes)
			fmt.Fprintf(out, "finalized:    %t\n", rec.Finalized)
			return nil
		},
	}
}
