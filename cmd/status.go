package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var statusOwner string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show corpus and pipeline counters",
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

		sum, err := st.Summary(ctx, statusOwner)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "Sources:\t%d (%d active)\n", sum.Sources, sum.ActiveSources)
		_, _ = fmt.Fprintf(w, "Posts:\t%d\n", sum.Posts)
		_, _ = fmt.Fprintf(w, "  Pending analysis:\t%d\n", sum.PendingPosts)
		_, _ = fmt.Fprintf(w, "Signals:\t%d\n", sum.Signals)
		_, _ = fmt.Fprintf(w, "  Event-related:\t%d\n", sum.EventSignals)
		_, _ = fmt.Fprintf(w, "Running jobs:\t%d\n", sum.RunningJobs)
		_ = w.Flush()
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusOwner, "owner", "", "scope counters to one owner")
	rootCmd.AddCommand(statusCmd)
}
