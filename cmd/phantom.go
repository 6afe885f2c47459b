package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/signal-scout/pkg/phantom"
)

var phantomCmd = &cobra.Command{
	Use:   "phantom",
	Short: "Inspect the Phantombuster agents",
}

var phantomValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Verify the configured agents exist and have a script attached",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Phantom.Key == "" {
			return eris.New("phantom.key is required (SIGNAL_PHANTOM_KEY)")
		}

		ctx := cmd.Context()
		client := initPhantom()

		agents := map[string]string{
			"profile": cfg.Phantom.ProfileAgentID,
			"search":  cfg.Phantom.SearchAgentID,
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ROLE\tAGENT_ID\tNAME\tLAST_ENDED\tSTATUS")

		var failed bool
		for role, id := range agents {
			if id == "" {
				_, _ = fmt.Fprintf(w, "%s\t-\t-\t-\tnot configured\n", role)
				continue
			}

			details, err := phantom.ValidateAgent(ctx, client, id)
			if err != nil {
				failed = true
				_, _ = fmt.Fprintf(w, "%s\t%s\t-\t-\t%v\n", role, id, err)
				continue
			}

			last := "never"
			if details.LastEndedAt != nil {
				last = details.LastEndedAt.Format("2006-01-02 15:04")
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\tok\n", role, id, details.Name, last)
		}
		_ = w.Flush()

		if failed {
			return eris.New("one or more agents failed validation")
		}
		return nil
	},
}

func init() {
	phantomCmd.AddCommand(phantomValidateCmd)
	rootCmd.AddCommand(phantomCmd)
}
