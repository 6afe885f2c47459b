package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/signal-scout/internal/store"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run one signal extraction batch",
	Long:  "Analyzes pending posts (those without a signal) and stores the extraction results. Exits after one batch.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("extract"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		extractor, err := initExtractor(st)
		if err != nil {
			return err
		}

		res, err := extractor.RunOnce(ctx)
		if err != nil {
			if eris.Is(err, store.ErrRunInFlight) {
				return eris.New("an extraction batch is already in flight")
			}
			return eris.Wrap(err, "extract")
		}

		fmt.Printf("pending: %d  processed: %d  failed: %d\n", res.Pending, res.Processed, res.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
}
