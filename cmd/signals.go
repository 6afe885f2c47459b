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

	"github.com/sells-group/signal-scout/internal/model"
	"github.com/sells-group/signal-scout/internal/store"
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "List extracted signals",
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

		sourceID, _ := cmd.Flags().GetString("source")
		eventType, _ := cmd.Flags().GetString("event-type")
		eventsOnly, _ := cmd.Flags().GetBool("events-only")
		minScore, _ := cmd.Flags().GetFloat64("min-score")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		filter := store.SignalFilter{
			SourceID:   sourceID,
			EventType:  eventType,
			EventsOnly: eventsOnly,
			MinScore:   minScore,
			Limit:      limit,
		}
		if since > 0 {
			t := time.Now().Add(-since)
			filter.Since = &t
		}

		signals, err := st.ListSignals(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "signals list")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(signals)
		}

		if len(signals) == 0 {
			fmt.Fprintln(os.Stderr, "No signals found.")
			return nil
		}

		formatSignalsList(os.Stdout, signals)
		return nil
	},
}

func init() {
	signalsCmd.Flags().String("source", "", "filter by source id")
	signalsCmd.Flags().String("event-type", "", "filter by event type (conference, webinar, ...)")
	signalsCmd.Flags().Bool("events-only", false, "only event-related signals")
	signalsCmd.Flags().Float64("min-score", 0, "minimum relevance score")
	signalsCmd.Flags().Duration("since", 0, "time window (e.g. 24h, 168h)")
	signalsCmd.Flags().Int("limit", 50, "max number of signals to display")
	signalsCmd.Flags().Bool("json", false, "output as JSON")

	rootCmd.AddCommand(signalsCmd)
}

// formatSignalsList writes a tabular list of signals to w.
func formatSignalsList(out io.Writer, signals []model.Signal) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tEVENT\tTYPE\tTIMING\tSCORE\tSUMMARY")
	_, _ = fmt.Fprintln(w, "--\t-----\t----\t------\t-----\t-------")

	for _, s := range signals {
		summary := s.Summary
		if len(summary) > 50 {
			summary = summary[:47] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%.2f\t%s\n",
			truncateID(s.ID),
			s.IsEventRelated,
			s.EventType,
			s.EventTiming,
			s.RelevanceScore,
			summary,
		)
	}
	_ = w.Flush()
}
