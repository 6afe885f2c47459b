package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/signal-scout/internal/model"
	"github.com/sells-group/signal-scout/internal/store"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl [source-id]",
	Short: "Crawl a source immediately",
	Long:  "Runs a single crawl for the given source, bypassing the schedule, or every due source with --all. Sources with a crawl already in flight are refused (single id) or skipped (--all).",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("crawl"); err != nil {
			return err
		}

		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			return eris.New("provide exactly one of <source-id> or --all")
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

		sched := initScheduler(st)

		if all {
			due, err := st.ListDueSources(ctx, time.Now().UTC())
			if err != nil {
				return eris.Wrap(err, "crawl: list due sources")
			}
			if len(due) == 0 {
				fmt.Fprintln(os.Stderr, "No sources due.")
				return nil
			}
			for _, src := range due {
				if _, err := sched.CrawlNow(ctx, src.ID); err != nil {
					if eris.Is(err, store.ErrRunInFlight) {
						fmt.Printf("%s  skipped (in flight)\n", truncateID(src.ID))
						continue
					}
					return eris.Wrapf(err, "crawl %s", src.ID)
				}
				fmt.Printf("%s  crawled (%s)\n", truncateID(src.ID), src.Target())
			}
			return nil
		}

		run, err := sched.CrawlNow(ctx, args[0])
		if err != nil {
			if eris.Is(err, store.ErrRunInFlight) {
				return eris.New("a crawl for this source is already in flight")
			}
			return eris.Wrap(err, "crawl")
		}

		final, err := st.GetRun(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "crawl: read run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(final); err != nil {
			return err
		}
		if final.State == model.RunStateFailed {
			return fmt.Errorf("crawl failed: %s", final.Error)
		}
		return nil
	},
}

func init() {
	crawlCmd.Flags().Bool("all", false, "crawl every due source once")
	rootCmd.AddCommand(crawlCmd)
}
