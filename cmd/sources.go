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

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage watched sources",
	Long:  "Commands for adding, listing, and removing the profiles and searches the scheduler crawls.",
}

// -- sources add --

var sourcesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a profile or search source",
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

		kind, _ := cmd.Flags().GetString("kind")
		profileURL, _ := cmd.Flags().GetString("profile-url")
		term, _ := cmd.Flags().GetString("term")
		termKind, _ := cmd.Flags().GetString("term-kind")
		maxPosts, _ := cmd.Flags().GetInt("max-posts")
		interval, _ := cmd.Flags().GetDuration("interval")
		owner, _ := cmd.Flags().GetString("owner")

		src := model.Source{
			OwnerID:       owner,
			Kind:          model.SourceKind(kind),
			ProfileURL:    profileURL,
			Term:          term,
			TermKind:      model.TermKind(termKind),
			MaxPosts:      maxPosts,
			CrawlInterval: interval,
			Active:        true,
		}
		if err := src.Validate(); err != nil {
			return err
		}

		if err := st.CreateSource(ctx, &src); err != nil {
			return eris.Wrap(err, "sources add")
		}
		fmt.Printf("added source %s (%s)\n", src.ID, src.Target())
		return nil
	},
}

// -- sources list --

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched sources",
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

		kind, _ := cmd.Flags().GetString("kind")
		activeOnly, _ := cmd.Flags().GetBool("active")
		limit, _ := cmd.Flags().GetInt("limit")
		owner, _ := cmd.Flags().GetString("owner")

		filter := store.SourceFilter{OwnerID: owner, Kind: model.SourceKind(kind), Limit: limit}
		if activeOnly {
			active := true
			filter.Active = &active
		}

		sources, err := st.ListSources(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "sources list")
		}

		if len(sources) == 0 {
			fmt.Fprintln(os.Stderr, "No sources found.")
			return nil
		}

		formatSourcesList(os.Stdout, sources)
		return nil
	},
}

// -- sources show --

var sourcesShowCmd = &cobra.Command{
	Use:   "show <source-id>",
	Short: "Show full details of a source",
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

		src, err := st.GetSource(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sources show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(src)
	},
}

// -- sources rm --

var sourcesRmCmd = &cobra.Command{
	Use:   "rm <source-id>",
	Short: "Remove a source",
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

		if err := st.DeleteSource(ctx, args[0]); err != nil {
			return eris.Wrap(err, "sources rm")
		}
		fmt.Printf("removed source %s\n", args[0])
		return nil
	},
}

// -- sources pause / resume --

func setSourceActive(cmd *cobra.Command, id string, active bool) error {
	ctx := cmd.Context()

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	src, err := st.GetSource(ctx, id)
	if err != nil {
		return err
	}
	src.Active = active
	if err := st.UpdateSource(ctx, src); err != nil {
		return err
	}

	state := "paused"
	if active {
		state = "active"
	}
	fmt.Printf("source %s is now %s\n", id, state)
	return nil
}

var sourcesPauseCmd = &cobra.Command{
	Use:   "pause <source-id>",
	Short: "Exclude a source from scheduling without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSourceActive(cmd, args[0], false)
	},
}

var sourcesResumeCmd = &cobra.Command{
	Use:   "resume <source-id>",
	Short: "Put a paused source back on the schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSourceActive(cmd, args[0], true)
	},
}

func init() {
	sourcesAddCmd.Flags().String("kind", "profile", "source kind (profile, search)")
	sourcesAddCmd.Flags().String("profile-url", "", "profile URL (kind=profile)")
	sourcesAddCmd.Flags().String("term", "", "search term (kind=search)")
	sourcesAddCmd.Flags().String("term-kind", "keyword", "term kind (keyword, hashtag)")
	sourcesAddCmd.Flags().Int("max-posts", 20, "max posts per crawl")
	sourcesAddCmd.Flags().Duration("interval", 24*time.Hour, "crawl interval (e.g. 6h, 24h)")
	sourcesAddCmd.Flags().String("owner", "", "owner identifier")

	sourcesListCmd.Flags().String("kind", "", "filter by kind (profile, search)")
	sourcesListCmd.Flags().Bool("active", false, "only active sources")
	sourcesListCmd.Flags().Int("limit", 100, "max number of sources to display")
	sourcesListCmd.Flags().String("owner", "", "filter by owner identifier")

	sourcesCmd.AddCommand(sourcesAddCmd)
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesShowCmd)
	sourcesCmd.AddCommand(sourcesRmCmd)
	sourcesCmd.AddCommand(sourcesPauseCmd)
	sourcesCmd.AddCommand(sourcesResumeCmd)
	rootCmd.AddCommand(sourcesCmd)
}

// formatSourcesList writes a tabular list of sources to w.
func formatSourcesList(out io.Writer, sources []model.Source) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tTARGET\tINTERVAL\tLAST_CRAWLED\tACTIVE")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t--------\t------------\t------")

	for _, s := range sources {
		target := s.Target()
		if len(target) > 40 {
			target = target[:37] + "..."
		}

		last := "never"
		if s.LastCrawledAt != nil {
			last = s.LastCrawledAt.Format("2006-01-02 15:04")
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
			truncateID(s.ID),
			s.Kind,
			target,
			s.CrawlInterval,
			last,
			s.Active,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
