// Package crawl executes source crawls against the browser-automation
// provider and normalizes the heterogeneous payloads into posts.
package crawl

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-scout/internal/model"
	"github.com/sells-group/signal-scout/pkg/phantom"
)

// Config holds the agent ids and session settings for the scraper.
type Config struct {
	ProfileAgentID string
	SearchAgentID  string
	SessionCookie  string
	UserAgent      string
	PollInterval   time.Duration
	Timeout        time.Duration
}

// Scraper fetches posts for a source through Phantombuster agents.
type Scraper struct {
	client phantom.Client
	cfg    Config
}

// NewScraper creates a Scraper.
func NewScraper(client phantom.Client, cfg Config) *Scraper {
	return &Scraper{client: client, cfg: cfg}
}

// FetchPosts launches the agent matching the source variant, waits for the
// execution to finish and parses the result. The second return value counts
// malformed records that were skipped.
func (s *Scraper) FetchPosts(ctx context.Context, src *model.Source) ([]model.Post, int, error) {
	agentID, argument, err := s.launchSpec(src)
	if err != nil {
		return nil, 0, err
	}

	out, err := phantom.LaunchAndWait(ctx, s.client, agentID, argument, phantom.WaitConfig{
		PollInterval: s.cfg.PollInterval,
		Timeout:      s.cfg.Timeout,
	})
	if err != nil {
		return nil, 0, err
	}

	if len(out.ResultObject) == 0 {
		zap.L().Warn("crawl: empty result object",
			zap.String("source_id", src.ID),
			zap.String("target", src.Target()))
		return nil, 0, nil
	}

	posts, skipped, err := ParsePosts(out.ResultObject)
	if err != nil {
		return nil, 0, err
	}
	for i := range posts {
		posts[i].SourceID = &src.ID
	}

	zap.L().Info("crawl: fetched posts",
		zap.String("source_id", src.ID),
		zap.String("target", src.Target()),
		zap.Int("posts", len(posts)),
		zap.Int("skipped", skipped))

	return posts, skipped, nil
}

// launchSpec resolves the agent id and argument payload for a source.
func (s *Scraper) launchSpec(src *model.Source) (string, map[string]any, error) {
	var (
		agentID  string
		argument map[string]any
	)

	switch src.Kind {
	case model.SourceKindProfile:
		if s.cfg.ProfileAgentID == "" {
			return "", nil, eris.New("crawl: profile agent id not configured")
		}
		agentID = s.cfg.ProfileAgentID
		argument = map[string]any{
			"spreadsheetUrl":   src.ProfileURL,
			"numberMaxOfPosts": src.MaxPosts,
		}
	case model.SourceKindSearch:
		if s.cfg.SearchAgentID == "" {
			return "", nil, eris.New("crawl: search agent id not configured")
		}
		agentID = s.cfg.SearchAgentID
		argument = map[string]any{
			"searchTerm":    model.FormatSearchTerm(src.Term, src.TermKind),
			"numberOfPosts": src.MaxPosts,
		}
	default:
		return "", nil, eris.Errorf("crawl: unknown source kind %q", src.Kind)
	}

	if s.cfg.SessionCookie != "" {
		argument["sessionCookie"] = s.cfg.SessionCookie
	}
	if s.cfg.UserAgent != "" {
		argument["userAgent"] = s.cfg.UserAgent
	}

	return agentID, argument, nil
}
