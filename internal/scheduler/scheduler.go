// Package scheduler drives the periodic crawl loop: on every tick it finds
// due sources and crawls them under a bounded worker pool, with one open job
// run per source acting as the execution lock.
package scheduler

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/signal-scout/internal/model"
	"github.com/sells-group/signal-scout/internal/store"
)

// Store is the slice of the persistence layer the scheduler needs.
type Store interface {
	GetSource(ctx context.Context, id string) (*model.Source, error)
	ListDueSources(ctx context.Context, now time.Time) ([]model.Source, error)
	TouchCrawled(ctx context.Context, sourceID string, at time.Time) error
	InsertPosts(ctx context.Context, posts []model.Post) (int, error)
	BeginRun(ctx context.Context, kind model.RunKind, subjectID *string) (*model.JobRun, error)
	CompleteRun(ctx context.Context, runID string, state model.RunState, processed, failed int, runErr string) error
	ReconcileStaleRuns(ctx context.Context, olderThan time.Duration) (int, error)
}

// PostFetcher executes one crawl and returns the normalized posts plus the
// count of malformed records it dropped.
type PostFetcher interface {
	FetchPosts(ctx context.Context, src *model.Source) ([]model.Post, int, error)
}

// Config tunes the crawl loop.
type Config struct {
	TickInterval  time.Duration
	Concurrency   int
	CrawlTimeout  time.Duration
	StaleRunGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 15 * time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.CrawlTimeout <= 0 {
		c.CrawlTimeout = 10 * time.Minute
	}
	if c.StaleRunGrace <= 0 {
		c.StaleRunGrace = time.Hour
	}
	return c
}

// Scheduler owns the tick loop.
type Scheduler struct {
	store   Store
	fetcher PostFetcher
	cfg     Config
}

// New creates a Scheduler.
func New(st Store, fetcher PostFetcher, cfg Config) *Scheduler {
	return &Scheduler{store: st, fetcher: fetcher, cfg: cfg.withDefaults()}
}

// Run reconciles runs abandoned by a previous process, then ticks until the
// context is canceled. The first tick fires immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	reclaimed, err := s.store.ReconcileStaleRuns(ctx, s.cfg.StaleRunGrace)
	if err != nil {
		return eris.Wrap(err, "scheduler: reconcile stale runs")
	}
	if reclaimed > 0 {
		zap.L().Warn("scheduler: reclaimed abandoned runs", zap.Int("count", reclaimed))
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("scheduler: stopping")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick crawls every due source under the concurrency limit. Failures are
// recorded on the run and logged; they never abort the tick.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.ListDueSources(ctx, now)
	if err != nil {
		zap.L().Error("scheduler: list due sources", zap.Error(err))
		return
	}
	if len(due) == 0 {
		zap.L().Debug("scheduler: no sources due")
		return
	}

	zap.L().Info("scheduler: tick", zap.Int("due", len(due)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range due {
		src := due[i]
		g.Go(func() error {
			s.crawlSource(gctx, &src)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors
}

// crawlSource acquires the per-source lock and runs one crawl. A held lock
// means another worker or process is already on it; that is not an error.
func (s *Scheduler) crawlSource(ctx context.Context, src *model.Source) {
	run, err := s.store.BeginRun(ctx, model.RunKindCrawl, &src.ID)
	if err != nil {
		if eris.Is(err, store.ErrRunInFlight) {
			zap.L().Debug("scheduler: crawl already in flight", zap.String("source_id", src.ID))
			return
		}
		zap.L().Error("scheduler: begin run", zap.String("source_id", src.ID), zap.Error(err))
		return
	}
	s.executeCrawl(ctx, run, src)
}

// executeCrawl performs the crawl owned by run and always closes the run.
func (s *Scheduler) executeCrawl(ctx context.Context, run *model.JobRun, src *model.Source) {
	started := time.Now().UTC()
	log := zap.L().With(
		zap.String("run_id", run.ID),
		zap.String("source_id", src.ID),
		zap.String("target", src.Target()))

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CrawlTimeout)
	defer cancel()

	posts, skipped, err := s.fetcher.FetchPosts(cctx, src)
	if err != nil {
		log.Error("scheduler: crawl failed", zap.Error(err))
		s.closeRun(ctx, run.ID, model.RunStateFailed, 0, skipped, err.Error())
		return
	}

	inserted, err := s.store.InsertPosts(ctx, posts)
	if err != nil {
		log.Error("scheduler: insert posts", zap.Error(err))
		s.closeRun(ctx, run.ID, model.RunStateFailed, 0, skipped, err.Error())
		return
	}

	// Stamp with the crawl start time so posts published mid-crawl fall into
	// the next window instead of being skipped.
	if err := s.store.TouchCrawled(ctx, src.ID, started); err != nil {
		log.Error("scheduler: touch crawled", zap.Error(err))
	}

	log.Info("scheduler: crawl finished",
		zap.Int("fetched", len(posts)),
		zap.Int("inserted", inserted),
		zap.Int("skipped", skipped),
		zap.Duration("took", time.Since(started)))
	s.closeRun(ctx, run.ID, model.RunStateSucceeded, inserted, skipped, "")
}

func (s *Scheduler) closeRun(ctx context.Context, runID string, state model.RunState, processed, failed int, runErr string) {
	if err := s.store.CompleteRun(ctx, runID, state, processed, failed, runErr); err != nil {
		zap.L().Error("scheduler: complete run", zap.String("run_id", runID), zap.Error(err))
	}
}

// CrawlNow crawls one source synchronously, bypassing the due check. Used by
// the one-shot CLI path. Stale runs left behind by a killed process are
// reconciled first, so a wedged lock does not block the crawl forever. The
// returned run reflects the state at lock time; callers read the final state
// back from the store.
func (s *Scheduler) CrawlNow(ctx context.Context, sourceID string) (*model.JobRun, error) {
	reclaimed, err := s.store.ReconcileStaleRuns(ctx, s.cfg.StaleRunGrace)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: reconcile stale runs")
	}
	if reclaimed > 0 {
		zap.L().Warn("scheduler: reclaimed stale runs", zap.Int("count", reclaimed))
	}

	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	run, err := s.store.BeginRun(ctx, model.RunKindCrawl, &src.ID)
	if err != nil {
		return nil, err
	}
	s.executeCrawl(ctx, run, src)
	return run, nil
}

// TriggerCrawl starts an on-demand crawl for one source, bypassing the due
// check. The lock is taken synchronously so the caller learns immediately
// whether a crawl is already in flight; the crawl itself runs in the
// background, detached from the caller's cancellation.
func (s *Scheduler) TriggerCrawl(ctx context.Context, sourceID string) (*model.JobRun, error) {
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	run, err := s.store.BeginRun(ctx, model.RunKindCrawl, &src.ID)
	if err != nil {
		return nil, err
	}

	bg := context.WithoutCancel(ctx)
	go s.executeCrawl(bg, run, src)

	return run, nil
}
