// Package extract runs the signal extraction pipeline: pending posts are
// pulled in batches, sent to the model under a concurrency and rate limit,
// and the structured results stored as one signal per post.
package extract

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/signal-scout/internal/model"
	"github.com/sells-group/signal-scout/internal/resilience"
	"github.com/sells-group/signal-scout/internal/store"
	"github.com/sells-group/signal-scout/pkg/anthropic"
)

// Store is the slice of the persistence layer the extractor needs.
type Store interface {
	ListUnsignaledPosts(ctx context.Context, limit int) ([]model.Post, error)
	InsertSignal(ctx context.Context, sig *model.Signal) (bool, error)
	BeginRun(ctx context.Context, kind model.RunKind, subjectID *string) (*model.JobRun, error)
	CompleteRun(ctx context.Context, runID string, state model.RunState, processed, failed int, runErr string) error
	ReconcileStaleRuns(ctx context.Context, olderThan time.Duration) (int, error)
}

// Config tunes the extraction pipeline.
type Config struct {
	Model             string
	MaxTokens         int64
	BatchSize         int
	Concurrency       int
	MaxAttempts       int
	RequestTimeout    time.Duration
	RequestsPerMinute int
	StaleRunGrace     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "claude-sonnet-4-5-20250929"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 30
	}
	if c.StaleRunGrace <= 0 {
		c.StaleRunGrace = time.Hour
	}
	return c
}

// BatchResult summarizes one extraction batch.
type BatchResult struct {
	RunID     string `json:"run_id"`
	Pending   int    `json:"pending"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
}

// Extractor analyzes pending posts.
type Extractor struct {
	store        Store
	llm          anthropic.Client
	limiter      *rate.Limiter
	vocab        Vocabulary
	systemPrompt string
	cfg          Config

	// retryBackoff overrides the initial retry delay; zero uses the default.
	retryBackoff time.Duration
}

// New creates an Extractor.
func New(st Store, llm anthropic.Client, vocab Vocabulary, cfg Config) *Extractor {
	cfg = cfg.withDefaults()
	return &Extractor{
		store:        st,
		llm:          llm,
		limiter:      rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1),
		vocab:        vocab,
		systemPrompt: buildSystemPrompt(vocab),
		cfg:          cfg,
	}
}

// Run ticks RunBatch at interval until the context is canceled. The first
// batch starts immediately. A batch already held by another process is not an
// error; the tick is simply skipped.
func (e *Extractor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := e.RunBatch(ctx); err != nil && !eris.Is(err, store.ErrRunInFlight) {
			zap.L().Error("extract: batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			zap.L().Info("extract: stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce reconciles stale runs left behind by a killed process, then runs a
// single batch. The one-shot CLI path goes through here so a wedged extract
// lock does not block until the next serve.
func (e *Extractor) RunOnce(ctx context.Context) (*BatchResult, error) {
	reclaimed, err := e.store.ReconcileStaleRuns(ctx, e.cfg.StaleRunGrace)
	if err != nil {
		return nil, eris.Wrap(err, "extract: reconcile stale runs")
	}
	if reclaimed > 0 {
		zap.L().Warn("extract: reclaimed stale runs", zap.Int("count", reclaimed))
	}
	return e.RunBatch(ctx)
}

// RunBatch processes one batch of pending posts under a job run. Per-post
// failures are isolated: the post stays pending and the rest of the batch
// proceeds. Returns store.ErrRunInFlight when another extraction batch holds
// the lock.
func (e *Extractor) RunBatch(ctx context.Context) (*BatchResult, error) {
	run, err := e.store.BeginRun(ctx, model.RunKindExtract, nil)
	if err != nil {
		return nil, err
	}

	res, batchErr := e.processBatch(ctx, run.ID)

	state := model.RunStateSucceeded
	errMsg := ""
	if batchErr != nil {
		state = model.RunStateFailed
		errMsg = batchErr.Error()
	}
	if err := e.store.CompleteRun(ctx, run.ID, state, res.Processed, res.Failed, errMsg); err != nil {
		zap.L().Error("extract: complete run", zap.String("run_id", run.ID), zap.Error(err))
	}
	if batchErr != nil {
		return nil, batchErr
	}
	return res, nil
}

func (e *Extractor) processBatch(ctx context.Context, runID string) (*BatchResult, error) {
	res := &BatchResult{RunID: runID}

	posts, err := e.store.ListUnsignaledPosts(ctx, e.cfg.BatchSize)
	if err != nil {
		return res, eris.Wrap(err, "extract: list pending posts")
	}
	res.Pending = len(posts)
	if len(posts) == 0 {
		zap.L().Debug("extract: nothing pending")
		return res, nil
	}

	zap.L().Info("extract: batch started",
		zap.String("run_id", runID),
		zap.Int("pending", len(posts)))

	results := make([]bool, len(posts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i := range posts {
		g.Go(func() error {
			results[i] = e.extractOne(gctx, &posts[i])
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	for _, ok := range results {
		if ok {
			res.Processed++
		} else {
			res.Failed++
		}
	}

	zap.L().Info("extract: batch finished",
		zap.String("run_id", runID),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed))
	return res, nil
}

// extractOne analyzes a single post and stores its signal. Reports success;
// a failed post is left pending for a future batch.
func (e *Extractor) extractOne(ctx context.Context, post *model.Post) bool {
	log := zap.L().With(zap.String("post_id", post.ID), zap.String("external_id", post.ExternalID))

	var sig *model.Signal
	if strings.TrimSpace(post.Content) == "" {
		// Nothing to analyze. Record an empty non-event signal so the post
		// does not stay pending forever.
		sig = &model.Signal{
			PostID:         post.ID,
			IsEventRelated: false,
			EventTiming:    model.EventTimingUnknown,
			RelevanceScore: 0,
		}
	} else {
		var err error
		sig, err = e.callModel(ctx, post)
		if err != nil {
			log.Warn("extract: post failed, left pending", zap.Error(err))
			return false
		}
	}

	inserted, err := e.store.InsertSignal(ctx, sig)
	if err != nil {
		log.Error("extract: insert signal", zap.Error(err))
		return false
	}
	if !inserted {
		// Another batch got here first. Not a failure.
		log.Debug("extract: signal already present")
		return true
	}

	log.Debug("extract: signal stored",
		zap.Bool("event_related", sig.IsEventRelated),
		zap.Float64("score", sig.RelevanceScore))
	return true
}

// callModel sends one post to the model with retry. Transient API errors and
// malformed responses are retried; anything else fails immediately.
func (e *Extractor) callModel(ctx context.Context, post *model.Post) (*model.Signal, error) {
	retryCfg := resilience.RetryConfig{
		MaxAttempts:    e.cfg.MaxAttempts,
		InitialBackoff: e.retryBackoff,
		ShouldRetry: func(err error) bool {
			return resilience.IsTransient(err) || eris.Is(err, ErrInvalidExtraction)
		},
		OnRetry: resilience.RetryLogger("anthropic", "extract_signal"),
	}

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*model.Signal, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "extract: rate limit wait")
		}

		rctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()

		resp, err := e.llm.CreateMessage(rctx, anthropic.MessageRequest{
			Model:     e.cfg.Model,
			MaxTokens: e.cfg.MaxTokens,
			System:    anthropic.BuildCachedSystemBlocks(e.systemPrompt),
			Messages: []anthropic.Message{
				{Role: "user", Content: buildUserMessage(post.Content, post.AuthorName)},
			},
		})
		if err != nil {
			return nil, err
		}
		resp.Usage.LogCost(e.cfg.Model, "extract")

		return parseExtraction(resp.Text(), post.ID, e.vocab)
	})
}
