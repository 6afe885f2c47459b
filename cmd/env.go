package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-scout/internal/crawl"
	"github.com/sells-group/signal-scout/internal/extract"
	"github.com/sells-group/signal-scout/internal/scheduler"
	"github.com/sells-group/signal-scout/internal/store"
	"github.com/sells-group/signal-scout/pkg/anthropic"
	"github.com/sells-group/signal-scout/pkg/phantom"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "signal-scout.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: int32(cfg.Store.MaxConns),
			MinConns: int32(cfg.Store.MinConns),
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initPhantom() phantom.Client {
	opts := []phantom.Option{}
	if cfg.Phantom.BaseURL != "" {
		opts = append(opts, phantom.WithBaseURL(cfg.Phantom.BaseURL))
	}
	return phantom.NewClient(cfg.Phantom.Key, opts...)
}

func initScheduler(st store.Store) *scheduler.Scheduler {
	scraper := crawl.NewScraper(initPhantom(), crawl.Config{
		ProfileAgentID: cfg.Phantom.ProfileAgentID,
		SearchAgentID:  cfg.Phantom.SearchAgentID,
		SessionCookie:  cfg.Phantom.SessionCookie,
		UserAgent:      cfg.Phantom.UserAgent,
		PollInterval:   time.Duration(cfg.Phantom.PollIntervalSecs) * time.Second,
		Timeout:        time.Duration(cfg.Phantom.TimeoutSecs) * time.Second,
	})
	return scheduler.New(st, scraper, scheduler.Config{
		TickInterval:  time.Duration(cfg.Crawl.TickMinutes) * time.Minute,
		Concurrency:   cfg.Crawl.Concurrency,
		CrawlTimeout:  time.Duration(cfg.Phantom.TimeoutSecs+60) * time.Second,
		StaleRunGrace: time.Duration(cfg.Crawl.StaleRunGraceMins) * time.Minute,
	})
}

func initExtractor(st store.Store) (*extract.Extractor, error) {
	vocab, err := extract.LoadVocabulary(cfg.Extract.VocabularyPath)
	if err != nil {
		return nil, err
	}
	llm := anthropic.NewClient(cfg.Anthropic.Key)
	return extract.New(st, llm, vocab, extract.Config{
		Model:             cfg.Anthropic.Model,
		MaxTokens:         int64(cfg.Anthropic.MaxTokens),
		BatchSize:         cfg.Extract.BatchSize,
		Concurrency:       cfg.Extract.Concurrency,
		MaxAttempts:       cfg.Extract.MaxAttempts,
		RequestTimeout:    time.Duration(cfg.Extract.RequestTimeoutSecs) * time.Second,
		RequestsPerMinute: cfg.Extract.RequestsPerMinute,
		StaleRunGrace:     time.Duration(cfg.Crawl.StaleRunGraceMins) * time.Minute,
	}), nil
}
