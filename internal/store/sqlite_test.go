package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-scout/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func profileSource(url string) *model.Source {
	return &model.Source{
		Kind:          model.SourceKindProfile,
		ProfileURL:    url,
		MaxPosts:      20,
		CrawlInterval: time.Hour,
		Active:        true,
	}
}

func insertTestPost(t *testing.T, st *SQLiteStore, sourceID, externalID string) *model.Post {
	t.Helper()
	posts := []model.Post{{
		SourceID:   &sourceID,
		ExternalID: externalID,
		AuthorName: "Jane Doe",
		Content:    "We are hosting a seminar next month.",
	}}
	n, err := st.InsertPosts(context.Background(), posts)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return &posts[0]
}

// --- Sources ---

func TestSQLite_Source_CRUD(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	src := profileSource("https://example.com/in/jane")
	require.NoError(t, st.CreateSource(ctx, src))
	require.NotEmpty(t, src.ID)

	got, err := st.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SourceKindProfile, got.Kind)
	assert.Equal(t, "https://example.com/in/jane", got.ProfileURL)
	assert.Equal(t, time.Hour, got.CrawlInterval)
	assert.Nil(t, got.LastCrawledAt)
	assert.True(t, got.Active)

	got.Active = false
	require.NoError(t, st.UpdateSource(ctx, got))

	got2, err := st.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.False(t, got2.Active)

	require.NoError(t, st.DeleteSource(ctx, src.ID))
	_, err = st.GetSource(ctx, src.ID)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_Source_CreateInvalid(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.CreateSource(context.Background(), &model.Source{
		Kind:          model.SourceKindProfile,
		CrawlInterval: time.Hour,
	})
	assert.Error(t, err)
}

func TestSQLite_ListSources_Filter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateSource(ctx, profileSource("https://example.com/in/a")))

	search := &model.Source{
		Kind:          model.SourceKindSearch,
		Term:          "acquisition",
		TermKind:      model.TermKindKeyword,
		MaxPosts:      20,
		CrawlInterval: time.Hour,
		Active:        false,
	}
	require.NoError(t, st.CreateSource(ctx, search))

	all, err := st.ListSources(ctx, SourceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	profiles, err := st.ListSources(ctx, SourceFilter{Kind: model.SourceKindProfile})
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "https://example.com/in/a", profiles[0].ProfileURL)

	active := true
	activeOnly, err := st.ListSources(ctx, SourceFilter{Active: &active})
	require.NoError(t, err)
	require.Len(t, activeOnly, 1)
	assert.Equal(t, model.SourceKindProfile, activeOnly[0].Kind)
}

func TestSQLite_ListSources_OwnerFilter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	mine := profileSource("https://example.com/in/mine")
	mine.OwnerID = "rep-1"
	require.NoError(t, st.CreateSource(ctx, mine))

	other := profileSource("https://example.com/in/other")
	other.OwnerID = "rep-2"
	require.NoError(t, st.CreateSource(ctx, other))

	got, err := st.ListSources(ctx, SourceFilter{OwnerID: "rep-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)

	all, err := st.ListSources(ctx, SourceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_CreateSource_FoldsSearchTerm(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	src := &model.Source{
		Kind:          model.SourceKindSearch,
		Term:          "#AI",
		TermKind:      model.TermKindHashtag,
		MaxPosts:      20,
		CrawlInterval: time.Hour,
		Active:        true,
	}
	require.NoError(t, st.CreateSource(ctx, src))

	got, err := st.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "ai", got.Term)
}

func TestSQLite_ListDueSources(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Never crawled: always due.
	never := profileSource("https://example.com/in/never")
	require.NoError(t, st.CreateSource(ctx, never))

	// Crawled recently: not due.
	fresh := profileSource("https://example.com/in/fresh")
	require.NoError(t, st.CreateSource(ctx, fresh))
	require.NoError(t, st.TouchCrawled(ctx, fresh.ID, now.Add(-10*time.Minute)))

	// Crawled past the interval: due.
	stale := profileSource("https://example.com/in/stale")
	require.NoError(t, st.CreateSource(ctx, stale))
	require.NoError(t, st.TouchCrawled(ctx, stale.ID, now.Add(-2*time.Hour)))

	// Inactive: never due regardless of age.
	inactive := profileSource("https://example.com/in/inactive")
	inactive.Active = false
	require.NoError(t, st.CreateSource(ctx, inactive))

	due, err := st.ListDueSources(ctx, now)
	require.NoError(t, err)

	ids := make(map[string]bool, len(due))
	for _, s := range due {
		ids[s.ID] = true
	}
	assert.True(t, ids[never.ID])
	assert.True(t, ids[stale.ID])
	assert.False(t, ids[fresh.ID])
	assert.False(t, ids[inactive.ID])
}

func TestSQLite_TouchCrawled_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.TouchCrawled(context.Background(), "missing", time.Now())
	assert.True(t, eris.Is(err, ErrNotFound))
}

// --- Posts ---

func TestSQLite_InsertPosts_DedupByExternalID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	src := profileSource("https://example.com/in/jane")
	require.NoError(t, st.CreateSource(ctx, src))

	batch1 := []model.Post{
		{SourceID: &src.ID, ExternalID: "x1", Content: "first"},
		{SourceID: &src.ID, ExternalID: "x2", Content: "second"},
	}
	n, err := st.InsertPosts(ctx, batch1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Overlapping crawl: one duplicate, one new.
	batch2 := []model.Post{
		{SourceID: &src.ID, ExternalID: "x2", Content: "second again"},
		{SourceID: &src.ID, ExternalID: "x3", Content: "third"},
	}
	n, err = st.InsertPosts(ctx, batch2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// First writer keeps attribution and content.
	pending, err := st.ListUnsignaledPosts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for _, p := range pending {
		if p.ExternalID == "x2" {
			assert.Equal(t, "second", p.Content)
		}
	}
}

func TestSQLite_InsertPosts_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	n, err := st.InsertPosts(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLite_GetPost_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	src := profileSource("https://example.com/in/jane")
	require.NoError(t, st.CreateSource(ctx, src))

	postedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	posts := []model.Post{{
		SourceID:     &src.ID,
		ExternalID:   "urn:li:activity:123",
		AuthorName:   "Jane Doe",
		AuthorURL:    "https://example.com/in/jane",
		Content:      "Join us at the trade show.",
		PostedAt:     &postedAt,
		LikeCount:    14,
		CommentCount: 3,
		RawData:      json.RawMessage(`{"postUrl":"https://example.com/p/123"}`),
	}}
	n, err := st.InsertPosts(ctx, posts)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := st.GetPost(ctx, posts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "urn:li:activity:123", got.ExternalID)
	assert.Equal(t, "Jane Doe", got.AuthorName)
	assert.Equal(t, 14, got.LikeCount)
	require.NotNil(t, got.PostedAt)
	assert.True(t, postedAt.Equal(*got.PostedAt))
	assert.JSONEq(t, `{"postUrl":"https://example.com/p/123"}`, string(got.RawData))
}

// --- Signals ---

func TestSQLite_InsertSignal_OncePerPost(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	src := profileSource("https://example.com/in/jane")
	require.NoError(t, st.CreateSource(ctx, src))
	post := insertTestPost(t, st, src.ID, "x1")

	sig := &model.Signal{
		PostID:         post.ID,
		IsEventRelated: true,
		EventType:      "seminar",
		EventTiming:    model.EventTimingFuture,
		Companies:      []string{"Acme Corp"},
		People:         []string{"Jane Doe"},
		RelevanceScore: 0.85,
		Summary:        "Seminar announcement",
	}
	inserted, err := st.InsertSignal(ctx, sig)
	require.NoError(t, err)
	assert.True(t, inserted)

	// A concurrent duplicate extraction leaves the first signal in place.
	dup := &model.Signal{PostID: post.ID, IsEventRelated: false, RelevanceScore: 0.1}
	inserted, err = st.InsertSignal(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	signals, err := st.ListSignals(ctx, SignalFilter{})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "seminar", signals[0].EventType)
	assert.Equal(t, []string{"Acme Corp"}, signals[0].Companies)
	assert.InDelta(t, 0.85, signals[0].RelevanceScore, 0.001)
}

func TestSQLite_ListUnsignaledPosts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	src := profileSource("https://example.com/in/jane")
	require.NoError(t, st.CreateSource(ctx, src))

	p1 := insertTestPost(t, st, src.ID, "x1")
	p2 := insertTestPost(t, st, src.ID, "x2")

	pending, err := st.ListUnsignaledPosts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = st.InsertSignal(ctx, &model.Signal{PostID: p1.ID, IsEventRelated: false, RelevanceScore: 0})
	require.NoError(t, err)

	pending, err = st.ListUnsignaledPosts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, p2.ID, pending[0].ID)
}

func TestSQLite_ListSignals_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	src := profileSource("https://example.com/in/jane")
	require.NoError(t, st.CreateSource(ctx, src))

	p1 := insertTestPost(t, st, src.ID, "x1")
	p2 := insertTestPost(t, st, src.ID, "x2")

	_, err := st.InsertSignal(ctx, &model.Signal{
		PostID: p1.ID, IsEventRelated: true, EventType: "conference", RelevanceScore: 0.9,
	})
	require.NoError(t, err)
	_, err = st.InsertSignal(ctx, &model.Signal{
		PostID: p2.ID, IsEventRelated: false, RelevanceScore: 0.1,
	})
	require.NoError(t, err)

	events, err := st.ListSignals(ctx, SignalFilter{EventsOnly: true})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "conference", events[0].EventType)

	scored, err := st.ListSignals(ctx, SignalFilter{MinScore: 0.5})
	require.NoError(t, err)
	assert.Len(t, scored, 1)

	bySource, err := st.ListSignals(ctx, SignalFilter{SourceID: src.ID})
	require.NoError(t, err)
	assert.Len(t, bySource, 2)

	byType, err := st.ListSignals(ctx, SignalFilter{EventType: "webinar"})
	require.NoError(t, err)
	assert.Empty(t, byType)
}

// --- Job runs ---

func TestSQLite_BeginRun_LockExclusive(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	subject := "source-1"
	run, err := st.BeginRun(ctx, model.RunKindCrawl, &subject)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateRunning, run.State)

	// Same subject while running: lock held.
	_, err = st.BeginRun(ctx, model.RunKindCrawl, &subject)
	assert.True(t, eris.Is(err, ErrRunInFlight))

	// Different subject is independent.
	other := "source-2"
	_, err = st.BeginRun(ctx, model.RunKindCrawl, &other)
	require.NoError(t, err)

	// Different kind with same subject is independent.
	_, err = st.BeginRun(ctx, model.RunKindExtract, &subject)
	require.NoError(t, err)

	// Completing the run releases the lock.
	require.NoError(t, st.CompleteRun(ctx, run.ID, model.RunStateSucceeded, 5, 0, ""))
	_, err = st.BeginRun(ctx, model.RunKindCrawl, &subject)
	require.NoError(t, err)
}

func TestSQLite_BeginRun_NilSubject(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.BeginRun(ctx, model.RunKindExtract, nil)
	require.NoError(t, err)

	// Nil subjects collapse to the same lock key.
	_, err = st.BeginRun(ctx, model.RunKindExtract, nil)
	assert.True(t, eris.Is(err, ErrRunInFlight))
}

func TestSQLite_CompleteRun_RecordsCounts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.BeginRun(ctx, model.RunKindExtract, nil)
	require.NoError(t, err)

	require.NoError(t, st.CompleteRun(ctx, run.ID, model.RunStateFailed, 7, 2, "rate limited"))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateFailed, got.State)
	assert.Equal(t, 7, got.ItemsProcessed)
	assert.Equal(t, 2, got.ItemsFailed)
	assert.Equal(t, "rate limited", got.Error)
	assert.NotNil(t, got.FinishedAt)
}

func TestSQLite_CompleteRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.CompleteRun(context.Background(), "missing", model.RunStateSucceeded, 0, 0, "")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_ListRuns_Filter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	subject := "source-1"
	crawlRun, err := st.BeginRun(ctx, model.RunKindCrawl, &subject)
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, crawlRun.ID, model.RunStateSucceeded, 3, 0, ""))

	_, err = st.BeginRun(ctx, model.RunKindExtract, nil)
	require.NoError(t, err)

	crawls, err := st.ListRuns(ctx, RunFilter{Kind: model.RunKindCrawl})
	require.NoError(t, err)
	require.Len(t, crawls, 1)
	assert.Equal(t, model.RunStateSucceeded, crawls[0].State)

	running, err := st.ListRuns(ctx, RunFilter{State: model.RunStateRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, model.RunKindExtract, running[0].Kind)

	bySubject, err := st.ListRuns(ctx, RunFilter{SubjectID: subject})
	require.NoError(t, err)
	assert.Len(t, bySubject, 1)
}

func TestSQLite_ReconcileStaleRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	subject := "source-1"
	run, err := st.BeginRun(ctx, model.RunKindCrawl, &subject)
	require.NoError(t, err)

	// Backdate the run past the grace period.
	_, err = st.db.ExecContext(ctx,
		`UPDATE job_runs SET started_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-3*time.Hour), run.ID)
	require.NoError(t, err)

	// Fresh running run stays untouched.
	other := "source-2"
	fresh, err := st.BeginRun(ctx, model.RunKindCrawl, &other)
	require.NoError(t, err)

	n, err := st.ReconcileStaleRuns(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateFailed, got.State)
	assert.Contains(t, got.Error, "abandoned")

	stillRunning, err := st.GetRun(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateRunning, stillRunning.State)

	// And the lock is free again.
	_, err = st.BeginRun(ctx, model.RunKindCrawl, &subject)
	require.NoError(t, err)
}

// --- Summary ---

func TestSQLite_Summary(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	src := profileSource("https://example.com/in/jane")
	require.NoError(t, st.CreateSource(ctx, src))

	inactive := profileSource("https://example.com/in/idle")
	inactive.Active = false
	require.NoError(t, st.CreateSource(ctx, inactive))

	p1 := insertTestPost(t, st, src.ID, "x1")
	insertTestPost(t, st, src.ID, "x2")

	_, err := st.InsertSignal(ctx, &model.Signal{PostID: p1.ID, IsEventRelated: true, EventType: "webinar", RelevanceScore: 0.7})
	require.NoError(t, err)

	_, err = st.BeginRun(ctx, model.RunKindExtract, nil)
	require.NoError(t, err)

	sum, err := st.Summary(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Sources)
	assert.Equal(t, 1, sum.ActiveSources)
	assert.Equal(t, 2, sum.Posts)
	assert.Equal(t, 1, sum.PendingPosts)
	assert.Equal(t, 1, sum.Signals)
	assert.Equal(t, 1, sum.EventSignals)
	assert.Equal(t, 1, sum.RunningJobs)
}

func TestSQLite_Summary_OwnerScoped(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	mine := profileSource("https://example.com/in/mine")
	mine.OwnerID = "rep-1"
	require.NoError(t, st.CreateSource(ctx, mine))

	other := profileSource("https://example.com/in/other")
	other.OwnerID = "rep-2"
	require.NoError(t, st.CreateSource(ctx, other))

	p1 := insertTestPost(t, st, mine.ID, "m1")
	insertTestPost(t, st, mine.ID, "m2")
	insertTestPost(t, st, other.ID, "o1")

	_, err := st.InsertSignal(ctx, &model.Signal{PostID: p1.ID, IsEventRelated: true, EventType: "webinar", RelevanceScore: 0.8})
	require.NoError(t, err)

	_, err = st.BeginRun(ctx, model.RunKindCrawl, &mine.ID)
	require.NoError(t, err)

	sum, err := st.Summary(ctx, "rep-1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sources)
	assert.Equal(t, 1, sum.ActiveSources)
	assert.Equal(t, 2, sum.Posts)
	assert.Equal(t, 1, sum.PendingPosts)
	assert.Equal(t, 1, sum.Signals)
	assert.Equal(t, 1, sum.EventSignals)
	assert.Equal(t, 1, sum.RunningJobs)

	empty, err := st.Summary(ctx, "rep-3")
	require.NoError(t, err)
	assert.Zero(t, empty.Sources)
	assert.Zero(t, empty.Posts)
	assert.Zero(t, empty.RunningJobs)
}
