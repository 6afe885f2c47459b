package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-scout/internal/model"
	"github.com/sells-group/signal-scout/internal/store"
)

// memStore is an in-memory store.Store for handler tests.
type memStore struct {
	sources map[string]*model.Source
	signals []model.Signal
	runs    map[string]*model.JobRun
	pingErr error
}

func newMemStore() *memStore {
	return &memStore{
		sources: map[string]*model.Source{},
		runs:    map[string]*model.JobRun{},
	}
}

func (m *memStore) CreateSource(_ context.Context, src *model.Source) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	src.CreatedAt = time.Now().UTC()
	src.UpdatedAt = src.CreatedAt
	m.sources[src.ID] = src
	return nil
}

func (m *memStore) GetSource(_ context.Context, id string) (*model.Source, error) {
	src, ok := m.sources[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *src
	return &cp, nil
}

func (m *memStore) UpdateSource(_ context.Context, src *model.Source) error {
	if _, ok := m.sources[src.ID]; !ok {
		return store.ErrNotFound
	}
	m.sources[src.ID] = src
	return nil
}

func (m *memStore) DeleteSource(_ context.Context, id string) error {
	if _, ok := m.sources[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.sources, id)
	return nil
}

func (m *memStore) ListSources(_ context.Context, filter store.SourceFilter) ([]model.Source, error) {
	out := []model.Source{}
	for _, src := range m.sources {
		if filter.OwnerID != "" && src.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Kind != "" && src.Kind != filter.Kind {
			continue
		}
		if filter.Active != nil && src.Active != *filter.Active {
			continue
		}
		out = append(out, *src)
	}
	return out, nil
}

func (m *memStore) ListDueSources(context.Context, time.Time) ([]model.Source, error) {
	return nil, nil
}

func (m *memStore) TouchCrawled(context.Context, string, time.Time) error { return nil }

func (m *memStore) InsertPosts(context.Context, []model.Post) (int, error) { return 0, nil }

func (m *memStore) GetPost(context.Context, string) (*model.Post, error) {
	return nil, store.ErrNotFound
}

func (m *memStore) ListUnsignaledPosts(context.Context, int) ([]model.Post, error) {
	return nil, nil
}

func (m *memStore) InsertSignal(context.Context, *model.Signal) (bool, error) { return true, nil }

func (m *memStore) ListSignals(_ context.Context, filter store.SignalFilter) ([]model.Signal, error) {
	out := []model.Signal{}
	for _, sig := range m.signals {
		if filter.EventsOnly && !sig.IsEventRelated {
			continue
		}
		if filter.EventType != "" && sig.EventType != filter.EventType {
			continue
		}
		if sig.RelevanceScore < filter.MinScore {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

func (m *memStore) BeginRun(context.Context, model.RunKind, *string) (*model.JobRun, error) {
	return nil, store.ErrRunInFlight
}

func (m *memStore) CompleteRun(context.Context, string, model.RunState, int, int, string) error {
	return nil
}

func (m *memStore) GetRun(_ context.Context, id string) (*model.JobRun, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return run, nil
}

func (m *memStore) ListRuns(context.Context, store.RunFilter) ([]model.JobRun, error) {
	out := []model.JobRun{}
	for _, run := range m.runs {
		out = append(out, *run)
	}
	return out, nil
}

func (m *memStore) ReconcileStaleRuns(context.Context, time.Duration) (int, error) { return 0, nil }

func (m *memStore) Summary(_ context.Context, ownerID string) (*store.Summary, error) {
	if ownerID == "" {
		return &store.Summary{Sources: len(m.sources), Signals: len(m.signals)}, nil
	}
	sum := &store.Summary{}
	for _, src := range m.sources {
		if src.OwnerID == ownerID {
			sum.Sources++
		}
	}
	return sum, nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Ping(context.Context) error    { return m.pingErr }
func (m *memStore) Close() error                  { return nil }

type fakeTrigger struct {
	run *model.JobRun
	err error
}

func (f *fakeTrigger) TriggerCrawl(context.Context, string) (*model.JobRun, error) {
	return f.run, f.err
}

func newTestServer(t *testing.T, st *memStore, trigger CrawlTrigger) *httptest.Server {
	t.Helper()
	if trigger == nil {
		trigger = &fakeTrigger{}
	}
	srv := httptest.NewServer(NewServer(st, trigger).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var payload map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	}
	return resp, payload
}

func TestHealthz(t *testing.T) {
	st := newMemStore()
	srv := newTestServer(t, st, nil)

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", payload["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestCreateSource(t *testing.T) {
	st := newMemStore()
	srv := newTestServer(t, st, nil)

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sources",
		`{"kind": "search", "term": "acquisition", "term_kind": "keyword"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.NotEmpty(t, payload["id"])
	assert.Equal(t, "search", payload["kind"])
	assert.Equal(t, float64(20), payload["max_posts"])
	assert.Equal(t, true, payload["active"])
	assert.Len(t, st.sources, 1)
}

func TestCreateSource_Invalid(t *testing.T) {
	srv := newTestServer(t, newMemStore(), nil)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sources",
		`{"kind": "profile"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sources", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSourceLifecycle(t *testing.T) {
	st := newMemStore()
	srv := newTestServer(t, st, nil)

	_, created := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sources",
		`{"kind": "profile", "profile_url": "https://example.com/acme"}`)
	id := created["id"].(string)

	resp, got := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sources/"+id, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://example.com/acme", got["profile_url"])

	resp, updated := doJSON(t, http.MethodPut, srv.URL+"/api/v1/sources/"+id,
		`{"kind": "profile", "profile_url": "https://example.com/acme", "active": false}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, updated["active"])

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/sources/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sources/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTriggerCrawl(t *testing.T) {
	st := newMemStore()
	run := &model.JobRun{ID: "run-1", Kind: model.RunKindCrawl, State: model.RunStateRunning}
	srv := newTestServer(t, st, &fakeTrigger{run: run})

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sources/src-1/crawl", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "run-1", payload["id"])
}

func TestTriggerCrawl_Conflict(t *testing.T) {
	srv := newTestServer(t, newMemStore(), &fakeTrigger{err: store.ErrRunInFlight})

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sources/src-1/crawl", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, payload["error"], "in flight")
}

func TestTriggerCrawl_UnknownSource(t *testing.T) {
	srv := newTestServer(t, newMemStore(), &fakeTrigger{err: store.ErrNotFound})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sources/missing/crawl", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListSignals_Filters(t *testing.T) {
	st := newMemStore()
	st.signals = []model.Signal{
		{ID: "s1", PostID: "p1", IsEventRelated: true, EventType: "conference", RelevanceScore: 0.9},
		{ID: "s2", PostID: "p2", IsEventRelated: false, RelevanceScore: 0.1},
	}
	srv := newTestServer(t, st, nil)

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/api/v1/signals?events_only=true&min_score=0.5", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), payload["count"])

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/signals?min_score=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/signals?since=notatime", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRuns(t *testing.T) {
	st := newMemStore()
	st.runs["r1"] = &model.JobRun{ID: "r1", Kind: model.RunKindCrawl, State: model.RunStateSucceeded}
	srv := newTestServer(t, st, nil)

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), payload["count"])

	resp, run := doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs/r1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "r1", run["id"])

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSummary(t *testing.T) {
	st := newMemStore()
	srv := newTestServer(t, st, nil)

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/api/v1/summary", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, payload, "sources")
}

func TestListSources_OwnerFilter(t *testing.T) {
	st := newMemStore()
	st.sources["a"] = &model.Source{ID: "a", OwnerID: "rep-1", Kind: model.SourceKindProfile}
	st.sources["b"] = &model.Source{ID: "b", OwnerID: "rep-2", Kind: model.SourceKindProfile}
	srv := newTestServer(t, st, nil)

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sources?owner_id=rep-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), payload["count"])

	resp, payload = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sources", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), payload["count"])
}

func TestSummary_OwnerScoped(t *testing.T) {
	st := newMemStore()
	st.sources["a"] = &model.Source{ID: "a", OwnerID: "rep-1", Kind: model.SourceKindProfile}
	st.sources["b"] = &model.Source{ID: "b", OwnerID: "rep-2", Kind: model.SourceKindProfile}
	srv := newTestServer(t, st, nil)

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/api/v1/summary?owner_id=rep-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), payload["sources"])
}

func TestHealthz_StoreDown(t *testing.T) {
	st := newMemStore()
	st.pingErr = store.ErrNotFound
	srv := newTestServer(t, st, nil)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
