package crawl

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-scout/internal/model"
	"github.com/sells-group/signal-scout/pkg/phantom"
)

type fakePhantom struct {
	launchedAgent string
	launchedArg   any
	result        json.RawMessage
	launchErr     error
}

func (f *fakePhantom) Launch(_ context.Context, agentID string, argument any) (string, error) {
	f.launchedAgent = agentID
	f.launchedArg = argument
	if f.launchErr != nil {
		return "", f.launchErr
	}
	return "container-1", nil
}

func (f *fakePhantom) FetchOutput(context.Context, string) (*phantom.AgentOutput, error) {
	return &phantom.AgentOutput{
		ContainerID:  "container-1",
		Status:       "finished",
		ResultObject: f.result,
	}, nil
}

func (f *fakePhantom) FetchAgent(context.Context, string) (*phantom.AgentDetails, error) {
	return &phantom.AgentDetails{ID: "agent", ScriptID: "123"}, nil
}

func testScraperConfig() Config {
	return Config{
		ProfileAgentID: "agent-profile",
		SearchAgentID:  "agent-search",
		PollInterval:   time.Millisecond,
		Timeout:        time.Second,
	}
}

func TestFetchPosts_ProfileArgument(t *testing.T) {
	fake := &fakePhantom{result: json.RawMessage(`[{"postId": "p-1", "text": "hi"}]`)}
	s := NewScraper(fake, testScraperConfig())

	src := &model.Source{
		ID:         "src-1",
		Kind:       model.SourceKindProfile,
		ProfileURL: "https://www.linkedin.com/company/acme/",
		MaxPosts:   25,
	}

	posts, skipped, err := s.FetchPosts(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, "agent-profile", fake.launchedAgent)
	assert.Equal(t, map[string]any{
		"spreadsheetUrl":   "https://www.linkedin.com/company/acme/",
		"numberMaxOfPosts": 25,
	}, fake.launchedArg)

	require.NotNil(t, posts[0].SourceID)
	assert.Equal(t, "src-1", *posts[0].SourceID)
}

func TestFetchPosts_SearchArgument(t *testing.T) {
	fake := &fakePhantom{result: json.RawMessage(`[]`)}
	cfg := testScraperConfig()
	cfg.SessionCookie = "cookie-value"
	cfg.UserAgent = "Mozilla/5.0 test"
	s := NewScraper(fake, cfg)

	src := &model.Source{
		ID:       "src-2",
		Kind:     model.SourceKindSearch,
		Term:     "hiring",
		TermKind: model.TermKindHashtag,
		MaxPosts: 10,
	}

	_, _, err := s.FetchPosts(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "agent-search", fake.launchedAgent)
	assert.Equal(t, map[string]any{
		"searchTerm":    "#hiring",
		"numberOfPosts": 10,
		"sessionCookie": "cookie-value",
		"userAgent":     "Mozilla/5.0 test",
	}, fake.launchedArg)
}

func TestFetchPosts_EmptyResult(t *testing.T) {
	fake := &fakePhantom{result: nil}
	s := NewScraper(fake, testScraperConfig())

	posts, skipped, err := s.FetchPosts(context.Background(), &model.Source{
		ID:         "src-3",
		Kind:       model.SourceKindProfile,
		ProfileURL: "https://example.com/p",
		MaxPosts:   5,
	})
	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.Equal(t, 0, skipped)
}

func TestFetchPosts_UnknownResultShape(t *testing.T) {
	fake := &fakePhantom{result: json.RawMessage(`{"foo": "bar"}`)}
	s := NewScraper(fake, testScraperConfig())

	posts, _, err := s.FetchPosts(context.Background(), &model.Source{
		ID:         "src-5",
		Kind:       model.SourceKindProfile,
		ProfileURL: "https://example.com/p",
		MaxPosts:   5,
	})
	require.Error(t, err)
	assert.Nil(t, posts)
}

func TestFetchPosts_UnconfiguredAgent(t *testing.T) {
	s := NewScraper(&fakePhantom{}, Config{SearchAgentID: "only-search"})

	_, _, err := s.FetchPosts(context.Background(), &model.Source{
		Kind:       model.SourceKindProfile,
		ProfileURL: "https://example.com/p",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile agent id not configured")
}

func TestFetchPosts_SkippedCounted(t *testing.T) {
	fake := &fakePhantom{result: json.RawMessage(`[
		{"postId": "a", "text": "x"},
		{"noId": true},
		{"postId": "b", "text": "y"}
	]`)}
	s := NewScraper(fake, testScraperConfig())

	posts, skipped, err := s.FetchPosts(context.Background(), &model.Source{
		ID:         "src-4",
		Kind:       model.SourceKindProfile,
		ProfileURL: "https://example.com/p",
		MaxPosts:   5,
	})
	require.NoError(t, err)
	assert.Len(t, posts, 2)
	assert.Equal(t, 1, skipped)
}
