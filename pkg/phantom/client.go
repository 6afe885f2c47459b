// Package phantom is a client for the Phantombuster automation API: launch an
// agent, poll its output, and fetch the result object of the last execution.
package phantom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Default base URL for the Phantombuster v2 API.
const defaultBaseURL = "https://api.phantombuster.com/api/v2"

// Client defines the Phantombuster API operations used by the crawler.
type Client interface {
	Launch(ctx context.Context, agentID string, argument any) (string, error)
	FetchOutput(ctx context.Context, agentID string) (*AgentOutput, error)
	FetchAgent(ctx context.Context, agentID string) (*AgentDetails, error)
}

// AgentOutput is the state of an agent's most recent execution. ResultObject
// is left raw: its shape varies by agent (list or object) and is normalized
// by the caller.
type AgentOutput struct {
	ContainerID  string
	Status       string
	Output       string
	ResultObject json.RawMessage
}

// Running reports whether the execution is still in progress.
func (o *AgentOutput) Running() bool {
	switch o.Status {
	case "finished", "success", "error", "failed":
		return false
	}
	return true
}

// Finished reports whether the execution completed successfully.
func (o *AgentOutput) Finished() bool {
	return o.Status == "finished" || o.Status == "success"
}

// Failed reports whether the provider itself reported the execution failed.
func (o *AgentOutput) Failed() bool {
	return o.Status == "error" || o.Status == "failed"
}

// AgentDetails describes an agent's saved configuration.
type AgentDetails struct {
	ID          string
	Name        string
	ScriptID    string
	LaunchType  string
	LastEndedAt *time.Time
	Argument    map[string]any
}

// APIError is returned when Phantombuster responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("phantom: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus exposes the status code for retry classification.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Phantombuster client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Launch(ctx context.Context, agentID string, argument any) (string, error) {
	body := map[string]any{"id": agentID}
	if argument != nil {
		// The launch endpoint expects the argument as a JSON string.
		argJSON, err := json.Marshal(argument)
		if err != nil {
			return "", eris.Wrap(err, "phantom: marshal argument")
		}
		body["argument"] = string(argJSON)
	}

	var resp struct {
		ContainerID string `json:"containerId"`
	}
	if err := c.post(ctx, "/agents/launch", body, &resp); err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("phantom: launch agent %s", agentID))
	}
	if resp.ContainerID == "" {
		return "", eris.Errorf("phantom: launch agent %s: no container id returned", agentID)
	}
	return resp.ContainerID, nil
}

func (c *httpClient) FetchOutput(ctx context.Context, agentID string) (*AgentOutput, error) {
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			ContainerID     string          `json:"containerId"`
			ContainerStatus string          `json:"containerStatus"`
			Output          string          `json:"output"`
			ResultObject    json.RawMessage `json:"resultObject"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/agents/fetch-output", url.Values{"id": {agentID}}, &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("phantom: fetch output for agent %s", agentID))
	}

	status := resp.Data.ContainerStatus
	if status == "" {
		status = resp.Status
	}

	return &AgentOutput{
		ContainerID:  resp.Data.ContainerID,
		Status:       status,
		Output:       resp.Data.Output,
		ResultObject: decodeResultObject(resp.Data.ResultObject),
	}, nil
}

func (c *httpClient) FetchAgent(ctx context.Context, agentID string) (*AgentDetails, error) {
	var resp struct {
		ID          json.Number     `json:"id"`
		Name        string          `json:"name"`
		ScriptID    json.Number     `json:"scriptId"`
		LaunchType  string          `json:"launchType"`
		LastEndedAt int64           `json:"lastEndedAt"`
		Argument    json.RawMessage `json:"argument"`
	}
	if err := c.get(ctx, "/agents/fetch", url.Values{"id": {agentID}}, &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("phantom: fetch agent %s", agentID))
	}

	details := &AgentDetails{
		ID:         resp.ID.String(),
		Name:       resp.Name,
		ScriptID:   resp.ScriptID.String(),
		LaunchType: resp.LaunchType,
	}
	if details.ID == "" {
		details.ID = agentID
	}
	if resp.LastEndedAt > 0 {
		// lastEndedAt is Unix milliseconds.
		t := time.UnixMilli(resp.LastEndedAt).UTC()
		details.LastEndedAt = &t
	}
	details.Argument = decodeArgument(resp.Argument)
	return details, nil
}

// decodeResultObject unwraps the result object, which may arrive either as
// JSON proper or as a JSON-encoded string containing JSON.
func decodeResultObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			return nil
		}
		return json.RawMessage(trimmed)
	}
	return raw
}

// decodeArgument parses the saved agent argument, which may be a JSON string
// or an object.
func decodeArgument(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = json.RawMessage(s)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Phantombuster-Key", c.apiKey)

	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("X-Phantombuster-Key", c.apiKey)

	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}
