// Package defiflow is a Go client for the DefiFlow HTTP API.
package defiflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Start waits for the engine to arm, so it is longer than a plain lookup needs.
const DefaultHTTPTimeout = 45 * time.Second

// Client wraps the HTTP interactions with a defiflowd instance.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Transaction is one submitted on-chain transaction of a run.
type Transaction struct {
	Step    int    `json:"step"`
	Kind    string `json:"kind"`
	Hash    string `json:"hash"`
	ChainID uint64 `json:"chainId"`
	URL     string `json:"url,omitempty"`
}

// RunState is the engine snapshot.
type RunState struct {
	RunID        string        `json:"runId,omitempty"`
	Phase        string        `json:"phase"`
	Step         int           `json:"step"`
	StepName     string        `json:"stepName,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Code         string        `json:"code,omitempty"`
	LastTxRef    string        `json:"lastTxRef,omitempty"`
	Transactions []Transaction `json:"transactions,omitempty"`
	Trigger      string        `json:"trigger,omitempty"`
	FiredPrice   string        `json:"firedPrice,omitempty"`
	Summary      string        `json:"summary"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// CommandResult is returned by Start, Stop and Reset.
type CommandResult struct {
	CommandID string    `json:"commandId"`
	Type      string    `json:"type"`
	State     RunState  `json:"state"`
	At        time.Time `json:"at"`
}

// Validation is the outcome of ValidateGraph.
type Validation struct {
	Valid   bool     `json:"valid"`
	Rule    string   `json:"rule,omitempty"`
	NodeIDs []string `json:"nodeIds,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// Quote is the input required for a desired output. Estimate quotes come
// from the fallback rate and are never executed.
type Quote struct {
	DesiredOutput string `json:"desiredOutput"`
	RequiredInput string `json:"requiredInput"`
	GasEstimate   uint64 `json:"gasEstimate,omitempty"`
	Estimate      bool   `json:"estimate"`
	Reason        string `json:"reason,omitempty"`
}

// Resolution is the outcome of a name lookup.
type Resolution struct {
	Input    string `json:"input"`
	Address  string `json:"address,omitempty"`
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

// APIError represents server side validation or execution errors.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Rule       string            `json:"rule,omitempty"`
	NodeIDs    []string          `json:"nodeIds,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("defiflow api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("defiflow api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// ValidateGraph checks a graph without arming it. A graph that fails a rule
// is reported in the result, not as an error.
func (c *Client) ValidateGraph(ctx context.Context, graph json.RawMessage) (Validation, error) {
	var v Validation
	err := c.send(ctx, http.MethodPost, "/api/v1/graphs/validate", nil, graph, &v)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity && apiErr.Rule != "" {
		return Validation{Rule: apiErr.Rule, NodeIDs: apiErr.NodeIDs, Reason: apiErr.Message}, nil
	}
	return v, err
}

// Start arms graph.
func (c *Client) Start(ctx context.Context, graph json.RawMessage) (CommandResult, error) {
	var res CommandResult
	err := c.send(ctx, http.MethodPost, "/api/v1/run/start", nil, graph, &res)
	return res, err
}

// Stop disarms a waiting workflow.
func (c *Client) Stop(ctx context.Context) (CommandResult, error) {
	var res CommandResult
	err := c.send(ctx, http.MethodPost, "/api/v1/run/stop", nil, nil, &res)
	return res, err
}

// Reset returns a finished run to idle.
func (c *Client) Reset(ctx context.Context) (CommandResult, error) {
	var res CommandResult
	err := c.send(ctx, http.MethodPost, "/api/v1/run/reset", nil, nil, &res)
	return res, err
}

// State fetches the current engine snapshot.
func (c *Client) State(ctx context.Context) (RunState, error) {
	var st RunState
	err := c.send(ctx, http.MethodGet, "/api/v1/run/state", nil, nil, &st)
	return st, err
}

// Quote asks for the input needed to receive output.
func (c *Client) Quote(ctx context.Context, output string) (Quote, error) {
	var q Quote
	err := c.send(ctx, http.MethodGet, "/api/v1/quote", url.Values{"output": {output}}, nil, &q)
	return q, err
}

// Resolve looks a recipient identifier up.
func (c *Client) Resolve(ctx context.Context, name string) (Resolution, error) {
	var r Resolution
	err := c.send(ctx, http.MethodGet, "/api/v1/resolve", url.Values{"name": {name}}, nil, &r)
	return r, err
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, body json.RawMessage, out any) error {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	u := c.baseURL.ResolveReference(rel)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
