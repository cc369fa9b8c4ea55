package wallethub

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
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// DefaultUserHeader matches the header read by the server when auth is disabled.
const DefaultUserHeader = "X-User-ID"

// Client wraps the HTTP interactions with the WalletHub REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	userHeader string

	mu          sync.RWMutex
	accessToken string
	userID      string
}

// Intent mirrors the structured intent returned by the server.
type Intent struct {
	Action     string         `json:"action"`
	Entities   map[string]any `json:"entities"`
	Confidence float64        `json:"confidence"`
	RiskLevel  string         `json:"riskLevel"`
}

// BuildResult is the outcome of POST /api/v1/intents/build. Preview is left
// raw because its shape depends on the workflow that handled the intent.
type BuildResult struct {
	Intent         Intent          `json:"intent"`
	Preview        json.RawMessage `json:"preview"`
	ConversationID string          `json:"-"`
	IntentID       string          `json:"-"`
}

// Workflow describes a registered workflow.
type Workflow struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Examples    []string `json:"examples"`
	Intents     []string `json:"intents"`
}

// Chain describes a supported chain.
type Chain struct {
	ID       int64             `json:"id"`
	Name     string            `json:"name"`
	Symbol   string            `json:"symbol"`
	Decimals uint8             `json:"decimals"`
	Aliases  []string          `json:"aliases,omitempty"`
	Tokens   map[string]string `json:"tokens,omitempty"`
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("wallethub api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the WalletHub API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, userHeader: DefaultUserHeader}, nil
}

// SetAccessToken configures a bearer token for servers running in jwt mode.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// SetUserID configures the caller id sent in the user header for servers
// running with auth disabled.
func (c *Client) SetUserID(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// SetUserHeader overrides the header name used by SetUserID.
func (c *Client) SetUserHeader(header string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if header != "" {
		c.userHeader = header
	}
}

// BuildIntent submits a natural language request. A chainID of 0 lets the
// server pick the chain.
func (c *Client) BuildIntent(ctx context.Context, input string, chainID int64) (*BuildResult, error) {
	payload := map[string]any{"input": input}
	if chainID > 0 {
		payload["chainId"] = chainID
	}

	var result BuildResult
	header, err := c.post(ctx, "/api/v1/intents/build", payload, &result)
	if err != nil {
		return nil, err
	}
	result.ConversationID = header.Get("X-Conversation-ID")
	result.IntentID = header.Get("X-Intent-ID")
	return &result, nil
}

// Workflows lists the registered workflows.
func (c *Client) Workflows(ctx context.Context) ([]Workflow, error) {
	var out struct {
		Workflows []Workflow `json:"workflows"`
	}
	if err := c.get(ctx, "/api/v1/workflows", &out); err != nil {
		return nil, err
	}
	return out.Workflows, nil
}

// Chains lists the supported chains.
func (c *Client) Chains(ctx context.Context) ([]Chain, error) {
	var out struct {
		Chains []Chain `json:"chains"`
	}
	if err := c.get(ctx, "/api/v1/chains", &out); err != nil {
		return nil, err
	}
	return out.Chains, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) (http.Header, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	_, err = c.do(req, out)
	return err
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.mu.RLock()
	token, userID, header := c.accessToken, c.userID, c.userHeader
	c.mu.RUnlock()
	switch {
	case token != "":
		req.Header.Set("Authorization", "Bearer "+token)
	case userID != "":
		req.Header.Set(header, userID)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) (http.Header, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return nil, apiErr
	}

	if out == nil {
		return resp.Header, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp.Header, nil
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
