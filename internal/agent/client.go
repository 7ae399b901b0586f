// Package agent is the HTTP client for the backend agent execution
// service. Trestle only creates, prompts, stops, and reads sessions; the
// backend owns everything else.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/trestle-dev/trestle/internal/signature"
	"golang.org/x/oauth2"
)

// tokenSubject is the fixed string the bearer token is minted over. The
// backend mints the same token from the shared secret to authenticate us.
const tokenSubject = "trestle-agent"

// TraceHeader carries the request trace identifier to the backend.
const TraceHeader = "X-Trace-ID"

// defaultTimeout bounds individual backend calls.
const defaultTimeout = 30 * time.Second

// MintToken derives the bearer token from the shared secret.
func MintToken(secret string) string {
	return signature.Sign([]byte(tokenSubject), []byte(secret))
}

// Client talks to the backend session API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  oauth2.TokenSource
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL      string
	SharedSecret string
	HTTPClient   *http.Client // optional; defaults to a 30s-timeout client
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("agent: base url is required")
	}
	if opts.SharedSecret == "" {
		return nil, fmt.Errorf("agent: shared secret is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		tokens: oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: MintToken(opts.SharedSecret),
			TokenType:   "Bearer",
		}),
	}, nil
}

// APIError is a non-2xx backend response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent: backend returned %d: %s", e.StatusCode, e.Body)
}

type traceKey struct{}

// WithTrace attaches a trace identifier to the context; it is sent as the
// X-Trace-ID header on every backend call made with that context.
func WithTrace(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceFrom returns the trace identifier attached to the context, if any.
func TraceFrom(ctx context.Context) string {
	traceID, _ := ctx.Value(traceKey{}).(string)
	return traceID
}

// do performs one backend request, encoding in as JSON when non-nil and
// decoding the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("agent: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("agent: build request: %w", err)
	}
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("agent: token: %w", err)
	}
	token.SetAuthHeader(req)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if traceID := TraceFrom(ctx); traceID != "" {
		req.Header.Set(TraceHeader, traceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("agent: decode %s %s response: %w", method, path, err)
	}
	return nil
}

// CreateSession opens a new backend session and returns its id.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (string, error) {
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions", req, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("agent: create session: backend returned empty session id")
	}
	return resp.SessionID, nil
}

// Prompt forwards a message to an existing session and returns the backend
// message id.
func (c *Client) Prompt(ctx context.Context, sessionID string, req PromptRequest) (string, error) {
	var resp struct {
		MessageID string `json:"messageId"`
	}
	path := "/sessions/" + url.PathEscape(sessionID) + "/prompt"
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// Stop requests termination of a session.
func (c *Client) Stop(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/stop", nil, nil)
}

// Events fetches one page of the session event log, filtered to a message.
func (c *Client) Events(ctx context.Context, sessionID, messageID, cursor string, limit int) (*EventsPage, error) {
	query := url.Values{}
	if messageID != "" {
		query.Set("message_id", messageID)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	path := "/sessions/" + url.PathEscape(sessionID) + "/events"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var page EventsPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Artifacts fetches the session's artifacts from the dedicated endpoint.
func (c *Client) Artifacts(ctx context.Context, sessionID string) ([]Artifact, error) {
	var resp struct {
		Artifacts []Artifact `json:"artifacts"`
	}
	path := "/sessions/" + url.PathEscape(sessionID) + "/artifacts"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Artifacts, nil
}
