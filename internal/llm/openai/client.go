package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codemesh/codemesh/internal/httpclient"
)

// httpDoer is the minimal surface Client needs from its transport,
// satisfied by both *http.Client and *httpclient.Client so tests can
// swap in a bare http.Client without the SSRF guard.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError represents an HTTP error from the OpenAI-compatible gateway.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai api error: status %d: %s", e.StatusCode, e.Body)
}

// Client talks to an OpenAI-compatible chat/completions endpoint.
type Client struct {
	// baseURL points to the OpenAI-compatible gateway.
	baseURL string
	// apiKey is sent as a bearer token, if provided.
	apiKey string
	// httpClient executes requests with timeouts; built with the SSRF
	// guard applied by default (see NewClient).
	httpClient httpDoer
	// extraHeaders are applied to every request after Authorization;
	// Copilot's gateway requires a handful (Editor-Version and friends)
	// beyond the bearer token that plain OpenAI and Azure don't need.
	extraHeaders map[string]string
}

// NewClient constructs a new client whose transport runs every request
// through the shared SSRF guard (internal/httpclient, C2) before it
// reaches the network, same as the Anthropic adapter's transport.
func NewClient(baseURL string, apiKey string, timeout time.Duration) *Client {
	var doer httpDoer
	if hc, err := httpclient.New(timeout, httpclient.SSRFInterceptor()); err == nil {
		doer = hc
	} else {
		// cookiejar.New(nil) cannot fail; fall back defensively so a
		// future httpclient change can't turn this into a panic path.
		doer = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: doer,
	}
}

// WithHeaders returns a copy of c that sends the given extra headers on
// every request in addition to Content-Type and Authorization.
func (c *Client) WithHeaders(headers map[string]string) *Client {
	clone := *c
	clone.extraHeaders = headers
	return &clone
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.extraHeaders {
		req.Header.Set(k, v)
	}
}

// ChatCompletions executes a non-streaming chat/completions request.
func (c *Client) ChatCompletions(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	// Marshal request payload once for consistent retries.
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.completionsURL(),
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	c.applyHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}

	// Non-2xx responses return a structured API error for fallback logic.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed ChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("empty response choices")
	}
	return &parsed, nil
}

// completionsURL normalizes the base URL to a chat/completions endpoint.
// Contains, not HasSuffix: a deployment URL (Azure) already embeds
// "/chat/completions" ahead of its "?api-version=" query string.
func (c *Client) completionsURL() string {
	if strings.Contains(c.baseURL, "/chat/completions") {
		return c.baseURL
	}
	return c.baseURL + "/chat/completions"
}
