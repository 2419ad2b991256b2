package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codemesh/codemesh/internal/credentials"
	"github.com/codemesh/codemesh/internal/errs"
	"github.com/codemesh/codemesh/internal/httpclient"
	"github.com/codemesh/codemesh/internal/llm"
	"github.com/codemesh/codemesh/internal/llm/providerutil"
	"github.com/codemesh/codemesh/internal/streaming"
	"github.com/codemesh/codemesh/internal/syncutil"
)

// knownModels seeds list_models(); a production build would instead call
// a live models endpoint where the provider offers one.
var knownModels = []llm.ModelInfo{
	{ID: "claude-opus-4", DisplayName: "Claude Opus 4", Capabilities: llm.Capabilities{Tools: true, Vision: true, Caching: true}},
	{ID: "claude-sonnet-4", DisplayName: "Claude Sonnet 4", Capabilities: llm.Capabilities{Tools: true, Vision: true, Caching: true}},
	{ID: "claude-haiku-3.5", DisplayName: "Claude Haiku 3.5", Capabilities: llm.Capabilities{Tools: true, Vision: true, Caching: false}},
}

// Provider is the Anthropic llm.Provider implementation.
type Provider struct {
	baseURL string
	helper  *providerutil.Helper
	pricing llm.PricingTable
}

// New builds an Anthropic Provider. store and limiter are shared,
// caller-constructed singletons (per the §9 design note against
// process-wide globals).
func New(baseURL string, store *credentials.Store, limiter *syncutil.RateLimiter) (*Provider, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client, err := httpclient.New(60*time.Second, httpclient.SSRFInterceptor())
	if err != nil {
		return nil, err
	}
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		helper:  providerutil.NewHelper("anthropic", store, client, limiter),
		pricing: llm.DefaultPricing(),
	}, nil
}

func (p *Provider) ID() string { return "anthropic" }

func (p *Provider) ListModels(context.Context) ([]llm.ModelInfo, error) {
	return knownModels, nil
}

func (p *Provider) GetModel(ctx context.Context, id string) (llm.Model, error) {
	for _, m := range knownModels {
		if m.ID == id {
			return &model{provider: p, info: m}, nil
		}
	}
	return nil, errs.New(errs.InvalidParameters, "unknown anthropic model: "+id)
}

func (p *Provider) HealthCheck(ctx context.Context) (llm.HealthStatus, error) {
	start := time.Now()
	_, err := p.helper.ResolveCredential(ctx, "sk-ant-")
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return llm.HealthStatus{Available: false, LatencyMS: latency, Error: errs.Redact(err.Error())}, nil
	}
	return llm.HealthStatus{Available: true, LatencyMS: latency}, nil
}

func (p *Provider) GetRateLimits(context.Context) (llm.RateLimits, error) {
	return llm.RateLimits{RequestsPerMinute: 50, TokensPerMinute: 40000, Concurrent: 4}, nil
}

func (p *Provider) GetUsage(context.Context) (llm.UsageStats, error) {
	return llm.UsageStats{}, nil
}

type model struct {
	provider *Provider
	info     llm.ModelInfo
}

func (m *model) ID() string                    { return m.info.ID }
func (m *model) Capabilities() llm.Capabilities { return m.info.Capabilities }

func (m *model) EstimateCost(promptTokens, completionTokens int) float64 {
	return llm.EstimateCost(m.provider.pricing[m.info.ID], promptTokens, completionTokens)
}

// CountTokens approximates token count (chars/4) as a fallback; a real
// deployment would call the provider's count_tokens endpoint.
func (m *model) CountTokens(_ context.Context, messages []llm.Message) (int, error) {
	total := 0
	for _, msg := range messages {
		total += len(msg.PlainText())
	}
	return total / 4, nil
}

func (m *model) buildRequest(messages []llm.Message, options llm.GenerateOptions, stream bool) messagesRequest {
	system, wireMsgs := toWireMessages(messages)
	maxTokens := options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return messagesRequest{
		Model:         m.info.ID,
		System:        system,
		Messages:      wireMsgs,
		MaxTokens:     maxTokens,
		Temperature:   options.Temperature,
		StopSequences: options.StopSequences,
		Tools:         toWireTools(options.Tools),
		Stream:        stream,
	}
}

func (m *model) Generate(ctx context.Context, messages []llm.Message, options llm.GenerateOptions) (llm.GenerateResult, error) {
	cred, err := m.provider.helper.ResolveCredential(ctx, "sk-ant-")
	if err != nil {
		return llm.GenerateResult{}, err
	}

	req := m.buildRequest(messages, options, false)
	payload, err := json.Marshal(req)
	if err != nil {
		return llm.GenerateResult{}, errs.Wrap(errs.Other, err, "marshal request")
	}

	resp, err := m.provider.helper.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.provider.baseURL+messagesEndpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		applyAuthHeaders(httpReq, cred)
		return httpReq, nil
	})
	if err != nil {
		return llm.GenerateResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.GenerateResult{}, errs.Wrap(errs.Network, err, "read response body")
	}
	if resp.StatusCode >= 300 {
		var apiErr apiErrorBody
		_ = json.Unmarshal(body, &apiErr)
		return llm.GenerateResult{}, errs.New(errs.Provider, fmt.Sprintf("anthropic api error (%d): %s", resp.StatusCode, apiErr.Error.Message))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return llm.GenerateResult{}, errs.Wrap(errs.Provider, err, "decode response")
	}
	return fromWireResponse(parsed), nil
}

func applyAuthHeaders(req *http.Request, cred credentials.Credential) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", apiVersionHeader)
	switch cred.Kind {
	case credentials.KindAPIKey:
		req.Header.Set("x-api-key", cred.Key)
	case credentials.KindOAuth:
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}
}

// anthropicStream adapts a *streaming.Decoder driven by an SSE response
// body to the llm.ChunkStream interface: each Next pulls bytes from the
// body as needed and polls the decoder.
type anthropicStream struct {
	body    io.ReadCloser
	reader  io.Reader
	decoder *streaming.Decoder
}

func (s *anthropicStream) Next(ctx context.Context) (llm.StreamChunk, bool, error) {
	for {
		if chunk, ok := s.decoder.Next(); ok {
			if chunk.Err != nil {
				return llm.StreamChunk{}, false, chunk.Err
			}
			return chunk, true, nil
		}
		if s.decoder.Finished() {
			return llm.StreamChunk{}, false, nil
		}
		if ctx.Err() != nil {
			return llm.StreamChunk{}, false, errs.New(errs.Aborted, "stream cancelled")
		}
		buf := make([]byte, 4096)
		n, err := s.reader.Read(buf)
		if n > 0 {
			s.decoder.Feed(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				return llm.StreamChunk{}, false, nil
			}
			return llm.StreamChunk{}, false, errs.Wrap(errs.Network, err, "stream read failed")
		}
	}
}

func (s *anthropicStream) Close() error { return s.body.Close() }

func (m *model) Stream(ctx context.Context, messages []llm.Message, options llm.GenerateOptions) (llm.ChunkStream, error) {
	cred, err := m.provider.helper.ResolveCredential(ctx, "sk-ant-")
	if err != nil {
		return nil, err
	}

	req := m.buildRequest(messages, options, true)
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Wrap(errs.Other, err, "marshal request")
	}

	// Streaming requests are never retried mid-stream (§4.1); only the
	// initial HTTP status is subject to the retry policy, so we bypass
	// helper.Do's body-closing 4xx/5xx handling past the first response.
	resp, err := m.provider.helper.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.provider.baseURL+messagesEndpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		applyAuthHeaders(httpReq, cred)
		httpReq.Header.Set("Accept", "text/event-stream")
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}

	return &anthropicStream{body: resp.Body, reader: resp.Body, decoder: streaming.NewDecoder()}, nil
}
