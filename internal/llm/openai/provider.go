// Package openai implements the OpenAI-compatible provider adapter,
// reusing the gateway Client (non-streaming and SSE-streaming) against
// the llm.Provider/llm.Model contract.
package openai

import (
	"context"
	"time"

	"github.com/codemesh/codemesh/internal/credentials"
	"github.com/codemesh/codemesh/internal/errs"
	"github.com/codemesh/codemesh/internal/llm"
	"github.com/codemesh/codemesh/internal/llm/providerutil"
	"github.com/codemesh/codemesh/internal/syncutil"
)

var knownModels = []llm.ModelInfo{
	{ID: "gpt-4o", DisplayName: "GPT-4o", Capabilities: llm.Capabilities{Tools: true, Vision: true}},
	{ID: "gpt-4o-mini", DisplayName: "GPT-4o mini", Capabilities: llm.Capabilities{Tools: true, Vision: true}},
	{ID: "gpt-4.1", DisplayName: "GPT-4.1", Capabilities: llm.Capabilities{Tools: true, Vision: true}},
}

// Provider is the OpenAI-compatible llm.Provider implementation. Unlike
// Anthropic, credential resolution happens per request because the
// underlying Client bakes its bearer token in at construction time.
type Provider struct {
	baseURL string
	store   *credentials.Store
	limiter *syncutil.RateLimiter
	breaker *syncutil.CircuitBreaker
	backoff syncutil.BackoffPolicy
	pricing llm.PricingTable
}

// New builds an OpenAI-compatible Provider against baseURL (the
// gateway's /v1 root, e.g. "https://api.openai.com/v1").
func New(baseURL string, store *credentials.Store, limiter *syncutil.RateLimiter) *Provider {
	return &Provider{
		baseURL: baseURL,
		store:   store,
		limiter: limiter,
		breaker: syncutil.NewCircuitBreaker(syncutil.CircuitBreakerConfig{Name: "openai"}),
		backoff: syncutil.DefaultBackoffPolicy(),
		pricing: llm.DefaultPricing(),
	}
}

func (p *Provider) ID() string { return "openai" }

func (p *Provider) ListModels(context.Context) ([]llm.ModelInfo, error) {
	return knownModels, nil
}

// GetModel returns a model wrapper for id. Known ids use their recorded
// capabilities/pricing; any other id is still accepted since this
// adapter targets arbitrary OpenAI-compatible gateways (self-hosted
// included) that serve model ids this list was never updated for.
func (p *Provider) GetModel(ctx context.Context, id string) (llm.Model, error) {
	for _, m := range knownModels {
		if m.ID == id {
			return &model{provider: p, info: m}, nil
		}
	}
	if id == "" {
		return nil, errs.New(errs.InvalidParameters, "model id is required")
	}
	return &model{provider: p, info: llm.ModelInfo{ID: id, DisplayName: id, Capabilities: llm.Capabilities{Tools: true}}}, nil
}

// ResolveAPIKey fetches the bearer credential for providerID from store,
// refreshing nothing itself (OAuth refresh is the providerutil.Helper's
// job; this adapter only reads whatever is currently stored). Exported
// so the Azure adapter, which shares this credential shape, can reuse it.
func ResolveAPIKey(ctx context.Context, store *credentials.Store, providerID string) (string, error) {
	cred, err := store.Get(ctx, providerID)
	if err != nil {
		return "", err
	}
	if cred.Kind == credentials.KindOAuth {
		if cred.Expired(time.Now()) {
			return "", errs.New(errs.AuthenticationFailed, providerID+": oauth credential expired")
		}
		return cred.AccessToken, nil
	}
	return cred.Key, nil
}

func (p *Provider) resolveAPIKey(ctx context.Context) (string, error) {
	return ResolveAPIKey(ctx, p.store, p.ID())
}

func (p *Provider) HealthCheck(ctx context.Context) (llm.HealthStatus, error) {
	start := time.Now()
	_, err := p.resolveAPIKey(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return llm.HealthStatus{Available: false, LatencyMS: latency, Error: errs.Redact(err.Error())}, nil
	}
	return llm.HealthStatus{Available: true, LatencyMS: latency}, nil
}

func (p *Provider) GetRateLimits(context.Context) (llm.RateLimits, error) {
	return llm.RateLimits{RequestsPerMinute: 60, TokensPerMinute: 60000, Concurrent: 8}, nil
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

// CountTokens approximates token count (chars/4); see the same caveat
// on the Anthropic adapter.
func (m *model) CountTokens(_ context.Context, messages []llm.Message) (int, error) {
	total := 0
	for _, msg := range messages {
		total += len(msg.PlainText())
	}
	return total / 4, nil
}

// BuildChatRequest assembles the shared wire request from provider-
// agnostic inputs. Exported so the Azure adapter (same wire format,
// different transport path) can reuse it instead of re-deriving it.
func BuildChatRequest(modelOrDeployment string, messages []llm.Message, options llm.GenerateOptions) *ChatRequest {
	req := &ChatRequest{
		Model:    modelOrDeployment,
		Messages: ToChatMessages(messages),
		Tools:    ToChatTools(options.Tools),
	}
	if options.Temperature != 0 {
		t := options.Temperature
		req.Temperature = &t
	}
	if options.MaxTokens > 0 {
		n := options.MaxTokens
		req.MaxTokens = &n
	}
	return req
}

func (m *model) client(ctx context.Context) (*Client, error) {
	key, err := m.provider.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	return NewClient(m.provider.baseURL, key, 60*time.Second), nil
}

func (m *model) Generate(ctx context.Context, messages []llm.Message, options llm.GenerateOptions) (llm.GenerateResult, error) {
	if err := m.provider.limiter.Acquire(ctx, 1); err != nil {
		return llm.GenerateResult{}, errs.Wrap(errs.Aborted, err, "rate limiter wait")
	}
	client, err := m.client(ctx)
	if err != nil {
		return llm.GenerateResult{}, err
	}
	req := BuildChatRequest(m.info.ID, messages, options)

	result, err := syncutil.RetryWithBackoff(ctx, m.provider.backoff, errs.Retryable, func(ctx context.Context, _ int) (llm.GenerateResult, error) {
		return syncutil.ExecuteWithResult(m.provider.breaker, ctx, func(ctx context.Context) (llm.GenerateResult, error) {
			resp, err := client.ChatCompletions(ctx, req)
			if err != nil {
				return llm.GenerateResult{}, ClassifyAPIError(err)
			}
			return FromChatResponse(resp), nil
		})
	})
	if err != nil {
		return llm.GenerateResult{}, err
	}
	return result, nil
}

// ClassifyAPIError maps the Client's *APIError into the shared error
// taxonomy so Retryable() can recognize rate limits and 5xx outages.
// Exported for reuse by the Azure adapter.
func ClassifyAPIError(err error) error {
	apiErr, ok := err.(*APIError)
	if !ok {
		return errs.Wrap(errs.Network, err, "openai-compatible request failed")
	}
	switch {
	case apiErr.StatusCode == 429:
		return errs.New(errs.Provider, "rate_limit: too many requests")
	case apiErr.StatusCode >= 500:
		return errs.New(errs.Provider, "provider error: server timeout or outage (5xx)")
	case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
		return errs.New(errs.AuthenticationFailed, errs.Redact(apiErr.Error()))
	default:
		return errs.New(errs.Provider, errs.Redact(apiErr.Error()))
	}
}

// chatStream bridges the Client's push-based ChatCompletionsStream (a
// blocking callback loop) onto the pull-based llm.ChunkStream contract
// by running it on a goroutine that feeds a channel of core.StreamChunk.
type chatStream struct {
	chunks chan llm.StreamChunk
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *chatStream) Next(ctx context.Context) (llm.StreamChunk, bool, error) {
	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			return llm.StreamChunk{}, false, nil
		}
		if chunk.Err != nil {
			return llm.StreamChunk{}, false, chunk.Err
		}
		return chunk, true, nil
	case <-ctx.Done():
		return llm.StreamChunk{}, false, errs.New(errs.Aborted, "stream cancelled")
	}
}

func (s *chatStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// StreamChat runs req against client's streaming endpoint and returns an
// llm.ChunkStream fed by a goroutine bridging the push-based callback
// loop onto Next's pull-based contract. Exported so the Azure adapter
// (same wire format, different client base URL) can reuse the bridge.
func StreamChat(ctx context.Context, client *Client, req *ChatRequest) llm.ChunkStream {
	streamCtx, cancel := context.WithCancel(ctx)
	s := &chatStream{
		chunks: make(chan llm.StreamChunk, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.chunks)

		acc := NewStreamAccumulator()
		_, err := client.ChatCompletionsStream(streamCtx, req, func(event StreamResponse) error {
			for _, choice := range event.Choices {
				if choice.Index != 0 {
					continue
				}
				if choice.Delta.Content != "" {
					select {
					case s.chunks <- llm.StreamChunk{TextDelta: choice.Delta.Content}:
					case <-streamCtx.Done():
						return streamCtx.Err()
					}
				}
			}
			return acc.Apply(event)
		})
		if err != nil {
			s.chunks <- llm.StreamChunk{Err: errs.Wrap(errs.Network, err, "openai-compatible stream failed")}
			return
		}

		if calls := acc.ToolCalls(); len(calls) > 0 {
			coreCalls := make([]llm.ToolCall, 0, len(calls))
			for _, tc := range calls {
				coreCalls = append(coreCalls, llm.ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: []byte(tc.Function.Arguments),
				})
			}
			s.chunks <- llm.StreamChunk{ToolCalls: coreCalls}
		}
		if acc.FinishReason() != "" {
			s.chunks <- llm.StreamChunk{FinishReason: MapFinishReason(acc.FinishReason())}
		}
	}()

	return s
}

func (m *model) Stream(ctx context.Context, messages []llm.Message, options llm.GenerateOptions) (llm.ChunkStream, error) {
	if err := m.provider.limiter.Acquire(ctx, 1); err != nil {
		return nil, errs.Wrap(errs.Aborted, err, "rate limiter wait")
	}
	client, err := m.client(ctx)
	if err != nil {
		return nil, err
	}
	req := BuildChatRequest(m.info.ID, messages, options)
	return StreamChat(ctx, client, req), nil
}
