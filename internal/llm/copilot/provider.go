// Package copilot implements the GitHub Copilot Chat provider adapter:
// GitHub device-code OAuth traded for a short-lived Copilot API token,
// then the same chat/completions wire format internal/llm/openai
// already speaks, reused verbatim against Copilot's own base URL and
// header set (§6, §12).
package copilot

import (
	"context"
	"sync"
	"time"

	"github.com/codemesh/codemesh/internal/credentials"
	"github.com/codemesh/codemesh/internal/errs"
	"github.com/codemesh/codemesh/internal/httpclient"
	"github.com/codemesh/codemesh/internal/llm"
	"github.com/codemesh/codemesh/internal/llm/openai"
	"github.com/codemesh/codemesh/internal/llm/providerutil"
	"github.com/codemesh/codemesh/internal/syncutil"
)

// knownModels mirrors the three chat models the reference client
// defaults to; o1-preview predates tool calling and vision on Copilot's
// gateway, unlike the two gpt-4o variants.
var knownModels = []llm.ModelInfo{
	{ID: "gpt-4o", DisplayName: "GPT-4o (Copilot)", Capabilities: llm.Capabilities{Tools: true, Vision: true}},
	{ID: "gpt-4o-mini", DisplayName: "GPT-4o mini (Copilot)", Capabilities: llm.Capabilities{Tools: true, Vision: true}},
	{ID: "o1-preview", DisplayName: "o1-preview (Copilot)", Capabilities: llm.Capabilities{Tools: false, Vision: false}},
}

// Provider is the GitHub Copilot llm.Provider implementation. Auth is
// two-layered: a long-lived GitHub token (obtained once via the device
// flow and stored as the credential's RefreshToken) is exchanged for a
// short-lived Copilot API token whenever the stored credential expires.
type Provider struct {
	helper  *providerutil.Helper
	pricing llm.PricingTable

	mu      sync.RWMutex
	apiBase string // learned from the token exchange response; defaultAPIBase until then
}

// New builds a Copilot Provider. The credential at store must already
// hold a device-flow GitHub token (see StartDeviceFlow/WaitForDeviceToken);
// the first ResolveCredential call exchanges it for a Copilot API token.
func New(store *credentials.Store, limiter *syncutil.RateLimiter) (*Provider, error) {
	httpClient, err := httpclient.New(60*time.Second, httpclient.SSRFInterceptor())
	if err != nil {
		return nil, err
	}
	p := &Provider{
		pricing: llm.DefaultPricing(),
		apiBase: defaultAPIBase,
	}
	p.helper = providerutil.NewHelper("copilot", store, httpClient, limiter)
	p.helper.Refresh = p.refresh
	return p, nil
}

// refresh exchanges the stored GitHub token for a fresh Copilot API
// token, updating the cached API base if the exchange reports one.
func (p *Provider) refresh(ctx context.Context, _ string, cred credentials.Credential) (credentials.Credential, error) {
	refreshed, apiBase, err := ExchangeGitHubToken(ctx, p.helper.HTTP.Underlying(), cred.RefreshToken)
	if err != nil {
		return credentials.Credential{}, err
	}
	p.mu.Lock()
	p.apiBase = apiBase
	p.mu.Unlock()
	return refreshed, nil
}

func (p *Provider) ID() string { return "copilot" }

func (p *Provider) ListModels(context.Context) ([]llm.ModelInfo, error) {
	return knownModels, nil
}

func (p *Provider) GetModel(ctx context.Context, id string) (llm.Model, error) {
	for _, m := range knownModels {
		if m.ID == id {
			return &model{provider: p, info: m}, nil
		}
	}
	return nil, errs.New(errs.InvalidParameters, "unknown copilot model: "+id)
}

func (p *Provider) HealthCheck(ctx context.Context) (llm.HealthStatus, error) {
	start := time.Now()
	_, err := p.helper.ResolveCredential(ctx, "")
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return llm.HealthStatus{Available: false, LatencyMS: latency, Error: errs.Redact(err.Error())}, nil
	}
	return llm.HealthStatus{Available: true, LatencyMS: latency}, nil
}

func (p *Provider) GetRateLimits(context.Context) (llm.RateLimits, error) {
	return llm.RateLimits{RequestsPerMinute: 30, TokensPerMinute: 45000, Concurrent: 4}, nil
}

func (p *Provider) GetUsage(context.Context) (llm.UsageStats, error) {
	return llm.UsageStats{}, nil
}

func (p *Provider) apiBaseURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.apiBase
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

func (m *model) CountTokens(_ context.Context, messages []llm.Message) (int, error) {
	total := 0
	for _, msg := range messages {
		total += len(msg.PlainText())
	}
	return total / 4, nil
}

// client resolves the current Copilot API token and returns an
// openai.Client pointed at Copilot's chat endpoint with the extra
// headers its gateway requires beyond a bearer token.
func (m *model) client(ctx context.Context) (*openai.Client, error) {
	cred, err := m.provider.helper.ResolveCredential(ctx, "")
	if err != nil {
		return nil, err
	}
	base := openai.NewClient(m.provider.apiBaseURL()+"/chat/completions", cred.AccessToken, 60*time.Second)
	return base.WithHeaders(map[string]string{
		"User-Agent":            userAgent,
		"Editor-Version":        editorVersion,
		"Editor-Plugin-Version": editorPlugin,
		"Openai-Intent":         "conversation-edits",
	}), nil
}

func (m *model) Generate(ctx context.Context, messages []llm.Message, options llm.GenerateOptions) (llm.GenerateResult, error) {
	if err := m.provider.helper.Limiter.Acquire(ctx, 1); err != nil {
		return llm.GenerateResult{}, errs.Wrap(errs.Aborted, err, "rate limiter wait")
	}
	client, err := m.client(ctx)
	if err != nil {
		return llm.GenerateResult{}, err
	}
	req := openai.BuildChatRequest(m.info.ID, messages, options)

	resp, err := client.ChatCompletions(ctx, req)
	if err != nil {
		return llm.GenerateResult{}, openai.ClassifyAPIError(err)
	}
	return openai.FromChatResponse(resp), nil
}

func (m *model) Stream(ctx context.Context, messages []llm.Message, options llm.GenerateOptions) (llm.ChunkStream, error) {
	if err := m.provider.helper.Limiter.Acquire(ctx, 1); err != nil {
		return nil, errs.Wrap(errs.Aborted, err, "rate limiter wait")
	}
	client, err := m.client(ctx)
	if err != nil {
		return nil, err
	}
	req := openai.BuildChatRequest(m.info.ID, messages, options)
	return openai.StreamChat(ctx, client, req), nil
}
