// Package azure implements the Azure OpenAI provider adapter: the same
// chat/completions wire format as internal/llm/openai, addressed at a
// per-deployment URL instead of a flat /v1 root (§6).
package azure

import (
	"context"
	"fmt"
	"time"

	"github.com/codemesh/codemesh/internal/credentials"
	"github.com/codemesh/codemesh/internal/errs"
	"github.com/codemesh/codemesh/internal/llm"
	"github.com/codemesh/codemesh/internal/llm/openai"
	"github.com/codemesh/codemesh/internal/syncutil"
)

const defaultAPIVersion = "2024-06-01"

// Deployment maps a logical model id onto an Azure deployment name; Azure
// has no list-models endpoint of its own, so the set of available models
// is exactly the deployments the caller configures.
type Deployment struct {
	ModelID      string
	Name         string
	Capabilities llm.Capabilities
}

// Provider is the Azure OpenAI llm.Provider implementation.
type Provider struct {
	resourceURL string // e.g. "https://my-resource.openai.azure.com"
	apiVersion  string
	deployments []Deployment
	store       *credentials.Store
	limiter     *syncutil.RateLimiter
	pricing     llm.PricingTable
}

// New builds an azure Provider against resourceURL (the resource's base
// endpoint, no path) and the caller's configured deployments.
func New(resourceURL, apiVersion string, deployments []Deployment, store *credentials.Store, limiter *syncutil.RateLimiter) *Provider {
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	return &Provider{
		resourceURL: resourceURL,
		apiVersion:  apiVersion,
		deployments: deployments,
		store:       store,
		limiter:     limiter,
		pricing:     llm.DefaultPricing(),
	}
}

func (p *Provider) ID() string { return "azure" }

func (p *Provider) ListModels(context.Context) ([]llm.ModelInfo, error) {
	models := make([]llm.ModelInfo, 0, len(p.deployments))
	for _, d := range p.deployments {
		models = append(models, llm.ModelInfo{ID: d.ModelID, DisplayName: d.Name, Capabilities: d.Capabilities})
	}
	return models, nil
}

func (p *Provider) findDeployment(id string) (Deployment, bool) {
	for _, d := range p.deployments {
		if d.ModelID == id {
			return d, true
		}
	}
	return Deployment{}, false
}

func (p *Provider) GetModel(ctx context.Context, id string) (llm.Model, error) {
	d, ok := p.findDeployment(id)
	if !ok {
		return nil, errs.New(errs.InvalidParameters, "unknown azure deployment: "+id)
	}
	return &model{provider: p, deployment: d}, nil
}

func (p *Provider) resolveAPIKey(ctx context.Context) (string, error) {
	return openai.ResolveAPIKey(ctx, p.store, p.ID())
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

// deploymentURL builds the deployment-scoped chat/completions endpoint
// per §6: "/openai/deployments/{deployment}/chat/completions?api-version=…".
func (p *Provider) deploymentURL(deployment string) string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", p.resourceURL, deployment, p.apiVersion)
}

type model struct {
	provider   *Provider
	deployment Deployment
}

func (m *model) ID() string                    { return m.deployment.ModelID }
func (m *model) Capabilities() llm.Capabilities { return m.deployment.Capabilities }

func (m *model) EstimateCost(promptTokens, completionTokens int) float64 {
	return llm.EstimateCost(m.provider.pricing[m.deployment.ModelID], promptTokens, completionTokens)
}

func (m *model) CountTokens(_ context.Context, messages []llm.Message) (int, error) {
	total := 0
	for _, msg := range messages {
		total += len(msg.PlainText())
	}
	return total / 4, nil
}

// client builds an openai.Client pointed at this deployment's full URL.
// openai.Client.completionsURL reuses the baseURL verbatim once it
// already contains "/chat/completions", which the deployment URL does
// ahead of its "?api-version=" query string, so no further adaptation
// of the shared client is needed.
func (m *model) client(ctx context.Context) (*openai.Client, error) {
	key, err := m.provider.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	return openai.NewClient(m.provider.deploymentURL(m.deployment.Name), key, 60*time.Second), nil
}

func (m *model) Generate(ctx context.Context, messages []llm.Message, options llm.GenerateOptions) (llm.GenerateResult, error) {
	if err := m.provider.limiter.Acquire(ctx, 1); err != nil {
		return llm.GenerateResult{}, errs.Wrap(errs.Aborted, err, "rate limiter wait")
	}
	client, err := m.client(ctx)
	if err != nil {
		return llm.GenerateResult{}, err
	}
	req := openai.BuildChatRequest(m.deployment.Name, messages, options)

	resp, err := client.ChatCompletions(ctx, req)
	if err != nil {
		return llm.GenerateResult{}, openai.ClassifyAPIError(err)
	}
	return openai.FromChatResponse(resp), nil
}

func (m *model) Stream(ctx context.Context, messages []llm.Message, options llm.GenerateOptions) (llm.ChunkStream, error) {
	if err := m.provider.limiter.Acquire(ctx, 1); err != nil {
		return nil, errs.Wrap(errs.Aborted, err, "rate limiter wait")
	}
	client, err := m.client(ctx)
	if err != nil {
		return nil, err
	}
	req := openai.BuildChatRequest(m.deployment.Name, messages, options)
	return openai.StreamChat(ctx, client, req), nil
}
