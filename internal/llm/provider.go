// Package llm defines the polymorphic provider/model interface (C6)
// shared by every concrete adapter (internal/llm/anthropic,
// internal/llm/openai, internal/llm/azure, internal/llm/copilot).
// Providers share request-shaping logic through the providerutil
// composition helper, not through a base-class hierarchy (§9).
package llm

import (
	"context"

	"github.com/codemesh/codemesh/internal/core"
)

// Message, GenerateOptions, GenerateResult, and StreamChunk are the
// shared provider-agnostic data model from internal/core; aliased here
// so adapter packages can depend on "llm" alone for their public
// surface.
type Message = core.Message
type GenerateOptions = core.GenerateOptions
type GenerateResult = core.GenerateResult
type ToolCall = core.ToolCall

// Capabilities flags what a Model supports.
type Capabilities struct {
	Tools   bool
	Vision  bool
	Caching bool
}

// ModelInfo describes one model a provider exposes.
type ModelInfo struct {
	ID           string
	DisplayName  string
	Capabilities Capabilities
}

// HealthStatus is the result of a provider health_check.
type HealthStatus struct {
	Available bool
	LatencyMS int64
	Error     string
}

// RateLimits reports a provider's currently known quota.
type RateLimits struct {
	RequestsPerMinute int
	TokensPerMinute   int
	Concurrent        int
}

// UsageStats reports accumulated usage for a provider.
type UsageStats struct {
	RequestCount int64
	PromptTokens int64
	OutputTokens int64
}

// Provider is the uniform interface every LLM provider adapter
// implements.
type Provider interface {
	ID() string
	ListModels(ctx context.Context) ([]ModelInfo, error)
	GetModel(ctx context.Context, id string) (Model, error)
	HealthCheck(ctx context.Context) (HealthStatus, error)
	GetRateLimits(ctx context.Context) (RateLimits, error)
	GetUsage(ctx context.Context) (UsageStats, error)
}

// StreamChunk re-exports core.StreamChunk's shape at the package
// boundary consumers of this interface use; see internal/core for the
// concrete type.
type StreamChunk = core.StreamChunk

// Model is one callable model exposed by a Provider.
type Model interface {
	ID() string
	Capabilities() Capabilities
	Generate(ctx context.Context, messages []Message, options GenerateOptions) (GenerateResult, error)
	Stream(ctx context.Context, messages []Message, options GenerateOptions) (ChunkStream, error)
	CountTokens(ctx context.Context, messages []Message) (int, error)
	EstimateCost(promptTokens, completionTokens int) float64
}

// ChunkStream is a pull-based iterator of stream chunks: Next blocks
// until the next chunk is available or the stream ends (ok=false).
type ChunkStream interface {
	Next(ctx context.Context) (chunk StreamChunk, ok bool, err error)
	Close() error
}
