package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/codemesh/codemesh/internal/audit"
	"github.com/codemesh/codemesh/internal/eventbus"
	"github.com/codemesh/codemesh/internal/llm/openai"
	"github.com/codemesh/codemesh/internal/session"
)

// ToolContext provides shared context to tool implementations.
type ToolContext struct {
	// Sandbox enforces path allow/deny rules.
	Sandbox *Sandbox
	// CWD is the working directory for command tools.
	CWD string
	// SessionID identifies the current session for backups.
	SessionID string
	// Store persists session artifacts when available.
	Store *session.Store
	// TaskExecutor runs Task tool subtasks when configured.
	TaskExecutor TaskExecutor
	// TaskDepth tracks nested task execution depth.
	TaskDepth int
	// TaskMaxDepth caps nested task execution depth (0 disables nesting).
	TaskMaxDepth int
	// TaskManager tracks async task execution state.
	TaskManager *TaskManager
	// AllowElevatedRisk permits High/Critical-risk shell commands to run.
	// Set only after the caller has explicitly surfaced the risk reasons
	// to the user and received confirmation beyond the ordinary
	// ShouldPrompt gate.
	AllowElevatedRisk bool
	// Engine gates each tool call through the (resource, operation)
	// permission lookup chain (C8) before it runs. Nil disables the
	// check, leaving the pre-existing Sandbox/Permissions gates as the
	// only enforcement.
	Engine *Engine
	// CallerLevel is the level the caller presents to Engine.Check,
	// derived from the active permission mode.
	CallerLevel Level
	// UserID scopes per-user Engine overrides; empty means the default
	// caller identity.
	UserID string
	// MessageID associates a tool invocation with the assistant message
	// that requested it, recorded on the audit entry.
	MessageID string
}

// TaskRequest describes a subtask request issued via the Task tool.
type TaskRequest struct {
	// Prompt holds a single user prompt for the task.
	Prompt string
	// Messages optionally provide a full message history for the task.
	Messages []openai.Message
	// SystemPrompt optionally overrides the default system prompt.
	SystemPrompt string
	// Model overrides the default model when provided.
	Model string
	// MaxTurns overrides the default turn limit for the task.
	MaxTurns int
	// Metadata stores raw task payload fields for auditing.
	Metadata map[string]any
}

// TaskResult captures the output of a subtask execution.
type TaskResult struct {
	// Output is the final assistant text for the task.
	Output string
	// Metadata carries any extra metadata from execution.
	Metadata map[string]any
}

// TaskExecutor runs subtasks for the Task tool.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, request TaskRequest) (TaskResult, error)
}

// TaskExecutorFunc is a helper to build TaskExecutor instances from functions.
type TaskExecutorFunc func(ctx context.Context, request TaskRequest) (TaskResult, error)

// ExecuteTask calls the wrapped function.
func (fn TaskExecutorFunc) ExecuteTask(ctx context.Context, request TaskRequest) (TaskResult, error) {
	return fn(ctx, request)
}

// ToolResult is the result of a tool invocation: a title, free-form
// output text, and structured metadata a caller can consume without
// re-parsing Content (exit codes, byte counts, risk assessments,
// timestamps, and similar facts tools used to smuggle into Content as a
// bracketed string suffix).
type ToolResult struct {
	// Title is a short human-readable summary of what happened.
	Title string
	// Content holds the tool output payload.
	Content string
	// Metadata holds structured, tool-specific facts about the result as
	// a JSON object. Nil when a tool has nothing beyond Content/Title to
	// report.
	Metadata json.RawMessage
	// IsError reports whether the tool failed.
	IsError bool
}

// RiskAssessor is implemented by tools whose risk depends on their
// input (currently Bash); Runner uses it to pick the audit risk level
// instead of a flat default.
type RiskAssessor interface {
	AssessRisk(input json.RawMessage) audit.RiskLevel
}

// Tool defines a callable tool.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Run(ctx context.Context, input json.RawMessage, toolCtx ToolContext) (ToolResult, error)
}

// Runner executes tools with validation.
type Runner struct {
	// Tools stores tool implementations keyed by name.
	Tools map[string]Tool
	// Order preserves the deterministic tool ordering for output payloads.
	Order []string
	// Audit, if set, records a Started entry before each tool call and
	// seals it Completed/Failed/PermissionDenied once the call returns
	// (C10). Nil disables the audit trail.
	Audit *audit.Logger
	// Events, if set, publishes a lifecycle event for every call before
	// and after dispatch (C5). Nil disables publication.
	Events *eventbus.Bus
}

// LifecycleEvent is published on Events around every tool dispatch.
type LifecycleEvent struct {
	Kind      string // started, denied, completed, failed
	Tool      string
	SessionID string
	IsError   bool
}

// Type implements eventbus.Event.
func (e LifecycleEvent) Type() string { return "tool." + e.Kind }

func (r *Runner) publish(kind, name string, toolCtx ToolContext, isError bool) {
	if r.Events == nil {
		return
	}
	r.Events.Publish(LifecycleEvent{Kind: kind, Tool: name, SessionID: toolCtx.SessionID, IsError: isError})
}

// NewRunner constructs a tool runner.
func NewRunner(tools []Tool) *Runner {
	toolMap := make(map[string]Tool, len(tools))
	order := make([]string, 0, len(tools))
	for _, tool := range tools {
		if tool == nil {
			continue
		}
		name := tool.Name()
		if name == "" {
			continue
		}
		if _, exists := toolMap[name]; exists {
			continue
		}
		// Preserve input order while de-duplicating tool names.
		toolMap[name] = tool
		order = append(order, name)
	}
	return &Runner{Tools: toolMap, Order: order}
}

// ToolSpecs returns OpenAI-compatible tool definitions.
func (r *Runner) ToolSpecs() []openai.Tool {
	specs := make([]openai.Tool, 0, len(r.Tools))
	names := r.ToolNames()
	if len(names) == 0 {
		return specs
	}
	// Emit tool specs in the configured order for deterministic payloads.
	for _, name := range names {
		tool, ok := r.Tools[name]
		if !ok {
			continue
		}
		specs = append(specs, openai.Tool{
			Type: "function",
			Function: openai.ToolFunction{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Schema(),
			},
		})
	}
	return specs
}

// ToolNames returns the configured tool names in deterministic order.
func (r *Runner) ToolNames() []string {
	if r == nil {
		return nil
	}
	if len(r.Order) > 0 {
		// Copy to avoid mutating the runner's internal order.
		names := make([]string, 0, len(r.Order))
		names = append(names, r.Order...)
		return names
	}
	if len(r.Tools) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Tools))
	for name := range r.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes a tool by name: gates it through Engine.Check when an
// engine is configured, records Started/terminal audit entries, and
// publishes lifecycle events around the dispatch.
func (r *Runner) Run(ctx context.Context, name string, args json.RawMessage, toolCtx ToolContext) (ToolResult, error) {
	tool, ok := r.Tools[name]
	if !ok {
		return ToolResult{IsError: true, Content: fmt.Sprintf("tool not found: %s", name)}, nil
	}

	risk := audit.RiskLow
	if assessor, ok := tool.(RiskAssessor); ok {
		risk = assessor.AssessRisk(args)
	}

	var auditID string
	if r.Audit != nil {
		auditID = r.Audit.Start(ctx, audit.OperationToolInvocation, toolCtx.SessionID, toolCtx.MessageID, name, risk, args)
	}
	r.publish("started", name, toolCtx, false)

	if toolCtx.Engine != nil {
		resource, operation := ResourceOperation(name)
		var params map[string]any
		_ = json.Unmarshal(args, &params)
		permErr := toolCtx.Engine.Check(Context{
			UserID:       toolCtx.UserID,
			SessionID:    toolCtx.SessionID,
			WorkingDir:   toolCtx.CWD,
			Resource:     resource,
			Operation:    operation,
			Params:       params,
			CurrentLevel: toolCtx.CallerLevel,
		})
		if permErr != nil {
			if r.Audit != nil {
				r.Audit.Deny(auditID, permErr.Error())
			}
			r.publish("denied", name, toolCtx, true)
			return ToolResult{IsError: true, Content: permErr.Error()}, nil
		}
	}

	result, err := tool.Run(ctx, args, toolCtx)
	if err != nil {
		if r.Audit != nil {
			r.Audit.Fail(auditID, err)
		}
		r.publish("failed", name, toolCtx, true)
		return result, err
	}

	if r.Audit != nil {
		if result.IsError {
			r.Audit.Fail(auditID, errors.New(result.Content))
		} else {
			resultJSON, marshalErr := json.Marshal(struct {
				Title    string          `json:"title,omitempty"`
				Metadata json.RawMessage `json:"metadata,omitempty"`
			}{Title: result.Title, Metadata: result.Metadata})
			if marshalErr == nil {
				r.Audit.Complete(auditID, resultJSON)
			} else {
				r.Audit.Complete(auditID, nil)
			}
		}
	}
	r.publish("completed", name, toolCtx, result.IsError)
	return result, nil
}

// toolResourceOps maps tool names to the (resource, operation) pair
// Engine.Check evaluates them against. Tools not listed fall back to the
// wildcard resource and operation, which DefaultEngine resolves through
// its own default level.
var toolResourceOps = map[string][2]string{
	"Read":         {"file", "read"},
	"Glob":         {"file", "read"},
	"Grep":         {"file", "read"},
	"ListDir":      {"file", "read"},
	"Write":        {"file", "write"},
	"Edit":         {"file", "write"},
	"NotebookEdit": {"file", "write"},
	"Bash":         {"bash", "execute"},
	"WebFetch":     {"web", "fetch"},
	"WebSearch":    {"web", "fetch"},
}

// ResourceOperation returns the (resource, operation) pair Engine.Check
// should evaluate a tool call against.
func ResourceOperation(name string) (resource, operation string) {
	if pair, ok := toolResourceOps[name]; ok {
		return pair[0], pair[1]
	}
	return wildcard, wildcard
}

// FilterTools applies allow/deny constraints.
func FilterTools(tools []Tool, allowed []string, disallowed []string) ([]Tool, error) {
	allowedSet := toNameSet(allowed)
	disallowedSet := toNameSet(disallowed)

	var filtered []Tool
	for _, tool := range tools {
		name := tool.Name()
		if len(allowedSet) > 0 && !allowedSet[name] {
			continue
		}
		if disallowedSet[name] {
			continue
		}
		filtered = append(filtered, tool)
	}

	if len(filtered) == 0 {
		return nil, errors.New("no tools available after filtering")
	}
	return filtered, nil
}

// toNameSet converts a list of names to a lookup set.
func toNameSet(names []string) map[string]bool {
	set := make(map[string]bool)
	for _, name := range names {
		if name == "" {
			continue
		}
		set[name] = true
	}
	return set
}

// DefaultTools returns the built-in tool set in registration order.
// Only implemented tools are listed; no unsupportedTool stub is included.
func DefaultTools() []Tool {
	return []Tool{
		&TaskTool{},
		&TaskOutputTool{},
		&BashTool{},
		&GlobTool{},
		&GrepTool{},
		&ExitPlanModeTool{},
		&ReadTool{},
		&EditTool{},
		&WriteTool{},
		&NotebookEditTool{},
		&WebFetchTool{},
		&TodoWriteTool{},
		&WebSearchTool{},
		&TaskStopTool{},
		&AskUserQuestionTool{},
		&SkillTool{},
		&EnterPlanModeTool{},
	}
}
