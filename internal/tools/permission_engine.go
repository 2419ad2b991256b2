package tools

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/codemesh/codemesh/internal/errs"
)

// Level is one of six ordered access levels. Comparisons use the plain
// integer ordering (None < Read < Restricted < Standard < Elevated < Admin).
type Level int

const (
	LevelNone Level = iota
	LevelRead
	LevelRestricted
	LevelStandard
	LevelElevated
	LevelAdmin
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelRead:
		return "read"
	case LevelRestricted:
		return "restricted"
	case LevelStandard:
		return "standard"
	case LevelElevated:
		return "elevated"
	case LevelAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return LevelNone, nil
	case "read":
		return LevelRead, nil
	case "restricted":
		return LevelRestricted, nil
	case "standard":
		return LevelStandard, nil
	case "elevated":
		return LevelElevated, nil
	case "admin":
		return LevelAdmin, nil
	default:
		return LevelNone, errs.New(errs.InvalidParameters, fmt.Sprintf("invalid permission level: %s", s))
	}
}

// wildcard is the catch-all resource/operation key in the lookup chain.
const wildcard = "*"

// Constraint narrows a Permission beyond its level check.
type Constraint interface {
	check(ctx *Context) error
}

// PathConstraint restricts the params["path"] value to an allow/deny glob list.
// Denied patterns are checked first and win over allowed ones.
type PathConstraint struct {
	Allowed []string
	Denied  []string
}

func (c PathConstraint) check(ctx *Context) error {
	raw, ok := ctx.Params["path"].(string)
	if !ok || raw == "" {
		return nil
	}
	target := raw
	if !filepath.IsAbs(target) {
		target = filepath.Join(ctx.WorkingDir, target)
	}
	target = filepath.Clean(target)

	if resolved, err := filepath.EvalSymlinks(target); err == nil {
		if !withinDir(resolved, ctx.WorkingDir) && !anyPatternMatches(c.Allowed, resolved) {
			return errs.New(errs.PermissionDenied, fmt.Sprintf("path %s resolves outside the working directory via a symlink", target))
		}
	}

	for _, pattern := range c.Denied {
		if matchesGlob(pattern, target) {
			return errs.New(errs.PermissionDenied, fmt.Sprintf("path %s is denied by pattern %s", target, pattern))
		}
	}
	if len(c.Allowed) > 0 && !anyPatternMatches(c.Allowed, target) {
		return errs.New(errs.PermissionDenied, fmt.Sprintf("path %s is not allowed by any pattern", target))
	}
	return nil
}

func anyPatternMatches(patterns []string, target string) bool {
	for _, pattern := range patterns {
		if matchesGlob(pattern, target) {
			return true
		}
	}
	return false
}

func matchesGlob(pattern, target string) bool {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return false
	}
	return g.Match(target)
}

func withinDir(target, dir string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}

// SizeConstraint rejects params["size"] values above MaxBytes.
type SizeConstraint struct {
	MaxBytes int64
}

func (c SizeConstraint) check(ctx *Context) error {
	size, ok := intParam(ctx.Params["size"])
	if !ok {
		return nil
	}
	if size > c.MaxBytes {
		return errs.New(errs.PermissionDenied, fmt.Sprintf("size %d exceeds maximum allowed size %d", size, c.MaxBytes))
	}
	return nil
}

// TimeConstraint rejects params["duration_ms"] values above MaxDuration.
type TimeConstraint struct {
	MaxDuration int64 // milliseconds
}

func (c TimeConstraint) check(ctx *Context) error {
	duration, ok := intParam(ctx.Params["duration_ms"])
	if !ok {
		return nil
	}
	if duration > c.MaxDuration {
		return errs.New(errs.PermissionDenied, fmt.Sprintf("duration %dms exceeds maximum allowed duration %dms", duration, c.MaxDuration))
	}
	return nil
}

// NetworkConstraint gates params["host"] against an allow/deny host list.
// Denied hosts are matched first; if AllowedHosts is non-empty the host
// must match one of them too. Matching is substring-based, mirroring the
// teacher's other host-matching code, and is a policy layer in addition
// to (not instead of) the SSRF guard applied to the actual HTTP client.
type NetworkConstraint struct {
	Allowed      bool
	AllowedHosts []string
	DeniedHosts  []string
}

func (c NetworkConstraint) check(ctx *Context) error {
	if !c.Allowed {
		if _, wantsNetwork := ctx.Params["network"]; wantsNetwork {
			return errs.New(errs.PermissionDenied, "network access is not allowed")
		}
	}
	host, ok := ctx.Params["host"].(string)
	if !ok || host == "" {
		return nil
	}
	for _, denied := range c.DeniedHosts {
		if denied != "" && strings.Contains(host, denied) {
			return errs.New(errs.PermissionDenied, fmt.Sprintf("host %s is denied", host))
		}
	}
	if len(c.AllowedHosts) > 0 {
		for _, allowed := range c.AllowedHosts {
			if allowed != "" && strings.Contains(host, allowed) {
				return nil
			}
		}
		return errs.New(errs.PermissionDenied, fmt.Sprintf("host %s is not in the allowed hosts list", host))
	}
	return nil
}

// ResourceConstraint bounds params["memory_mb"] and params["cpu_percent"].
type ResourceConstraint struct {
	MaxMemoryMB   int64 // 0 means unbounded
	MaxCPUPercent int   // 0 means unbounded
}

func (c ResourceConstraint) check(ctx *Context) error {
	if c.MaxMemoryMB > 0 {
		if mem, ok := intParam(ctx.Params["memory_mb"]); ok && mem > c.MaxMemoryMB {
			return errs.New(errs.PermissionDenied, fmt.Sprintf("memory usage %dMB exceeds maximum %dMB", mem, c.MaxMemoryMB))
		}
	}
	if c.MaxCPUPercent > 0 {
		if cpu, ok := intParam(ctx.Params["cpu_percent"]); ok && cpu > int64(c.MaxCPUPercent) {
			return errs.New(errs.PermissionDenied, fmt.Sprintf("cpu usage %d%% exceeds maximum %d%%", cpu, c.MaxCPUPercent))
		}
	}
	return nil
}

func intParam(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// Permission is the level and constraints required for one (resource, operation) pair.
type Permission struct {
	Resource    string
	Operation   string
	Level       Level
	Constraints []Constraint
}

// Context carries everything the engine needs to evaluate one request.
type Context struct {
	UserID       string
	SessionID    string
	WorkingDir   string
	Resource     string
	Operation    string
	Params       map[string]any
	CurrentLevel Level
}

// WithParam returns a copy of ctx with key set in Params.
func (ctx Context) WithParam(key string, value any) Context {
	next := ctx
	next.Params = make(map[string]any, len(ctx.Params)+1)
	for k, v := range ctx.Params {
		next.Params[k] = v
	}
	next.Params[key] = value
	return next
}

// Engine looks up the required level for a (resource, operation) pair via
// the wildcard chain (resource, operation) -> (resource, *) -> (*, operation)
// -> (*, *), compares it against the caller's level (with per-user
// overrides), and evaluates any attached constraints.
type Engine struct {
	mu                  sync.RWMutex
	defaultLevel        Level
	resourcePermissions map[string]map[string]Permission
	userPermissions     map[string]map[string]Level
	globalConstraints   []Constraint
}

// NewEngine creates an engine with the given fallback level for
// (resource, operation) pairs that have no registered rule.
func NewEngine(defaultLevel Level) *Engine {
	return &Engine{
		defaultLevel:        defaultLevel,
		resourcePermissions: make(map[string]map[string]Permission),
		userPermissions:     make(map[string]map[string]Level),
	}
}

// AddPermission registers a rule for one (resource, operation) pair. Use
// the wildcard "*" for either field to match any resource/operation.
func (e *Engine) AddPermission(p Permission) {
	e.mu.Lock()
	defer e.mu.Unlock()
	byOp, ok := e.resourcePermissions[p.Resource]
	if !ok {
		byOp = make(map[string]Permission)
		e.resourcePermissions[p.Resource] = byOp
	}
	byOp[p.Operation] = p
}

// SetUserLevel overrides a user's level for a resource ("*" for all resources).
func (e *Engine) SetUserLevel(userID, resource string, level Level) {
	e.mu.Lock()
	defer e.mu.Unlock()
	byResource, ok := e.userPermissions[userID]
	if !ok {
		byResource = make(map[string]Level)
		e.userPermissions[userID] = byResource
	}
	byResource[resource] = level
}

// AddGlobalConstraint registers a constraint checked on every request,
// regardless of which (resource, operation) rule applies.
func (e *Engine) AddGlobalConstraint(c Constraint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globalConstraints = append(e.globalConstraints, c)
}

// Check reports whether ctx is permitted: the caller's level must meet or
// exceed the required level, and every applicable constraint must pass.
func (e *Engine) Check(ctx Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	required := e.requiredLevelLocked(ctx.Resource, ctx.Operation)
	userLevel := e.userLevelLocked(ctx)
	if userLevel < required {
		return errs.New(errs.PermissionDenied, fmt.Sprintf(
			"operation %q on resource %q requires level %s, caller has %s",
			ctx.Operation, ctx.Resource, required, userLevel))
	}

	for _, c := range e.globalConstraints {
		if err := c.check(&ctx); err != nil {
			return err
		}
	}
	if perm, ok := e.lookupLocked(ctx.Resource, ctx.Operation); ok {
		for _, c := range perm.Constraints {
			if err := c.check(&ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) requiredLevelLocked(resource, operation string) Level {
	if perm, ok := e.lookupLocked(resource, operation); ok {
		return perm.Level
	}
	return e.defaultLevel
}

// lookupLocked implements the (resource, operation) -> (resource, *) ->
// (*, operation) -> (*, *) chain. Callers must hold at least a read lock.
func (e *Engine) lookupLocked(resource, operation string) (Permission, bool) {
	if byOp, ok := e.resourcePermissions[resource]; ok {
		if perm, ok := byOp[operation]; ok {
			return perm, true
		}
		if perm, ok := byOp[wildcard]; ok {
			return perm, true
		}
	}
	if byOp, ok := e.resourcePermissions[wildcard]; ok {
		if perm, ok := byOp[operation]; ok {
			return perm, true
		}
		if perm, ok := byOp[wildcard]; ok {
			return perm, true
		}
	}
	return Permission{}, false
}

func (e *Engine) userLevelLocked(ctx Context) Level {
	if byResource, ok := e.userPermissions[ctx.UserID]; ok {
		if level, ok := byResource[ctx.Resource]; ok {
			return level
		}
		if level, ok := byResource[wildcard]; ok {
			return level
		}
	}
	return ctx.CurrentLevel
}

// DefaultEngine builds the engine pre-populated with the baseline rules
// every session starts from: read-only file access, bounded file writes,
// network-restricted shell execution, and SSRF-aware web fetches.
func DefaultEngine() *Engine {
	e := NewEngine(LevelRestricted)

	e.AddPermission(Permission{
		Resource: "file", Operation: "read", Level: LevelRead,
	})
	e.AddPermission(Permission{
		Resource: "file", Operation: "write", Level: LevelStandard,
		Constraints: []Constraint{SizeConstraint{MaxBytes: 10 * 1024 * 1024}},
	})
	e.AddPermission(Permission{
		Resource: "bash", Operation: "execute", Level: LevelElevated,
		Constraints: []Constraint{
			TimeConstraint{MaxDuration: 120_000},
			NetworkConstraint{Allowed: false},
		},
	})
	e.AddPermission(Permission{
		Resource: "web", Operation: "fetch", Level: LevelStandard,
		Constraints: []Constraint{
			NetworkConstraint{Allowed: true, DeniedHosts: []string{"localhost", "127.0.0.1"}},
		},
	})
	return e
}
