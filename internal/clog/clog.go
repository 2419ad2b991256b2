// Package clog provides the process-wide operational logger, distinct
// from the audit log (internal/audit): this is for human-facing
// subsystem diagnostics (llm.anthropic, tools.bash, agent, session),
// the audit log is a structured, append-only record of tool
// invocations. Built on github.com/hashicorp/go-hclog, matching the
// corpus's preference for a leveled/named logger over raw log.Printf.
package clog

import (
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	mu   sync.Mutex
	root hclog.Logger = hclog.New(&hclog.LoggerOptions{
		Name:  "codemesh",
		Level: hclog.Info,
	})
)

// Configure sets the root logger's level from a config/env string such
// as "debug", "info", "warn", "error". Unrecognized values keep Info.
func Configure(level string) {
	mu.Lock()
	defer mu.Unlock()
	root.SetLevel(levelFromString(level))
}

func levelFromString(level string) hclog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return hclog.Trace
	case "debug":
		return hclog.Debug
	case "warn", "warning":
		return hclog.Warn
	case "error":
		return hclog.Error
	case "off":
		return hclog.Off
	default:
		return hclog.Info
	}
}

func init() {
	if v := os.Getenv("CODE_MESH_LOG_LEVEL"); v != "" {
		Configure(v)
	}
}

// Root returns the process-wide root logger.
func Root() hclog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return root
}

// Named returns a child logger scoped to the given subsystem name, e.g.
// clog.Named("llm.anthropic").
func Named(name string) hclog.Logger {
	return Root().Named(name)
}
