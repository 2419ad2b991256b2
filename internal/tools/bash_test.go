package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/codemesh/codemesh/internal/audit"
)

func TestBashToolRunsSimpleCommand(t *testing.T) {
	tool := &BashTool{}
	payload, err := json.Marshal(map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	result, runErr := tool.Run(context.Background(), payload, ToolContext{CWD: t.TempDir()})
	if runErr != nil {
		t.Fatalf("run tool: %v", runErr)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}
	if !strings.Contains(result.Content, "<stdout>hello\n</stdout>") {
		t.Fatalf("unexpected output: %s", result.Content)
	}
	if !strings.Contains(string(result.Metadata), `"risk":"`+string(audit.RiskLow)+`"`) {
		t.Fatalf("expected low risk assessment in metadata, got: %s", result.Metadata)
	}
}

func TestBashToolAssessRiskMatchesClassifier(t *testing.T) {
	tool := &BashTool{}
	payload, err := json.Marshal(map[string]any{"command": "sudo reboot"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if got := tool.AssessRisk(payload); got != audit.RiskCritical {
		t.Fatalf("expected critical risk, got %s", got)
	}
}

func TestBashToolRejectsCriticalCommandWithoutAuthorization(t *testing.T) {
	tool := &BashTool{}
	payload, err := json.Marshal(map[string]any{"command": "rm -rf /tmp/whatever"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	result, runErr := tool.Run(context.Background(), payload, ToolContext{CWD: t.TempDir()})
	if runErr != nil {
		t.Fatalf("run tool: %v", runErr)
	}
	if !result.IsError {
		t.Fatalf("expected rm to be rejected outright")
	}
}

func TestBashToolAllowsCriticalCommandWithAuthorization(t *testing.T) {
	tool := &BashTool{}
	dir := t.TempDir()
	payload, err := json.Marshal(map[string]any{"command": "rm -rf " + dir + "/scratch"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	result, runErr := tool.Run(context.Background(), payload, ToolContext{CWD: dir, AllowElevatedRisk: true})
	if runErr != nil {
		t.Fatalf("run tool: %v", runErr)
	}
	if result.IsError {
		t.Fatalf("expected authorized critical command to run, got: %s", result.Content)
	}
}

func TestBashToolRejectsInjectionBlacklist(t *testing.T) {
	tool := &BashTool{}
	payload, err := json.Marshal(map[string]any{"command": "echo hi; rm -rf /"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	result, runErr := tool.Run(context.Background(), payload, ToolContext{CWD: t.TempDir()})
	if runErr != nil {
		t.Fatalf("run tool: %v", runErr)
	}
	if !result.IsError {
		t.Fatalf("expected blacklisted pattern to be rejected")
	}
}

func TestBashToolRejectsWorkingDirEscapingSessionRoot(t *testing.T) {
	tool := &BashTool{}
	payload, err := json.Marshal(map[string]any{
		"command":            "echo hi",
		"working_directory": "../../etc",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	result, runErr := tool.Run(context.Background(), payload, ToolContext{CWD: t.TempDir()})
	if runErr != nil {
		t.Fatalf("run tool: %v", runErr)
	}
	if !result.IsError {
		t.Fatalf("expected escaping working directory to be rejected")
	}
}

func TestBashToolTimesOut(t *testing.T) {
	tool := &BashTool{}
	payload, err := json.Marshal(map[string]any{"command": "sleep 5", "timeout": 50})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	_, runErr := tool.Run(context.Background(), payload, ToolContext{CWD: t.TempDir()})
	if runErr == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestClassifyCommandDetectsSudoAsCritical(t *testing.T) {
	assessment := classifyCommand("sudo reboot")
	if assessment.Level != audit.RiskCritical {
		t.Fatalf("expected critical risk for sudo, got %s", assessment.Level)
	}
}

func TestClassifyCommandRmIsCriticalRegardlessOfGlob(t *testing.T) {
	// "rm" is on the denied list by itself, so this is already Critical;
	// the rm+glob signal only matters for a leading token that isn't
	// already denied outright.
	assessment := classifyCommand("rm -rf ./build/*.o")
	if assessment.Level != audit.RiskCritical {
		t.Fatalf("expected critical risk (denied leading token), got %s", assessment.Level)
	}
}

func TestClassifyCommandDetectsShellMetacharactersAsMedium(t *testing.T) {
	assessment := classifyCommand("echo hi && echo bye")
	if assessment.Level != audit.RiskMedium {
		t.Fatalf("expected medium risk for shell metacharacters, got %s", assessment.Level)
	}
	if !assessment.RequiresPermission {
		t.Fatalf("expected medium risk to require permission")
	}
}

func TestSanitizedEnvironDropsDangerousVars(t *testing.T) {
	env := sanitizedEnviron(map[string]string{"LD_PRELOAD": "evil.so", "FOO": "bar"})
	for _, kv := range env {
		if strings.HasPrefix(kv, "LD_PRELOAD=") {
			t.Fatalf("expected LD_PRELOAD to be dropped, got %s", kv)
		}
	}
	found := false
	for _, kv := range env {
		if kv == "PATH="+sanitizedPath {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected PATH to be restricted to %s", sanitizedPath)
	}
}

func TestCapOutputSplitsSeventyFiveTwentyFive(t *testing.T) {
	big := strings.Repeat("a", maxCommandOutput)
	outStr, errStr, truncated := capOutput(big, big)
	if !truncated {
		t.Fatalf("expected truncation")
	}
	if len(outStr) > maxCommandOutput*3/4+len("\n...[truncated]") {
		t.Fatalf("stdout exceeds its 75%% share: %d bytes", len(outStr))
	}
	if len(errStr) > maxCommandOutput/4+len("\n...[truncated]") {
		t.Fatalf("stderr exceeds its 25%% share: %d bytes", len(errStr))
	}
}
