package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStartThenCompleteSealsEntry(t *testing.T) {
	l, err := NewLogger(Config{})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()

	id := l.Start(context.Background(), OperationToolInvocation, "sess-1", "msg-1", "bash", RiskMedium, json.RawMessage(`{"command":"echo hi"}`))

	entry, ok := l.Get(id)
	if !ok || entry.Status != StatusStarted {
		t.Fatalf("expected Started entry, got %+v ok=%v", entry, ok)
	}

	l.Complete(id, json.RawMessage(`{"stdout":"hi\n"}`))

	entry, ok = l.Get(id)
	if !ok {
		t.Fatalf("entry vanished after Complete")
	}
	if entry.Status != StatusCompleted {
		t.Fatalf("status = %s, want Completed", entry.Status)
	}
	if entry.ExecutionMS < 0 {
		t.Fatalf("expected non-negative execution_ms, got %d", entry.ExecutionMS)
	}
}

func TestSecondTerminalUpdateIsRejected(t *testing.T) {
	l, err := NewLogger(Config{})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()

	id := l.Start(context.Background(), OperationToolInvocation, "sess-1", "", "bash", RiskLow, nil)
	l.Complete(id, json.RawMessage(`{"ok":true}`))
	l.Fail(id, errTest("should not apply"))

	entry, _ := l.Get(id)
	if entry.Status != StatusCompleted {
		t.Fatalf("second terminal update overwrote the seal: status = %s", entry.Status)
	}
}

func TestFileSinkWritesOneJSONLinePerWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	l, err := NewLogger(Config{FilePath: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	id := l.Start(context.Background(), OperationPermissionCheck, "sess-2", "", "web_fetch", RiskHigh, nil)
	l.Deny(id, "domain not allow-listed")
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines (Started + sealed), got %d: %q", len(lines), data)
	}
	var sealed Entry
	if err := json.Unmarshal([]byte(lines[1]), &sealed); err != nil {
		t.Fatalf("unmarshal sealed line: %v", err)
	}
	if sealed.Status != StatusPermissionDenied || sealed.Error != "domain not allow-listed" {
		t.Fatalf("unexpected sealed entry: %+v", sealed)
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
