package session

import (
	"testing"
)

// TestStoreAppendAndLoadEvents verifies event round-tripping through the backend.
func TestStoreAppendAndLoadEvents(testingHandle *testing.T) {
	store := &Store{BaseDir: testingHandle.TempDir()}

	if err := store.AppendEvent("session-1", map[string]any{"type": "message", "text": "hi"}); err != nil {
		testingHandle.Fatalf("append event: %v", err)
	}
	if err := store.AppendEvent("session-1", map[string]any{"type": "message", "text": "there"}); err != nil {
		testingHandle.Fatalf("append second event: %v", err)
	}

	events, err := store.LoadEvents("session-1")
	if err != nil {
		testingHandle.Fatalf("load events: %v", err)
	}
	if len(events) != 2 {
		testingHandle.Fatalf("expected 2 events, got %d", len(events))
	}
}

// TestStoreLoadEventsMissingSession verifies the not-found error propagates.
func TestStoreLoadEventsMissingSession(testingHandle *testing.T) {
	store := &Store{BaseDir: testingHandle.TempDir()}
	if _, err := store.LoadEvents("does-not-exist"); err == nil {
		testingHandle.Fatalf("expected error loading events for a missing session")
	}
}

// TestStoreLastSessionRoundTrip verifies project-scoped last-session tracking.
func TestStoreLastSessionRoundTrip(testingHandle *testing.T) {
	store := &Store{BaseDir: testingHandle.TempDir()}
	hash := ProjectHash("/tmp/project")

	if err := store.SaveLastSession(hash, "session-9"); err != nil {
		testingHandle.Fatalf("save last session: %v", err)
	}
	got, err := store.LoadLastSession(hash)
	if err != nil {
		testingHandle.Fatalf("load last session: %v", err)
	}
	if got != "session-9" {
		testingHandle.Fatalf("expected session-9, got %s", got)
	}
}

// TestStoreListSessionsOrdersByRecency verifies ListSessions returns the most
// recently touched session first.
func TestStoreListSessionsOrdersByRecency(testingHandle *testing.T) {
	store := &Store{BaseDir: testingHandle.TempDir()}

	if err := store.AppendEvent("older", map[string]any{"type": "message"}); err != nil {
		testingHandle.Fatalf("append older event: %v", err)
	}
	if err := store.AppendEvent("newer", map[string]any{"type": "message"}); err != nil {
		testingHandle.Fatalf("append newer event: %v", err)
	}
	// Touch "older" again so it becomes the most recent entry.
	if err := store.AppendEvent("older", map[string]any{"type": "message"}); err != nil {
		testingHandle.Fatalf("re-append older event: %v", err)
	}

	ids, err := store.ListSessions(10)
	if err != nil {
		testingHandle.Fatalf("list sessions: %v", err)
	}
	if len(ids) != 2 || ids[0] != "older" || ids[1] != "newer" {
		testingHandle.Fatalf("unexpected session order: %v", ids)
	}
}

// TestStoreListSessionsEmptyWhenUntouched verifies a fresh BaseDir with no
// sessions reports an empty list rather than an error.
func TestStoreListSessionsEmptyWhenUntouched(testingHandle *testing.T) {
	store := &Store{BaseDir: testingHandle.TempDir()}
	ids, err := store.ListSessions(10)
	if err != nil {
		testingHandle.Fatalf("list sessions: %v", err)
	}
	if len(ids) != 0 {
		testingHandle.Fatalf("expected no sessions, got %v", ids)
	}
}

// TestStoreCloneSession verifies a cloned session carries the source's events.
func TestStoreCloneSession(testingHandle *testing.T) {
	store := &Store{BaseDir: testingHandle.TempDir()}
	if err := store.AppendEvent("source", map[string]any{"type": "message", "text": "hi"}); err != nil {
		testingHandle.Fatalf("append event: %v", err)
	}

	if err := store.CloneSession("source", "fork"); err != nil {
		testingHandle.Fatalf("clone session: %v", err)
	}

	events, err := store.LoadEvents("fork")
	if err != nil {
		testingHandle.Fatalf("load cloned events: %v", err)
	}
	if len(events) != 1 {
		testingHandle.Fatalf("expected 1 cloned event, got %d", len(events))
	}

	ids, err := store.ListSessions(10)
	if err != nil {
		testingHandle.Fatalf("list sessions: %v", err)
	}
	if len(ids) != 2 {
		testingHandle.Fatalf("expected both sessions listed, got %v", ids)
	}
}

// TestStoreAppendAndLoadStreamJSONLines verifies stream-json replay persistence.
func TestStoreAppendAndLoadStreamJSONLines(testingHandle *testing.T) {
	store := &Store{BaseDir: testingHandle.TempDir()}
	if err := store.AppendStreamJSONLine("session-1", `{"type":"user"}`); err != nil {
		testingHandle.Fatalf("append stream-json line: %v", err)
	}
	if err := store.AppendStreamJSONLine("session-1", `{"type":"assistant"}`); err != nil {
		testingHandle.Fatalf("append second stream-json line: %v", err)
	}

	lines, err := store.LoadStreamJSONLines("session-1")
	if err != nil {
		testingHandle.Fatalf("load stream-json lines: %v", err)
	}
	if len(lines) != 2 {
		testingHandle.Fatalf("expected 2 lines, got %d", len(lines))
	}
}
