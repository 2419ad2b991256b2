package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/codemesh/codemesh/internal/storage"
)

// Store manages session persistence under ~/.codemesh. Persistence itself
// goes through storage.Backend (the same uniform save/load/delete/list_keys
// abstraction credentials and audit records use); Store only owns the key
// layout and the session-specific read-modify-write and indexing logic a
// plain Backend doesn't provide.
type Store struct {
	// BaseDir is the root for all persisted data.
	BaseDir string

	backendOnce sync.Once
	backendErr  error
	backendImpl storage.Backend
}

// sessionIndexEntry records one session's id and last-write time, so
// ListSessions can return recency order without Backend exposing mtimes.
type sessionIndexEntry struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

const sessionIndexKey = "sessions/_index"

// NewStore constructs a Store using the default base directory.
func NewStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home dir: %w", err)
	}
	return &Store{BaseDir: filepath.Join(home, ".codemesh")}, nil
}

// ProjectHash returns a stable hash for the current workspace path.
func ProjectHash(path string) string {
	clean := filepath.Clean(path)
	sum := sha256.Sum256([]byte(clean))
	return hex.EncodeToString(sum[:8])
}

// backend lazily constructs the file-backed store rooted under BaseDir.
// Lazy construction keeps the zero-value-friendly "&Store{BaseDir: dir}"
// struct literal used throughout tests working without a constructor call.
func (s *Store) backend() (storage.Backend, error) {
	s.backendOnce.Do(func() {
		s.backendImpl, s.backendErr = storage.NewFileBackend(filepath.Join(s.BaseDir, "kv"))
	})
	return s.backendImpl, s.backendErr
}

func sessionEventsKey(sessionID string) string {
	return "sessions/" + sessionID + "/events"
}

func lastSessionKey(projectHash string) string {
	return "projects/" + projectHash + "/last_session"
}

func streamJSONKey(sessionID string) string {
	return "sessions/" + sessionID + "/stream_json"
}

// AppendEvent appends one JSON event to a session's event log and updates
// the session's recency entry in the index used by ListSessions. Backend
// has no native append primitive, so this is a load-append-save: fine at
// the size and concurrency a single CLI session produces.
func (s *Store) AppendEvent(sessionID string, event any) error {
	if sessionID == "" {
		return errors.New("session id required")
	}
	backend, err := s.backend()
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	ctx := context.Background()

	events, err := s.LoadEvents(sessionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load session events: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal session event: %w", err)
	}
	events = append(events, json.RawMessage(data))

	encoded, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal session events: %w", err)
	}
	if err := backend.Save(ctx, sessionEventsKey(sessionID), encoded); err != nil {
		return fmt.Errorf("write session events: %w", err)
	}

	if err := s.touchIndex(ctx, backend, sessionID); err != nil {
		return fmt.Errorf("update session index: %w", err)
	}
	return nil
}

// CloneSession copies a source session's recorded events onto a new
// session id, used when forking a conversation (--fork-session) so the
// fork starts from the same history without mutating the original.
func (s *Store) CloneSession(sourceSessionID, targetSessionID string) error {
	backend, err := s.backend()
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	ctx := context.Background()

	raw, err := backend.Load(ctx, sessionEventsKey(sourceSessionID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load source session: %w", err)
	}
	if err := backend.Save(ctx, sessionEventsKey(targetSessionID), raw); err != nil {
		return fmt.Errorf("write cloned session: %w", err)
	}
	if err := s.touchIndex(ctx, backend, targetSessionID); err != nil {
		return fmt.Errorf("update session index: %w", err)
	}
	return nil
}

// AppendStreamJSONLine appends one raw stream-json line to a session's
// replay log, stored independently from the structured event log so
// replay can serve exact original bytes.
func (s *Store) AppendStreamJSONLine(sessionID string, line string) error {
	if sessionID == "" {
		return errors.New("session id required")
	}
	backend, err := s.backend()
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	ctx := context.Background()

	lines, err := s.LoadStreamJSONLines(sessionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load stream-json lines: %w", err)
	}
	lines = append(lines, line)

	encoded, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("marshal stream-json lines: %w", err)
	}
	if err := backend.Save(ctx, streamJSONKey(sessionID), encoded); err != nil {
		return fmt.Errorf("write stream-json lines: %w", err)
	}
	return nil
}

// LoadStreamJSONLines reads all stream-json lines recorded for replay.
func (s *Store) LoadStreamJSONLines(sessionID string) ([]string, error) {
	backend, err := s.backend()
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	raw, err := backend.Load(context.Background(), streamJSONKey(sessionID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read stream-json lines: %w", err)
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, fmt.Errorf("decode stream-json lines: %w", err)
	}
	return lines, nil
}

// LoadEvents reads all events recorded for a session.
func (s *Store) LoadEvents(sessionID string) ([]json.RawMessage, error) {
	backend, err := s.backend()
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	raw, err := backend.Load(context.Background(), sessionEventsKey(sessionID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read session events: %w", err)
	}
	var events []json.RawMessage
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("decode session events: %w", err)
	}
	return events, nil
}

// SaveLastSession stores the last session id for a project hash.
func (s *Store) SaveLastSession(projectHash string, sessionID string) error {
	backend, err := s.backend()
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	if err := backend.Save(context.Background(), lastSessionKey(projectHash), []byte(sessionID)); err != nil {
		return fmt.Errorf("write last session: %w", err)
	}
	return nil
}

// LoadLastSession returns the last session id for a project hash.
func (s *Store) LoadLastSession(projectHash string) (string, error) {
	backend, err := s.backend()
	if err != nil {
		return "", fmt.Errorf("open session store: %w", err)
	}
	raw, err := backend.Load(context.Background(), lastSessionKey(projectHash))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ListSessions returns recent session ids sorted by modification time desc.
func (s *Store) ListSessions(limit int) ([]string, error) {
	backend, err := s.backend()
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	entries, err := s.loadIndex(context.Background(), backend)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		result = append(result, entry.ID)
	}
	return result, nil
}

// loadIndex reads the session recency index, treating a missing index as
// empty rather than an error (no session has ever been recorded yet).
func (s *Store) loadIndex(ctx context.Context, backend storage.Backend) ([]sessionIndexEntry, error) {
	raw, err := backend.Load(ctx, sessionIndexKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session index: %w", err)
	}
	var entries []sessionIndexEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode session index: %w", err)
	}
	return entries, nil
}

// touchIndex updates or inserts sessionID's recency entry and persists the
// index back through backend.
func (s *Store) touchIndex(ctx context.Context, backend storage.Backend, sessionID string) error {
	entries, err := s.loadIndex(ctx, backend)
	if err != nil {
		return err
	}

	now := time.Now()
	found := false
	for i := range entries {
		if entries[i].ID == sessionID {
			entries[i].UpdatedAt = now
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, sessionIndexEntry{ID: sessionID, UpdatedAt: now})
	}

	encoded, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}
	return backend.Save(ctx, sessionIndexKey, encoded)
}
