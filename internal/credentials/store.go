package credentials

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/codemesh/codemesh/internal/errs"
	"github.com/codemesh/codemesh/internal/storage"
)

// Store persists Credential values keyed by provider-id, backed by a
// storage.Backend (C4). Get, Set and Remove take no lock of their own;
// RefreshLock hands out one mutex per provider so that concurrent
// refreshes for the same provider are serialized (per the §5
// shared-resource policy).
type Store struct {
	backend storage.Backend

	mu           sync.RWMutex
	refreshLocks map[string]*sync.Mutex
}

// New builds a Store over the given backend.
func New(backend storage.Backend) *Store {
	return &Store{backend: backend, refreshLocks: make(map[string]*sync.Mutex)}
}

// Get returns the credential stored for providerID.
func (s *Store) Get(ctx context.Context, providerID string) (Credential, error) {
	raw, err := s.backend.Load(ctx, key(providerID))
	if err == storage.ErrNotFound {
		return Credential{}, errs.New(errs.AuthenticationFailed, "no credential stored for provider "+providerID)
	}
	if err != nil {
		return Credential{}, errs.Wrap(errs.Io, err, "load credential")
	}
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return Credential{}, errs.Wrap(errs.Io, err, "decode credential")
	}
	return cred, nil
}

// Set stores cred for providerID, overwriting any existing value.
func (s *Store) Set(ctx context.Context, providerID string, cred Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return errs.Wrap(errs.Io, err, "encode credential")
	}
	if err := s.backend.Save(ctx, key(providerID), raw); err != nil {
		return errs.Wrap(errs.Io, err, "save credential")
	}
	return nil
}

// Remove deletes the credential for providerID, if any.
func (s *Store) Remove(ctx context.Context, providerID string) error {
	if err := s.backend.Delete(ctx, key(providerID)); err != nil {
		return errs.Wrap(errs.Io, err, "remove credential")
	}
	return nil
}

// Has reports whether a credential is stored for providerID.
func (s *Store) Has(ctx context.Context, providerID string) bool {
	_, err := s.backend.Load(ctx, key(providerID))
	return err == nil
}

// RefreshLock returns the mutex guarding refreshes for providerID,
// creating it on first use. Callers performing an OAuth refresh round
// trip should hold this for the duration of the refresh-then-write.
func (s *Store) RefreshLock(providerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.refreshLocks[providerID]
	if !ok {
		m = &sync.Mutex{}
		s.refreshLocks[providerID] = m
	}
	return m
}

func key(providerID string) string {
	return "auth/" + providerID
}
