package storage

import (
	"context"
	"strings"
	"sync"
)

// BrowserArea selects which Web Storage area a BrowserBackend models.
type BrowserArea string

const (
	LocalStorage   BrowserArea = "local"
	SessionStorage BrowserArea = "session"
)

// BrowserStorageDriver is the minimal surface a host environment provides
// for window.localStorage/window.sessionStorage. A native build has no
// real implementation of this; BrowserBackend exists so the browser
// front-end collaborator can supply one without the core depending on
// any JS/WASM interop package.
type BrowserStorageDriver interface {
	GetItem(key string) (string, bool)
	SetItem(key string, value string)
	RemoveItem(key string)
	Keys() []string
}

// BrowserBackend adapts a BrowserStorageDriver (local or session storage)
// to the Backend interface. credentials.New accepts it like any other
// Backend; session.Store always opens a FileBackend and does not use it.
type BrowserBackend struct {
	mu     sync.Mutex
	area   BrowserArea
	driver BrowserStorageDriver
}

// NewBrowserBackend wraps driver for the given storage area.
func NewBrowserBackend(area BrowserArea, driver BrowserStorageDriver) *BrowserBackend {
	return &BrowserBackend{area: area, driver: driver}
}

func (b *BrowserBackend) Save(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.driver.SetItem(key, string(value))
	return nil
}

func (b *BrowserBackend) Load(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.driver.GetItem(key)
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

func (b *BrowserBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.driver.RemoveItem(key)
	return nil
}

func (b *BrowserBackend) ListKeys(_ context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for _, k := range b.driver.Keys() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
