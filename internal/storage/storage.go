// Package storage implements the uniform key→value JSON store (C4) used
// by credentials, sessions, audit records, and memory/cache data: a
// polymorphic Backend with in-memory, file-backed, browser, and
// optional SQLite implementations.
package storage

import "context"

// Backend is a uniform save/load/delete/list_keys(prefix) store over raw
// JSON values. Implementations are interchangeable across native and
// browser builds.
type Backend interface {
	Save(ctx context.Context, key string, value []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// ErrNotFound is returned by Load when key does not exist.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "storage: key not found" }
