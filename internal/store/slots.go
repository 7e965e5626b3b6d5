// Package store keeps the active session durable across restarts. Slots is a
// small string key-value interface with SQLite and JSON-file backends, and
// Mirror maps a session record onto a fixed set of well-known keys.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// BackendSQLite stores slots in .director/state/director.db.
	BackendSQLite = "sqlite"
	// BackendFile stores slots in .director/state/slots.json.
	BackendFile = "file"
)

// Entry is one key/value pair written by Put.
type Entry struct {
	Key   string
	Value string
}

// Slots is a durable string key-value store. Put writes all entries or none.
type Slots interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, entries ...Entry) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Open returns the slot backend named by backend, rooted at stateDir.
func Open(backend, stateDir string) (Slots, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("store: state directory is required")
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSQLite:
		slots, err := OpenSQLite(filepath.Join(stateDir, "director.db"))
		if err != nil {
			return nil, err
		}
		return slots, nil
	case BackendFile:
		slots, err := NewFileSlots(filepath.Join(stateDir, "slots.json"))
		if err != nil {
			return nil, err
		}
		return slots, nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
}
