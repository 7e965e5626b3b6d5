package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileSlots keeps every slot in one JSON document on disk.
type FileSlots struct {
	path string
	mu   sync.Mutex
}

// NewFileSlots creates a file-backed slot store at path.
func NewFileSlots(path string) (*FileSlots, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: slot file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: ensure state dir: %w", err)
	}
	return &FileSlots{path: path}, nil
}

// Path returns the backing file.
func (f *FileSlots) Path() string {
	return f.path
}

// Get returns the value stored under key.
func (f *FileSlots) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return "", false, err
	}
	value, ok := values[key]
	return value, ok, nil
}

// Put writes all entries with a single file replacement.
func (f *FileSlots) Put(_ context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	values, _, err := f.loadForWrite()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if strings.TrimSpace(entry.Key) == "" {
			return fmt.Errorf("store: slot key is required")
		}
		values[entry.Key] = entry.Value
	}
	return f.save(values)
}

// Delete removes keys; missing keys are ignored. An unreadable document is
// treated as empty, so deleting from it always succeeds.
func (f *FileSlots) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, changed, err := f.loadForWrite()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, ok := values[key]; ok {
			delete(values, key)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if len(values) == 0 {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("store: remove %s: %w", f.path, err)
		}
		return nil
	}
	return f.save(values)
}

// Close is a no-op; the file is opened per operation.
func (f *FileSlots) Close() error {
	return nil
}

func (f *FileSlots) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", f.path, err)
	}
	values := map[string]string{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrCorruptRecord, f.path, err)
	}
	return values, nil
}

// loadForWrite is load for Put and Delete. A document that no longer parses
// is dropped so the write replaces it; dropped reports that it happened.
func (f *FileSlots) loadForWrite() (values map[string]string, dropped bool, err error) {
	values, err = f.load()
	if errors.Is(err, ErrCorruptRecord) {
		return map[string]string{}, true, nil
	}
	return values, false, err
}

// save writes to a temp file and renames it over the target so a crash never
// leaves a half-written document.
func (f *FileSlots) save(values map[string]string) error {
	encoded, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode slots: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".slots-*.json")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(encoded, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: replace %s: %w", f.path, err)
	}
	return nil
}
