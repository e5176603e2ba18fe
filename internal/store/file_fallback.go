package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileFallback 单文件JSON降级存储
type FileFallback struct {
	mu   sync.Mutex
	path string
	data map[Kind]map[string]Record
}

// NewFileFallback 打开（或创建）文件降级存储
func NewFileFallback(path string) (*FileFallback, error) {
	f := &FileFallback{
		path: path,
		data: map[Kind]map[string]Record{
			KindPayment:   {},
			KindClaimLink: {},
		},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("failed to read fallback file: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &f.data); err != nil {
			return nil, fmt.Errorf("failed to decode fallback file: %w", err)
		}
	}
	for _, kind := range []Kind{KindPayment, KindClaimLink} {
		if f.data[kind] == nil {
			f.data[kind] = map[string]Record{}
		}
	}

	return f, nil
}

func (f *FileFallback) Get(ctx context.Context, kind Kind, id string) (*Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.data[kind][id]
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (f *FileFallback) Put(ctx context.Context, kind Kind, id string, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.data[kind][id] = rec
	return f.persistLocked()
}

func (f *FileFallback) LoadAll(ctx context.Context, kind Kind) (map[string]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]Record, len(f.data[kind]))
	for id, rec := range f.data[kind] {
		out[id] = rec
	}
	return out, nil
}

func (f *FileFallback) MarkSynced(ctx context.Context, kind Kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.data[kind][id]
	if !ok {
		return ErrNotFound
	}
	rec.Synced = true
	f.data[kind][id] = rec
	return f.persistLocked()
}

// persistLocked 先写临时文件再改名，避免写一半的文件
func (f *FileFallback) persistLocked() error {
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create fallback dir: %w", err)
		}
	}

	raw, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode fallback data: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write fallback file: %w", err)
	}
	return os.Rename(tmp, f.path)
}
