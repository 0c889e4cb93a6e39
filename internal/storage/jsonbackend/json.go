package jsonbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/FranksOps/notewatch/internal/storage"
)

// ensure jsonBackend implements storage.Backend
var _ storage.Backend = (*jsonBackend)(nil)

type jsonBackend struct {
	mu   sync.Mutex
	path string
}

// New creates an NDJSON-backed storage.Backend: one row object per line.
// Save replaces the file contents.
func New(filePath string) (storage.Backend, error) {
	if filePath == "" {
		return nil, errors.New("jsonbackend: empty path")
	}
	return &jsonBackend{path: filePath}, nil
}

func (b *jsonBackend) Save(ctx context.Context, rows []storage.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("jsonbackend: mkdir: %w", err)
	}

	f, err := os.Create(b.path)
	if err != nil {
		return fmt.Errorf("jsonbackend: create: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("jsonbackend: encode: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("jsonbackend: flush: %w", err)
	}
	return f.Close()
}

func (b *jsonBackend) Query(ctx context.Context, filter storage.Filter) ([]storage.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []storage.Row{}, nil
		}
		return nil, fmt.Errorf("jsonbackend: open: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	out := []storage.Row{}
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var r storage.Row
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("jsonbackend: decode: %w", err)
		}
		if !filter.Match(r) {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("jsonbackend: scan: %w", err)
	}
	return out, nil
}

func (b *jsonBackend) Close() error {
	return nil
}
