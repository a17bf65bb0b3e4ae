package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// IndexFile is the name of the JSON index inside the cache directory
const IndexFile = "index.json"

type indexDocument struct {
	Version int               `json:"version"`
	Entries []json.RawMessage `json:"entries"`
}

// FileBackend keeps the cache index as one JSON document
type FileBackend struct {
	dir string
}

// NewFileBackend creates the cache directory if needed
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// NewFile creates a persistent cache stored under dir
func NewFile(dir string, opts Options) (*Cache, error) {
	backend, err := NewFileBackend(dir)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(backend, opts)
}

func (f *FileBackend) path() string {
	return filepath.Join(f.dir, IndexFile)
}

// Load reads the index. A missing or unreadable document yields an empty
// cache and corrupt entries are skipped.
func (f *FileBackend) Load() ([]*Item, error) {
	data, err := os.ReadFile(f.path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache index: %w", err)
	}

	var doc indexDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("Discarding unreadable cache index", "path", f.path(), "error", err)
		return nil, nil
	}
	return decodeEntries(doc.Entries), nil
}

// Save rewrites the index atomically
func (f *FileBackend) Save(entries []*Item) error {
	doc := indexDocument{Version: 1, Entries: make([]json.RawMessage, 0, len(entries))}
	for _, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling cache entry: %w", err)
		}
		doc.Entries = append(doc.Entries, raw)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling cache index: %w", err)
	}

	tmp := f.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing cache index: %w", err)
	}
	if err := os.Rename(tmp, f.path()); err != nil {
		return fmt.Errorf("replacing cache index: %w", err)
	}
	return nil
}

// Close is a no-op
func (f *FileBackend) Close() error {
	return nil
}

func decodeEntries(raws []json.RawMessage) []*Item {
	out := make([]*Item, 0, len(raws))
	for _, raw := range raws {
		e, ok := decodeEntry(raw)
		if !ok {
			slog.Warn("Skipping corrupt cache entry")
			continue
		}
		out = append(out, e)
	}
	return out
}

func decodeEntry(raw []byte) (*Item, bool) {
	var e Item
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false
	}
	if e.Key == "" || e.Result == nil || e.CreatedAt.IsZero() {
		return nil, false
	}
	if e.LastAccessed.IsZero() {
		e.LastAccessed = e.CreatedAt
	}
	return &e, true
}
