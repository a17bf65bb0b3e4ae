package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Storage keeps uploaded receipt images on disk so the pipeline can read
// them by path
type Storage interface {
	// Save stores data under a name derived from its content and returns
	// the absolute path
	Save(filename string, data []byte) (string, error)

	// Delete removes a stored file
	Delete(path string) error
}

// LocalStorage implements Storage on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage rooted at basePath
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolving upload directory: %w", err)
	}
	return &LocalStorage{basePath: abs}, nil
}

// Save writes data once per distinct content. Re-uploading identical bytes
// reuses the existing file so its modification time, and therefore its
// cache key, stays the same.
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:8]) + "_" + sanitizeFilename(filename)
	path := filepath.Join(l.basePath, name)

	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking upload: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("writing file: %w", err)
	}
	return path, nil
}

// Delete removes a file from local storage. Only paths inside the storage
// directory are accepted.
func (l *LocalStorage) Delete(path string) error {
	if filepath.Dir(filepath.Clean(path)) != l.basePath {
		return fmt.Errorf("deleting file: %s is outside %s", path, l.basePath)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if unsafeFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = filenameSpaces.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_")

	// Phone cameras produce long generated names
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}
