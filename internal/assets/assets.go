// Package assets stores generated media on local disk and serves it over HTTP.
package assets

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// URLPrefix is the route the asset directory is mounted at.
const URLPrefix = "/static/audio"

// DiskStore writes audio files under a local directory.
type DiskStore struct {
	dir string
}

// NewDiskStore ensures the directory exists and returns the store.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		dir = "data/audio"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Dir returns the backing directory, for mounting a file server.
func (s *DiskStore) Dir() string { return s.dir }

// SaveAudio persists the bytes and returns the public URL path.
func (s *DiskStore) SaveAudio(data []byte, format string) (string, error) {
	name := fmt.Sprintf("tts_%s.%s", uuid.NewString(), format)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write audio file: %w", err)
	}
	return URLPrefix + "/" + name, nil
}
