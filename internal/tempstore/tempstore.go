package tempstore

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"ticketbridge.local/projects/bridge/internal/ids"
)

const defaultExt = ".webm"

// URLPrefix is the public path under which saved recordings are served.
const URLPrefix = "/temp/"

// Store keeps uploaded recording blobs in a scratch directory until the
// background attach task consumes them. A file is owned by exactly one
// writer until it is handed to the attach task, which deletes it after a
// successful attach. Failed attaches leave the file behind.
type Store struct {
	logger *log.Logger
	dir    string
}

type SavedFile struct {
	Name string
	Path string
	URL  string
	Size int64
}

func New(logger *log.Logger, dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("temp dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &Store{logger: logger, dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// Save writes r to a fresh rec-<id><ext> file, keeping the extension of
// originalName when it has one.
func (s *Store) Save(originalName string, r io.Reader) (SavedFile, error) {
	ext := filepath.Ext(originalName)
	if ext == "" {
		ext = defaultExt
	}
	name := fmt.Sprintf("rec-%s%s", ids.New(), ext)
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return SavedFile{}, fmt.Errorf("create temp file: %w", err)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return SavedFile{}, fmt.Errorf("write temp file: %w", err)
	}

	s.logger.Printf("temp file saved name=%s size=%d", name, size)
	return SavedFile{Name: name, Path: path, URL: URLPrefix + name, Size: size}, nil
}

// Resolve maps a /temp/<name> reference back to a file on disk. Only the
// base name is honored, so references cannot escape the scratch directory.
func (s *Store) Resolve(videoURL string) (path string, name string, err error) {
	trimmed := strings.TrimSpace(videoURL)
	if trimmed == "" {
		return "", "", fmt.Errorf("empty video reference")
	}
	name = filepath.Base(trimmed)
	if name == "." || name == string(filepath.Separator) {
		return "", "", fmt.Errorf("invalid video reference %q", videoURL)
	}
	path = filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", "", fmt.Errorf("resolve %q: %w", videoURL, err)
	}
	return path, name, nil
}

func (s *Store) Remove(name string) error {
	path := filepath.Join(s.dir, filepath.Base(name))
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove temp file: %w", err)
	}
	return nil
}
