package storage

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidName = errors.New("storage: invalid file name")

// ContentStore keeps flat files (images, audio) in a single directory that is
// also served statically under urlPrefix.
type ContentStore struct {
	baseDir   string
	urlPrefix string
}

// NewContentStore ensures dir exists and returns a store rooted there.
func NewContentStore(dir, urlPrefix string) (*ContentStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("storage: directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure dir: %w", err)
	}
	prefix := "/" + strings.Trim(strings.TrimSpace(urlPrefix), "/")
	return &ContentStore{baseDir: abs, urlPrefix: prefix}, nil
}

// NewUploadStoreFromEnv uses UPLOAD_DIR (default ./data/uploads) served at /uploads.
func NewUploadStoreFromEnv() (*ContentStore, error) {
	dir := strings.TrimSpace(os.Getenv("UPLOAD_DIR"))
	if dir == "" {
		dir = "./data/uploads"
	}
	return NewContentStore(dir, "/uploads")
}

// NewAudioStoreFromEnv uses AUDIO_DIR (default ./data/audio) served at /audio.
func NewAudioStoreFromEnv() (*ContentStore, error) {
	dir := strings.TrimSpace(os.Getenv("AUDIO_DIR"))
	if dir == "" {
		dir = "./data/audio"
	}
	return NewContentStore(dir, "/audio")
}

func (s *ContentStore) BaseDir() string {
	if s == nil {
		return ""
	}
	return s.baseDir
}

func (s *ContentStore) URLPrefix() string {
	if s == nil {
		return ""
	}
	return s.urlPrefix
}

// Path resolves name inside the store, rejecting anything that escapes it.
func (s *ContentStore) Path(name string) (string, error) {
	if s == nil {
		return "", errors.New("storage: content store not configured")
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed != filepath.Base(trimmed) || trimmed == "." || trimmed == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	target := filepath.Join(s.baseDir, trimmed)
	if !strings.HasPrefix(target, s.baseDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return target, nil
}

// Save writes data under name, replacing any previous content.
func (s *ContentStore) Save(name string, data []byte) (string, error) {
	target, err := s.Path(name)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.baseDir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("storage: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("storage: move %s into place: %w", name, err)
	}
	return target, nil
}

// Read returns the content stored under name. A missing file yields an error
// matching os.ErrNotExist.
func (s *ContentStore) Read(name string) ([]byte, error) {
	target, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}
	return data, nil
}

func (s *ContentStore) Exists(name string) bool {
	target, err := s.Path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(target)
	return err == nil && !info.IsDir()
}

// Remove unlinks name. A missing file yields an error matching os.ErrNotExist.
func (s *ContentStore) Remove(name string) error {
	target, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		return fmt.Errorf("storage: remove %s: %w", name, err)
	}
	return nil
}

// PublicPath is the server-relative URL path of name.
func (s *ContentStore) PublicPath(name string) string {
	trimmed := strings.TrimSpace(name)
	if s == nil || trimmed == "" {
		return ""
	}
	return path.Join(s.urlPrefix, url.PathEscape(trimmed))
}

// NewFilename returns a unique file name with the given extension, e.g.
// "1700000000000-1f0c2a9b.webp".
func NewFilename(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	id := uuid.NewString()
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), id, ext)
}
