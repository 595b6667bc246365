package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"delorean_back/logger"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("manifest: asset not found")
	ErrCorrupt  = errors.New("manifest: file is not a valid asset list")
)

// FileRemover deletes the content file backing a record.
type FileRemover interface {
	Remove(name string) error
}

// Store is the flat-file asset manifest. All mutations are serialized by a
// single mutex and every mutation rewrites the whole file through a
// temp-file-then-rename swap.
type Store struct {
	mu      sync.Mutex
	path    string
	files   FileRemover
	log     *logger.Logger
	now     func() time.Time
	records []AssetRecord

	// OnWriteError, when set, observes persistence failures. The mutation
	// result is still returned to the caller.
	OnWriteError func(error)
}

// Open loads the manifest at path (a missing file is an empty manifest).
func Open(path string, files FileRemover, log *logger.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("manifest: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("manifest: ensure dir: %w", err)
	}
	s := &Store{
		path:  path,
		files: files,
		log:   log.With("module", "manifest"),
		now:   func() time.Time { return time.Now().UTC() },
	}
	records, err := readFile(path)
	if err != nil {
		return nil, err
	}
	s.records = records
	return s, nil
}

// OpenFromEnv uses MANIFEST_PATH, defaulting to manifest.json next to
// uploadDir so the manifest is never served with the images.
func OpenFromEnv(uploadDir string, files FileRemover, log *logger.Logger) (*Store, error) {
	path := strings.TrimSpace(os.Getenv("MANIFEST_PATH"))
	if path == "" {
		path = filepath.Join(filepath.Dir(filepath.Clean(uploadDir)), "manifest.json")
	}
	return Open(path, files, log)
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
}

func (s *Store) Path() string {
	return s.path
}

// Now returns the store's current time, used by callers stamping story transitions.
func (s *Store) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// Append stores record with order = current manifest length. When earlier
// deletions left a live record at or above that position the order is moved
// past it so live orders stay unique.
func (s *Store) Append(record AssetRecord) (AssetRecord, error) {
	out, err := s.AppendAll([]AssetRecord{record})
	if err != nil {
		return AssetRecord{}, err
	}
	return out[0], nil
}

// AppendAll appends a batch under one lock and one write, so the batch gets
// strictly increasing orders matching its input positions.
func (s *Store) AppendAll(records []AssetRecord) ([]AssetRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := s.nextOrderLocked()
	out := make([]AssetRecord, 0, len(records))
	for _, record := range records {
		if strings.TrimSpace(record.ID) == "" {
			record.ID = uuid.NewString()
		}
		if s.indexLocked(record.ID) >= 0 {
			return nil, fmt.Errorf("manifest: duplicate asset id %q", record.ID)
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		if !record.Story.Status.Valid() {
			record.Story = PendingStory(now)
		}
		record.Story.normalize()
		record.Order = next
		next++
		s.records = append(s.records, record.clone())
		out = append(out, record.clone())
	}
	s.persistLocked()
	return out, nil
}

// List returns all records in ascending order.
func (s *Store) List() []AssetRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// Get returns the record with id or ErrNotFound.
func (s *Store) Get(id string) (AssetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return AssetRecord{}, ErrNotFound
	}
	return s.records[idx].clone(), nil
}

// Update applies mutate to a copy of the record and persists it. If mutate
// returns an error nothing is written. ID, filename, order and creation time
// are immutable.
func (s *Store) Update(id string, mutate func(*AssetRecord) error) (AssetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return AssetRecord{}, ErrNotFound
	}
	current := s.records[idx]
	next := current.clone()
	if mutate != nil {
		if err := mutate(&next); err != nil {
			return current.clone(), err
		}
	}
	next.ID = current.ID
	next.Filename = current.Filename
	next.Order = current.Order
	next.CreatedAt = current.CreatedAt
	next.OriginalName = current.OriginalName
	next.OriginalMimeType = current.OriginalMimeType
	next.Story.normalize()
	s.records[idx] = next
	s.persistLocked()
	return next.clone(), nil
}

// Remove deletes the record and its backing file. A missing file is logged
// and does not fail the removal.
func (s *Store) Remove(id string) (AssetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return AssetRecord{}, ErrNotFound
	}
	removed := s.records[idx]
	s.records = append(s.records[:idx], s.records[idx+1:]...)
	s.persistLocked()

	if s.files != nil && strings.TrimSpace(removed.Filename) != "" {
		if err := s.files.Remove(removed.Filename); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				s.log.Warn("backing file already missing", "asset_id", removed.ID, "filename", removed.Filename)
			} else {
				s.log.Warn("remove backing file failed", "asset_id", removed.ID, "filename", removed.Filename, "error", err)
			}
		}
	}
	return removed.clone(), nil
}

func (s *Store) nextOrderLocked() int {
	next := len(s.records)
	for _, r := range s.records {
		if r.Order >= next {
			next = r.Order + 1
		}
	}
	return next
}

func (s *Store) indexLocked(id string) int {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return -1
	}
	for i := range s.records {
		if s.records[i].ID == trimmed {
			return i
		}
	}
	return -1
}

func (s *Store) sortedLocked() []AssetRecord {
	out := make([]AssetRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) persistLocked() {
	if err := writeFile(s.path, s.sortedLocked()); err != nil {
		s.log.Error("persist manifest failed", "path", s.path, "error", err)
		if s.OnWriteError != nil {
			s.OnWriteError(err)
		}
	}
}

func readFile(path string) ([]AssetRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []AssetRecord{}, nil
		}
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []AssetRecord{}, nil
	}
	var records []AssetRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	for i := range records {
		records[i].Story.normalize()
	}
	return records, nil
}

func writeFile(path string, records []AssetRecord) error {
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.json")
	if err != nil {
		return fmt.Errorf("manifest: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("manifest: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("manifest: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("manifest: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("manifest: replace %s: %w", path, err)
	}
	return nil
}
