package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrFileNotFound is returned when no file metadata matches the id.
var ErrFileNotFound = errors.New("file not found")

// ErrDirectoryNotFound is returned when no directory metadata matches the id.
var ErrDirectoryNotFound = errors.New("directory not found")

// MetadataStore keeps file and directory metadata in memory, persisted as
// JSON under the metadata directory. Records are guarded by a single
// mutex; disk writes use a snapshot taken under the lock so I/O happens
// after release.
//
// Note: (parentDirectoryId, name) is deliberately not unique within a
// user; two sibling directories may share a name.
type MetadataStore struct {
	dir string

	mu    sync.Mutex
	files map[string]*FileMetadata
	dirs  map[string]*DirectoryMetadata
}

// OpenMetadataStore loads (or initializes) the store under dir.
func OpenMetadataStore(dir string) (*MetadataStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating metadata directory: %w", err)
	}
	s := &MetadataStore{
		dir:   dir,
		files: make(map[string]*FileMetadata),
		dirs:  make(map[string]*DirectoryMetadata),
	}
	if err := loadJSON(s.filesPath(), &s.files); err != nil {
		return nil, err
	}
	if err := loadJSON(s.dirsPath(), &s.dirs); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MetadataStore) filesPath() string { return filepath.Join(s.dir, "files.json") }
func (s *MetadataStore) dirsPath() string  { return filepath.Join(s.dir, "directories.json") }

func loadJSON[T any](path string, out *map[string]*T) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func persistJSON[T any](path string, records map[string]*T) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

func (s *MetadataStore) snapshotFiles() map[string]*FileMetadata {
	out := make(map[string]*FileMetadata, len(s.files))
	for id, f := range s.files {
		copied := *f
		out[id] = &copied
	}
	return out
}

func (s *MetadataStore) snapshotDirs() map[string]*DirectoryMetadata {
	out := make(map[string]*DirectoryMetadata, len(s.dirs))
	for id, d := range s.dirs {
		copied := *d
		out[id] = &copied
	}
	return out
}

// CreateFile registers new file metadata with a fresh id.
func (s *MetadataStore) CreateFile(userID, fileName, contentType string, fileSize int64, directoryID string) (*FileMetadata, error) {
	now := time.Now().UTC()
	f := &FileMetadata{
		ID:          uuid.NewString(),
		UserID:      userID,
		FileName:    fileName,
		FileSize:    fileSize,
		ContentType: contentType,
		DirectoryID: directoryID,
		IsComplete:  false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.mu.Lock()
	s.files[f.ID] = f
	snap := s.snapshotFiles()
	copied := *f
	s.mu.Unlock()
	if err := persistJSON(s.filesPath(), snap); err != nil {
		return nil, err
	}
	return &copied, nil
}

// GetFile returns the metadata for id.
func (s *MetadataStore) GetFile(id string) (*FileMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, ErrFileNotFound
	}
	copied := *f
	return &copied, nil
}

// UpdateFile replaces the metadata for f.ID.
func (s *MetadataStore) UpdateFile(f *FileMetadata) error {
	s.mu.Lock()
	if _, ok := s.files[f.ID]; !ok {
		s.mu.Unlock()
		return ErrFileNotFound
	}
	copied := *f
	copied.UpdatedAt = time.Now().UTC()
	s.files[f.ID] = &copied
	snap := s.snapshotFiles()
	s.mu.Unlock()
	return persistJSON(s.filesPath(), snap)
}

// DeleteFile removes the metadata for id.
func (s *MetadataStore) DeleteFile(id string) error {
	s.mu.Lock()
	if _, ok := s.files[id]; !ok {
		s.mu.Unlock()
		return ErrFileNotFound
	}
	delete(s.files, id)
	snap := s.snapshotFiles()
	s.mu.Unlock()
	return persistJSON(s.filesPath(), snap)
}

// ListFiles returns every file owned by userID, sorted by name.
func (s *MetadataStore) ListFiles(userID string) ([]*FileMetadata, error) {
	s.mu.Lock()
	var out []*FileMetadata
	for _, f := range s.files {
		if f.UserID == userID {
			copied := *f
			out = append(out, &copied)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out, nil
}

// ListFilesInDirectory returns userID's files whose DirectoryID equals
// directoryID ("" means the root).
func (s *MetadataStore) ListFilesInDirectory(userID, directoryID string) ([]*FileMetadata, error) {
	s.mu.Lock()
	var out []*FileMetadata
	for _, f := range s.files {
		if f.UserID == userID && f.DirectoryID == directoryID {
			copied := *f
			out = append(out, &copied)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out, nil
}

// CreateDirectory registers a new directory under parentID ("" = root).
func (s *MetadataStore) CreateDirectory(userID, name, parentID string) (*DirectoryMetadata, error) {
	if parentID != "" {
		if _, err := s.GetDirectory(parentID); err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()
	d := &DirectoryMetadata{
		ID:                uuid.NewString(),
		UserID:            userID,
		Name:              name,
		ParentDirectoryID: parentID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.mu.Lock()
	s.dirs[d.ID] = d
	snap := s.snapshotDirs()
	copied := *d
	s.mu.Unlock()
	if err := persistJSON(s.dirsPath(), snap); err != nil {
		return nil, err
	}
	return &copied, nil
}

// GetDirectory returns the metadata for id.
func (s *MetadataStore) GetDirectory(id string) (*DirectoryMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dirs[id]
	if !ok {
		return nil, ErrDirectoryNotFound
	}
	copied := *d
	return &copied, nil
}

// UpdateDirectory replaces the metadata for d.ID.
func (s *MetadataStore) UpdateDirectory(d *DirectoryMetadata) error {
	s.mu.Lock()
	if _, ok := s.dirs[d.ID]; !ok {
		s.mu.Unlock()
		return ErrDirectoryNotFound
	}
	copied := *d
	copied.UpdatedAt = time.Now().UTC()
	s.dirs[d.ID] = &copied
	snap := s.snapshotDirs()
	s.mu.Unlock()
	return persistJSON(s.dirsPath(), snap)
}

// DeleteDirectory removes the metadata for id.
func (s *MetadataStore) DeleteDirectory(id string) error {
	s.mu.Lock()
	if _, ok := s.dirs[id]; !ok {
		s.mu.Unlock()
		return ErrDirectoryNotFound
	}
	delete(s.dirs, id)
	snap := s.snapshotDirs()
	s.mu.Unlock()
	return persistJSON(s.dirsPath(), snap)
}

// ListDirectories returns userID's directories under parentID ("" = root),
// sorted by name.
func (s *MetadataStore) ListDirectories(userID, parentID string) ([]*DirectoryMetadata, error) {
	s.mu.Lock()
	var out []*DirectoryMetadata
	for _, d := range s.dirs {
		if d.UserID == userID && d.ParentDirectoryID == parentID && !d.IsRoot {
			copied := *d
			out = append(out, &copied)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
