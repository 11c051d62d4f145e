// Package storage holds file and directory metadata, the metadata stores,
// and the chunk storage backend.
package storage

import "time"

// FileMetadata describes one stored file. Chunks are not listed here; the
// backend owns chunk layout.
type FileMetadata struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	FileName    string    `json:"fileName"`
	FileSize    int64     `json:"fileSize"`
	ContentType string    `json:"contentType"`
	// DirectoryID is empty for files in the user's root.
	DirectoryID string    `json:"directoryId,omitempty"`
	IsComplete  bool      `json:"isComplete"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TotalChunks returns ceil(FileSize / chunkSize). Zero-byte files have one
// (empty) finalize-only chunk count of zero.
func (f *FileMetadata) TotalChunks(chunkSize int) int {
	if f.FileSize <= 0 {
		return 0
	}
	return int((f.FileSize + int64(chunkSize) - 1) / int64(chunkSize))
}

// DirectoryMetadata describes one directory in a user's tree. Directories
// form a per-user forest; ParentDirectoryID is empty for the root.
type DirectoryMetadata struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	Name              string    `json:"name"`
	ParentDirectoryID string    `json:"parentDirectoryId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	IsRoot            bool      `json:"isRoot"`
}
