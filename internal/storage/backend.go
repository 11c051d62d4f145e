package storage

import "context"

// Backend stores chunk payloads. Implementations must serialize writes to
// the same fileID; callers already serialize within one session, so this
// only matters if two sessions race on one file id (which ownership checks
// prevent).
type Backend interface {
	// EnsureUserDir makes sure the per-user storage area exists.
	EnsureUserDir(userID string) error
	// InitializeUpload prepares storage for the file described by meta.
	InitializeUpload(ctx context.Context, meta *FileMetadata) error
	// WriteChunk durably stores one chunk. Chunks arrive strictly in order.
	WriteChunk(ctx context.Context, fileID string, chunkIndex int, data []byte, isLast bool) error
	// FinalizeUpload marks the upload durably complete.
	FinalizeUpload(ctx context.Context, fileID string) error
	// ReadChunk returns the chunk bytes and whether it is the last chunk.
	ReadChunk(ctx context.Context, fileID string, chunkIndex int) ([]byte, bool, error)
	// DeleteFile removes every stored chunk of the file.
	DeleteFile(ctx context.Context, fileID string) error
}
