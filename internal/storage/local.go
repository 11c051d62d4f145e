package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zstd"

	"github.com/cloudvault/cloudvault/internal/faults"
)

// LocalBackend stores chunks as individual files under
// files/{userId}/{fileId}/{chunkIndex}.chunk. With compression enabled,
// chunks are zstd-compressed at rest; the wire chunking is unaffected
// because every chunk file is decompressed whole on read.
type LocalBackend struct {
	root     string
	compress bool
	// resolveOwner maps a file id to its owning user, normally backed by
	// the metadata store.
	resolveOwner func(fileID string) (string, error)

	enc *zstd.Encoder
	dec *zstd.Decoder
}

const chunkSuffix = ".chunk"

// NewLocalBackend creates a backend rooted at root.
func NewLocalBackend(root string, compress bool, resolveOwner func(fileID string) (string, error)) (*LocalBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating files directory: %w", err)
	}
	b := &LocalBackend{root: root, compress: compress, resolveOwner: resolveOwner}
	if compress {
		// EncodeAll/DecodeAll are safe for concurrent use on a single
		// encoder/decoder pair.
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		b.enc, b.dec = enc, dec
	}
	return b, nil
}

// EnsureUserDir makes sure files/{userId} exists.
func (b *LocalBackend) EnsureUserDir(userID string) error {
	if err := os.MkdirAll(filepath.Join(b.root, userID), 0o755); err != nil {
		return fmt.Errorf("creating user directory: %w", err)
	}
	return nil
}

func (b *LocalBackend) fileDir(fileID string) (string, error) {
	userID, err := b.resolveOwner(fileID)
	if err != nil {
		return "", faults.FileOp(fileID, "unknown file", err)
	}
	return filepath.Join(b.root, userID, fileID), nil
}

func chunkPath(dir string, chunkIndex int) string {
	return filepath.Join(dir, strconv.Itoa(chunkIndex)+chunkSuffix)
}

// InitializeUpload creates the chunk directory for the file.
func (b *LocalBackend) InitializeUpload(ctx context.Context, meta *FileMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(b.root, meta.UserID, meta.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return faults.FileOp(meta.ID, "initializing upload", err)
	}
	return nil
}

// WriteChunk durably stores one chunk file.
func (b *LocalBackend) WriteChunk(ctx context.Context, fileID string, chunkIndex int, data []byte, isLast bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := b.fileDir(fileID)
	if err != nil {
		return err
	}
	if b.compress {
		data = b.enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	}
	path := chunkPath(dir, chunkIndex)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return faults.FileOp(fileID, "writing chunk", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return faults.FileOp(fileID, "committing chunk", err)
	}
	if isLast {
		// Make the directory entry for the final chunk durable too.
		if d, err := os.Open(dir); err == nil {
			_ = d.Sync()
			_ = d.Close()
		}
	}
	return nil
}

// FinalizeUpload syncs the chunk directory.
func (b *LocalBackend) FinalizeUpload(ctx context.Context, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := b.fileDir(fileID)
	if err != nil {
		return err
	}
	d, err := os.Open(dir)
	if err != nil {
		return faults.FileOp(fileID, "finalizing upload", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return faults.FileOp(fileID, "finalizing upload", err)
	}
	return nil
}

// ReadChunk returns one chunk and whether a chunk with the next index
// exists.
func (b *LocalBackend) ReadChunk(ctx context.Context, fileID string, chunkIndex int) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	dir, err := b.fileDir(fileID)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(chunkPath(dir, chunkIndex))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, faults.FileOp(fileID, fmt.Sprintf("chunk %d not found", chunkIndex), err)
		}
		return nil, false, faults.FileOp(fileID, "reading chunk", err)
	}
	if b.compress {
		data, err = b.dec.DecodeAll(data, nil)
		if err != nil {
			return nil, false, faults.FileOp(fileID, "decompressing chunk", err)
		}
	}
	_, statErr := os.Stat(chunkPath(dir, chunkIndex+1))
	isLast := os.IsNotExist(statErr)
	return data, isLast, nil
}

// DeleteFile removes the file's chunk directory.
func (b *LocalBackend) DeleteFile(ctx context.Context, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := b.fileDir(fileID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return faults.FileOp(fileID, "deleting file", err)
	}
	return nil
}
