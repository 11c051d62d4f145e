// Package transfer coordinates chunked uploads and downloads: strict chunk
// ordering on upload, random access on download, and at-most-one in-flight
// transfer per session.
package transfer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cloudvault/cloudvault/internal/faults"
	"github.com/cloudvault/cloudvault/internal/logging"
	"github.com/cloudvault/cloudvault/internal/metrics"
	"github.com/cloudvault/cloudvault/internal/protocol"
	"github.com/cloudvault/cloudvault/internal/storage"
)

// Coordinator validates and applies transfer operations against the
// metadata store and the storage backend. It holds no per-transfer state;
// that lives in Transfer, owned by the session's transfer state.
type Coordinator struct {
	Meta      *storage.MetadataStore
	Backend   storage.Backend
	ChunkSize int
}

// Transfer is the per-session in-flight transfer context. The session
// references at most one Transfer at a time.
type Transfer struct {
	File        *storage.FileMetadata
	Uploading   bool
	TotalChunks int
	// NextChunk is the next expected index on upload; on download it only
	// tracks progress for logging, since clients may read randomly.
	NextChunk int
	// StartedAt is set at construction, not on state entry, so throughput
	// math is always well-defined.
	StartedAt time.Time

	bytesMoved int64
	done       bool
}

// Direction returns "upload" or "download".
func (t *Transfer) Direction() string {
	if t.Uploading {
		return "upload"
	}
	return "download"
}

// InitUpload validates an upload request and registers the new file.
// directoryID is the resolved target ("" = root), already ownership-checked
// by the caller.
func (c *Coordinator) InitUpload(ctx context.Context, userID string, req *protocol.UploadInitPayload, directoryID string) (*Transfer, error) {
	if req.FileName == "" {
		return nil, faults.FileOp("", "file name must not be empty", nil)
	}
	if req.FileSize < 0 {
		return nil, faults.FileOp("", "file size must not be negative", nil)
	}
	meta, err := c.Meta.CreateFile(userID, req.FileName, req.ContentType, req.FileSize, directoryID)
	if err != nil {
		return nil, faults.Internal(err)
	}
	if err := c.Backend.InitializeUpload(ctx, meta); err != nil {
		// Roll the metadata back so no orphan record survives.
		_ = c.Meta.DeleteFile(meta.ID)
		return nil, err
	}
	t := &Transfer{
		File:        meta,
		Uploading:   true,
		TotalChunks: meta.TotalChunks(c.ChunkSize),
		StartedAt:   time.Now(),
	}
	metrics.ActiveTransfers.WithLabelValues("upload").Inc()
	return t, nil
}

// WriteChunk validates one upload chunk against the transfer and writes it.
// The response always names the expected index so a client can recover.
func (c *Coordinator) WriteChunk(ctx context.Context, t *Transfer, req *protocol.Packet) *protocol.Packet {
	fail := func(reason, message string) *protocol.Packet {
		metrics.RecordChunkRejection(reason)
		return protocol.Fail(req, message).
			WithMeta(protocol.MetaFileID, t.File.ID).
			WithMeta(protocol.MetaChunkIndex, strconv.Itoa(t.NextChunk))
	}

	if req.Meta(protocol.MetaFileID) != t.File.ID {
		return fail("file_mismatch", fmt.Sprintf("chunk is for file %q, transfer is for file %q", req.Meta(protocol.MetaFileID), t.File.ID))
	}
	index, ok := req.MetaInt(protocol.MetaChunkIndex)
	if !ok || index != t.NextChunk {
		return fail("out_of_order", fmt.Sprintf("expected chunk index %d", t.NextChunk))
	}
	if len(req.Payload) == 0 {
		return fail("empty_payload", "chunk payload must not be empty")
	}
	isLast := req.MetaBool(protocol.MetaIsLastChunk)
	if err := c.Backend.WriteChunk(ctx, t.File.ID, index, req.Payload, isLast); err != nil {
		logging.Error("chunk write failed",
			zap.String("file_id", t.File.ID),
			zap.Int("chunk_index", index),
			zap.Error(err))
		return fail("storage_error", fmt.Sprintf("storing chunk %d failed", index))
	}

	t.NextChunk++
	t.bytesMoved += int64(len(req.Payload))
	metrics.BytesTransferredTotal.WithLabelValues("upload").Add(float64(len(req.Payload)))

	return protocol.OK(req, "chunk stored").
		WithMeta(protocol.MetaFileID, t.File.ID).
		WithMeta(protocol.MetaChunkIndex, strconv.Itoa(index)).
		WithMeta(protocol.MetaIsLastChunk, strconv.FormatBool(isLast))
}

// FinishUpload finalizes the upload and marks the file complete. A file is
// complete only when every chunk 0..TotalChunks-1 has been written, so an
// early completion request is refused and the file stays incomplete.
func (c *Coordinator) FinishUpload(ctx context.Context, t *Transfer) error {
	if t.NextChunk != t.TotalChunks {
		return faults.FileOp(t.File.ID,
			fmt.Sprintf("upload incomplete: %d of %d chunks received", t.NextChunk, t.TotalChunks), nil)
	}
	if err := c.Backend.FinalizeUpload(ctx, t.File.ID); err != nil {
		return err
	}
	t.File.IsComplete = true
	if err := c.Meta.UpdateFile(t.File); err != nil {
		return faults.Internal(err)
	}
	t.finish("complete")
	c.logThroughput(t)
	return nil
}

// InitDownload resolves the file, verifies ownership and builds the
// transfer context.
func (c *Coordinator) InitDownload(ctx context.Context, userID, fileID string) (*Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta, err := c.Meta.GetFile(fileID)
	if err != nil {
		return nil, faults.FileOp(fileID, "file not found", err)
	}
	if meta.UserID != userID {
		// Same response as not-found: file ids of other users are opaque.
		return nil, faults.FileOp(fileID, "file not found", nil)
	}
	t := &Transfer{
		File:        meta,
		Uploading:   false,
		TotalChunks: meta.TotalChunks(c.ChunkSize),
		StartedAt:   time.Now(),
	}
	metrics.ActiveTransfers.WithLabelValues("download").Inc()
	return t, nil
}

// ReadChunk serves one download chunk. Random access is permitted.
func (c *Coordinator) ReadChunk(ctx context.Context, t *Transfer, req *protocol.Packet) *protocol.Packet {
	if req.Meta(protocol.MetaFileID) != t.File.ID {
		metrics.RecordChunkRejection("file_mismatch")
		return protocol.Fail(req, fmt.Sprintf("chunk is for file %q, transfer is for file %q", req.Meta(protocol.MetaFileID), t.File.ID)).
			WithMeta(protocol.MetaFileID, t.File.ID)
	}
	index, ok := req.MetaInt(protocol.MetaChunkIndex)
	if !ok || index < 0 || (t.TotalChunks > 0 && index >= t.TotalChunks) {
		metrics.RecordChunkRejection("out_of_order")
		return protocol.Fail(req, fmt.Sprintf("chunk index must be in [0, %d)", t.TotalChunks)).
			WithMeta(protocol.MetaFileID, t.File.ID)
	}
	data, isLast, err := c.Backend.ReadChunk(ctx, t.File.ID, index)
	if err != nil {
		metrics.RecordChunkRejection("storage_error")
		logging.Error("chunk read failed",
			zap.String("file_id", t.File.ID),
			zap.Int("chunk_index", index),
			zap.Error(err))
		return protocol.Fail(req, fmt.Sprintf("reading chunk %d failed", index)).
			WithMeta(protocol.MetaFileID, t.File.ID)
	}

	t.NextChunk = index + 1
	t.bytesMoved += int64(len(data))
	metrics.BytesTransferredTotal.WithLabelValues("download").Add(float64(len(data)))

	return protocol.OK(req, "chunk read").
		WithPayload(data).
		WithMeta(protocol.MetaFileID, t.File.ID).
		WithMeta(protocol.MetaChunkIndex, strconv.Itoa(index)).
		WithMeta(protocol.MetaIsLastChunk, strconv.FormatBool(isLast))
}

// FinishDownload closes the transfer window. The server does not verify
// that every chunk was pulled.
func (c *Coordinator) FinishDownload(t *Transfer) {
	t.finish("complete")
	c.logThroughput(t)
}

// Cancel releases a transfer that ends for any reason other than normal
// completion. An incomplete upload keeps isComplete=false; there is no
// resume.
func (c *Coordinator) Cancel(t *Transfer, reason string) {
	if t == nil || t.done {
		return
	}
	t.finish("cancelled")
	logging.Warn("transfer cancelled",
		zap.String("file_id", t.File.ID),
		zap.String("direction", t.Direction()),
		zap.String("reason", reason),
		zap.Int("chunks_done", t.NextChunk))
}

func (t *Transfer) finish(outcome string) {
	if t.done {
		return
	}
	t.done = true
	metrics.ActiveTransfers.WithLabelValues(t.Direction()).Dec()
	metrics.RecordTransfer(t.Direction(), outcome, time.Since(t.StartedAt).Seconds())
}

func (c *Coordinator) logThroughput(t *Transfer) {
	elapsed := time.Since(t.StartedAt).Seconds()
	var mbps float64
	if elapsed > 0 {
		mbps = float64(t.bytesMoved) * 8 / (elapsed * 1_000_000)
	}
	logging.Info("transfer finished",
		zap.String("file_id", t.File.ID),
		zap.String("file_name", t.File.FileName),
		zap.String("direction", t.Direction()),
		zap.Int64("bytes", t.bytesMoved),
		zap.Float64("throughput_mbps", mbps),
		zap.Duration("elapsed", time.Since(t.StartedAt)))
}
