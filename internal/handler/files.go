package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/cloudvault/cloudvault/internal/logging"
	"github.com/cloudvault/cloudvault/internal/protocol"
	"github.com/cloudvault/cloudvault/internal/storage"
)

// handleFileList returns every file the user owns as a JSON array.
func handleFileList(ctx context.Context, d *Deps, req *protocol.Packet) *protocol.Packet {
	files, err := d.Meta.ListFiles(req.UserID)
	if err != nil {
		logging.Error("listing files", zap.String("user_id", req.UserID), zap.Error(err))
		return protocol.Fail(req, "internal server error")
	}
	if files == nil {
		files = []*storage.FileMetadata{}
	}
	return withJSON(protocol.OK(req, "file list"), req, files)
}

// ownedFile resolves a file id and enforces ownership. A nil packet means
// success.
func ownedFile(d *Deps, req *protocol.Packet, fileID string) (*storage.FileMetadata, *protocol.Packet) {
	if fileID == "" {
		return nil, failFileOp(req, fileID, "FileId is required")
	}
	meta, err := d.Meta.GetFile(fileID)
	if err != nil || meta.UserID != req.UserID {
		return nil, failFileOp(req, fileID, "file not found")
	}
	return meta, nil
}

func failFileOp(req *protocol.Packet, fileID, message string) *protocol.Packet {
	return withJSON(protocol.Fail(req, message), req,
		protocol.FileOpResult{Success: false, FileID: fileID, Message: message})
}

func okFileOp(req *protocol.Packet, fileID, message string) *protocol.Packet {
	return withJSON(protocol.OK(req, message), req,
		protocol.FileOpResult{Success: true, FileID: fileID, Message: message})
}

// handleFileDelete removes a file's chunks and metadata.
func handleFileDelete(ctx context.Context, d *Deps, req *protocol.Packet) *protocol.Packet {
	meta, fail := ownedFile(d, req, req.Meta(protocol.MetaFileID))
	if fail != nil {
		return fail
	}
	// Chunks go first: the backend resolves ownership through the metadata
	// record, which must still exist.
	if err := d.Backend.DeleteFile(ctx, meta.ID); err != nil {
		logging.Error("deleting file chunks", zap.String("file_id", meta.ID), zap.Error(err))
		return failFileOp(req, meta.ID, "deleting file failed")
	}
	if err := d.Meta.DeleteFile(meta.ID); err != nil {
		logging.Error("deleting file metadata", zap.String("file_id", meta.ID), zap.Error(err))
		return failFileOp(req, meta.ID, "deleting file failed")
	}
	return okFileOp(req, meta.ID, "file deleted")
}

// handleFileMove reparents a file to another directory ("" = root).
func handleFileMove(ctx context.Context, d *Deps, req *protocol.Packet) *protocol.Packet {
	var payload protocol.MovePayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return failFileOp(req, "", "malformed move request")
	}
	meta, fail := ownedFile(d, req, payload.FileID)
	if fail != nil {
		return fail
	}
	targetID, fail := resolveDirectory(d, req, payload.TargetDirectoryID)
	if fail != nil {
		return fail
	}
	meta.DirectoryID = targetID
	if err := d.Meta.UpdateFile(meta); err != nil {
		logging.Error("moving file", zap.String("file_id", meta.ID), zap.Error(err))
		return failFileOp(req, meta.ID, "moving file failed")
	}
	return okFileOp(req, meta.ID, "file moved")
}
