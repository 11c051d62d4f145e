package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/cloudvault/cloudvault/internal/logging"
	"github.com/cloudvault/cloudvault/internal/protocol"
	"github.com/cloudvault/cloudvault/internal/storage"
)

func failDirOp(req *protocol.Packet, dirID, message string) *protocol.Packet {
	return withJSON(protocol.Fail(req, message), req,
		protocol.DirectoryOpResult{Success: false, DirectoryID: dirID, Message: message})
}

// ownedDirectory resolves a concrete directory id and enforces ownership.
func ownedDirectory(d *Deps, req *protocol.Packet, dirID string) (*storage.DirectoryMetadata, *protocol.Packet) {
	if dirID == "" || dirID == protocol.RootDirectoryID {
		return nil, failDirOp(req, dirID, "a concrete directory id is required")
	}
	dir, err := d.Meta.GetDirectory(dirID)
	if err != nil || dir.UserID != req.UserID {
		return nil, failDirOp(req, dirID, "directory not found")
	}
	return dir, nil
}

// handleDirectoryList returns the child directories under the parent named
// in metadata (absent or "root" = the user's root).
func handleDirectoryList(ctx context.Context, d *Deps, req *protocol.Packet) *protocol.Packet {
	parentID, fail := resolveDirectory(d, req, req.Meta(protocol.MetaParentDirectoryID))
	if fail != nil {
		return fail
	}
	dirs, err := d.Meta.ListDirectories(req.UserID, parentID)
	if err != nil {
		logging.Error("listing directories", zap.String("user_id", req.UserID), zap.Error(err))
		return protocol.Fail(req, "internal server error")
	}
	if dirs == nil {
		dirs = []*storage.DirectoryMetadata{}
	}
	return withJSON(protocol.OK(req, "directory list"), req, dirs)
}

// handleDirectoryContents returns both files and subdirectories of one
// directory.
func handleDirectoryContents(ctx context.Context, d *Deps, req *protocol.Packet) *protocol.Packet {
	raw := req.Meta(protocol.MetaDirectoryID)
	if raw == "" {
		raw = protocol.RootDirectoryID
	}
	dirID, fail := resolveDirectory(d, req, raw)
	if fail != nil {
		return fail
	}
	files, err := d.Meta.ListFilesInDirectory(req.UserID, dirID)
	if err != nil {
		logging.Error("listing directory files", zap.String("user_id", req.UserID), zap.Error(err))
		return protocol.Fail(req, "internal server error")
	}
	dirs, err := d.Meta.ListDirectories(req.UserID, dirID)
	if err != nil {
		logging.Error("listing subdirectories", zap.String("user_id", req.UserID), zap.Error(err))
		return protocol.Fail(req, "internal server error")
	}
	if files == nil {
		files = []*storage.FileMetadata{}
	}
	if dirs == nil {
		dirs = []*storage.DirectoryMetadata{}
	}
	return withJSON(protocol.OK(req, "directory contents"), req, protocol.DirectoryContentsResult{
		Files:       files,
		Directories: dirs,
		DirectoryID: raw,
	})
}

// handleDirectoryCreate creates a directory. Sibling names are not
// required to be unique.
func handleDirectoryCreate(ctx context.Context, d *Deps, req *protocol.Packet) *protocol.Packet {
	var payload protocol.DirectoryCreatePayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return failDirOp(req, "", "malformed create request")
	}
	if payload.DirectoryName == "" {
		return failDirOp(req, "", "directory name must not be empty")
	}
	parentID, fail := resolveDirectory(d, req, payload.ParentDirectoryID)
	if fail != nil {
		return fail
	}
	dir, err := d.Meta.CreateDirectory(req.UserID, payload.DirectoryName, parentID)
	if err != nil {
		logging.Error("creating directory", zap.String("user_id", req.UserID), zap.Error(err))
		return failDirOp(req, "", "creating directory failed")
	}
	return withJSON(protocol.OK(req, "directory created"), req, protocol.DirectoryOpResult{
		Success:       true,
		DirectoryID:   dir.ID,
		DirectoryName: dir.Name,
		Message:       "directory created",
	})
}

// handleDirectoryRename renames a directory in place.
func handleDirectoryRename(ctx context.Context, d *Deps, req *protocol.Packet) *protocol.Packet {
	var payload protocol.DirectoryRenamePayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return failDirOp(req, "", "malformed rename request")
	}
	if payload.NewName == "" {
		return failDirOp(req, payload.DirectoryID, "new name must not be empty")
	}
	dir, fail := ownedDirectory(d, req, payload.DirectoryID)
	if fail != nil {
		return fail
	}
	dir.Name = payload.NewName
	if err := d.Meta.UpdateDirectory(dir); err != nil {
		logging.Error("renaming directory", zap.String("directory_id", dir.ID), zap.Error(err))
		return failDirOp(req, dir.ID, "renaming directory failed")
	}
	return withJSON(protocol.OK(req, "directory renamed"), req, protocol.DirectoryOpResult{
		Success:     true,
		DirectoryID: dir.ID,
		Message:     "directory renamed",
	})
}

// handleDirectoryDelete deletes a directory. Without Recursive it refuses
// when the directory has any contents; with it, every descendant directory
// and contained file is removed.
func handleDirectoryDelete(ctx context.Context, d *Deps, req *protocol.Packet) *protocol.Packet {
	dir, fail := ownedDirectory(d, req, req.Meta(protocol.MetaDirectoryID))
	if fail != nil {
		return fail
	}
	recursive := req.MetaBool(protocol.MetaRecursive)

	subdirs, err := d.Meta.ListDirectories(req.UserID, dir.ID)
	if err != nil {
		return failDirOp(req, dir.ID, "deleting directory failed")
	}
	files, err := d.Meta.ListFilesInDirectory(req.UserID, dir.ID)
	if err != nil {
		return failDirOp(req, dir.ID, "deleting directory failed")
	}
	if !recursive && (len(subdirs) > 0 || len(files) > 0) {
		return failDirOp(req, dir.ID, "directory is not empty")
	}

	if err := deleteTree(ctx, d, req.UserID, dir.ID); err != nil {
		logging.Error("deleting directory tree", zap.String("directory_id", dir.ID), zap.Error(err))
		return failDirOp(req, dir.ID, "deleting directory failed")
	}
	return withJSON(protocol.OK(req, "directory deleted"), req, protocol.DirectoryOpResult{
		Success:     true,
		DirectoryID: dir.ID,
		Message:     "directory deleted",
	})
}

// deleteTree removes dirID, its files, and all descendants depth-first.
func deleteTree(ctx context.Context, d *Deps, userID, dirID string) error {
	subdirs, err := d.Meta.ListDirectories(userID, dirID)
	if err != nil {
		return err
	}
	for _, sub := range subdirs {
		if err := deleteTree(ctx, d, userID, sub.ID); err != nil {
			return err
		}
	}
	files, err := d.Meta.ListFilesInDirectory(userID, dirID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := d.Backend.DeleteFile(ctx, f.ID); err != nil {
			return err
		}
		if err := d.Meta.DeleteFile(f.ID); err != nil {
			return err
		}
	}
	return d.Meta.DeleteDirectory(dirID)
}
