package handler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudvault/cloudvault/internal/protocol"
	"github.com/cloudvault/cloudvault/internal/storage"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *Deps) {
	t.Helper()
	meta, err := storage.OpenMetadataStore(t.TempDir())
	if err != nil {
		t.Fatalf("opening metadata store: %v", err)
	}
	backend, err := storage.NewLocalBackend(t.TempDir(), false, func(fileID string) (string, error) {
		f, err := meta.GetFile(fileID)
		if err != nil {
			return "", err
		}
		return f.UserID, nil
	})
	if err != nil {
		t.Fatalf("opening backend: %v", err)
	}
	deps := &Deps{Meta: meta, Backend: backend}
	return NewDispatcher(deps), deps
}

func dispatch(t *testing.T, d *Dispatcher, req *protocol.Packet) *protocol.Packet {
	t.Helper()
	if !d.Supports(req.Command) {
		t.Fatalf("dispatcher does not support %v", req.Command)
	}
	resp := d.Dispatch(context.Background(), req)
	if resp == nil {
		t.Fatalf("nil response for %v", req.Command)
	}
	return resp
}

func TestFileListEmptyIsArray(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := dispatch(t, d, protocol.New(protocol.CmdFileListRequest, "u1"))
	if !resp.Success() {
		t.Fatalf("file list failed: %s", resp.Message())
	}
	if string(resp.Payload) != "[]" {
		t.Fatalf("empty list must encode as [], got %s", resp.Payload)
	}
}

func TestFileListScopedToUser(t *testing.T) {
	d, deps := newTestDispatcher(t)
	if _, err := deps.Meta.CreateFile("u1", "mine.txt", "text/plain", 10, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := deps.Meta.CreateFile("u2", "theirs.txt", "text/plain", 10, ""); err != nil {
		t.Fatal(err)
	}

	resp := dispatch(t, d, protocol.New(protocol.CmdFileListRequest, "u1"))
	var files []*storage.FileMetadata
	if err := json.Unmarshal(resp.Payload, &files); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(files) != 1 || files[0].FileName != "mine.txt" {
		t.Fatalf("expected only the user's own file, got %+v", files)
	}
}

func TestFileDeleteEnforcesOwnership(t *testing.T) {
	d, deps := newTestDispatcher(t)
	f, err := deps.Meta.CreateFile("u1", "mine.txt", "text/plain", 10, "")
	if err != nil {
		t.Fatal(err)
	}

	resp := dispatch(t, d, protocol.New(protocol.CmdFileDeleteRequest, "u2").
		WithMeta(protocol.MetaFileID, f.ID))
	if resp.Success() {
		t.Fatalf("foreign delete must fail")
	}
	if resp.Message() != "file not found" {
		t.Fatalf("foreign delete must read as not-found, got %q", resp.Message())
	}

	resp = dispatch(t, d, protocol.New(protocol.CmdFileDeleteRequest, "u1").
		WithMeta(protocol.MetaFileID, f.ID))
	if !resp.Success() {
		t.Fatalf("owner delete failed: %s", resp.Message())
	}
	if _, err := deps.Meta.GetFile(f.ID); err == nil {
		t.Fatalf("metadata must be gone after delete")
	}
}

func TestFileMoveRoundTrip(t *testing.T) {
	d, deps := newTestDispatcher(t)
	f, err := deps.Meta.CreateFile("u1", "move.txt", "text/plain", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	dir, err := deps.Meta.CreateDirectory("u1", "dest", "")
	if err != nil {
		t.Fatal(err)
	}

	move := func(target string) *protocol.Packet {
		payload, _ := json.Marshal(protocol.MovePayload{FileID: f.ID, TargetDirectoryID: target})
		return dispatch(t, d, protocol.New(protocol.CmdFileMoveRequest, "u1").WithPayload(payload))
	}

	if resp := move(dir.ID); !resp.Success() {
		t.Fatalf("move into directory failed: %s", resp.Message())
	}
	got, _ := deps.Meta.GetFile(f.ID)
	if got.DirectoryID != dir.ID {
		t.Fatalf("file not reparented: %q", got.DirectoryID)
	}

	// And back to the root.
	if resp := move(""); !resp.Success() {
		t.Fatalf("move to root failed: %s", resp.Message())
	}
	got, _ = deps.Meta.GetFile(f.ID)
	if got.DirectoryID != "" {
		t.Fatalf("file not moved to root: %q", got.DirectoryID)
	}

	if resp := move("no-such-dir"); resp.Success() {
		t.Fatalf("move into a missing directory must fail")
	}
}

func TestDirectoryCreateAndContents(t *testing.T) {
	d, deps := newTestDispatcher(t)

	payload, _ := json.Marshal(protocol.DirectoryCreatePayload{DirectoryName: "docs"})
	resp := dispatch(t, d, protocol.New(protocol.CmdDirectoryCreateRequest, "u1").WithPayload(payload))
	if !resp.Success() {
		t.Fatalf("create failed: %s", resp.Message())
	}
	var created protocol.DirectoryOpResult
	if err := json.Unmarshal(resp.Payload, &created); err != nil {
		t.Fatal(err)
	}
	if created.DirectoryID == "" {
		t.Fatalf("create response must carry the new id")
	}

	if _, err := deps.Meta.CreateFile("u1", "inside.txt", "text/plain", 5, created.DirectoryID); err != nil {
		t.Fatal(err)
	}

	resp = dispatch(t, d, protocol.New(protocol.CmdDirectoryContentsRequest, "u1").
		WithMeta(protocol.MetaDirectoryID, created.DirectoryID))
	var contents protocol.DirectoryContentsResult
	if err := json.Unmarshal(resp.Payload, &contents); err != nil {
		t.Fatal(err)
	}
	if len(contents.Files) != 1 || contents.Files[0].FileName != "inside.txt" {
		t.Fatalf("unexpected contents: %+v", contents.Files)
	}
	if contents.DirectoryID != created.DirectoryID {
		t.Fatalf("contents must echo the requested directory id")
	}

	// Root contents via the sentinel.
	resp = dispatch(t, d, protocol.New(protocol.CmdDirectoryContentsRequest, "u1").
		WithMeta(protocol.MetaDirectoryID, protocol.RootDirectoryID))
	if err := json.Unmarshal(resp.Payload, &contents); err != nil {
		t.Fatal(err)
	}
	if len(contents.Directories) != 1 {
		t.Fatalf("root must list the created directory, got %+v", contents.Directories)
	}
}

func TestDirectoryRename(t *testing.T) {
	d, deps := newTestDispatcher(t)
	dir, err := deps.Meta.CreateDirectory("u1", "old", "")
	if err != nil {
		t.Fatal(err)
	}

	payload, _ := json.Marshal(protocol.DirectoryRenamePayload{DirectoryID: dir.ID, NewName: "new"})
	resp := dispatch(t, d, protocol.New(protocol.CmdDirectoryRenameRequest, "u1").WithPayload(payload))
	if !resp.Success() {
		t.Fatalf("rename failed: %s", resp.Message())
	}
	got, _ := deps.Meta.GetDirectory(dir.ID)
	if got.Name != "new" {
		t.Fatalf("directory not renamed: %q", got.Name)
	}

	payload, _ = json.Marshal(protocol.DirectoryRenamePayload{DirectoryID: dir.ID, NewName: ""})
	if resp := dispatch(t, d, protocol.New(protocol.CmdDirectoryRenameRequest, "u1").WithPayload(payload)); resp.Success() {
		t.Fatalf("empty new name must be rejected")
	}
}

func TestDirectoryDeleteRefusesNonEmpty(t *testing.T) {
	d, deps := newTestDispatcher(t)
	dir, err := deps.Meta.CreateDirectory("u1", "full", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := deps.Meta.CreateFile("u1", "blocker.txt", "text/plain", 5, dir.ID); err != nil {
		t.Fatal(err)
	}

	resp := dispatch(t, d, protocol.New(protocol.CmdDirectoryDeleteRequest, "u1").
		WithMeta(protocol.MetaDirectoryID, dir.ID))
	if resp.Success() {
		t.Fatalf("non-recursive delete of a non-empty directory must fail")
	}
	if resp.Message() != "directory is not empty" {
		t.Fatalf("unexpected message: %q", resp.Message())
	}
}

func TestDirectoryDeleteRecursive(t *testing.T) {
	d, deps := newTestDispatcher(t)
	parent, err := deps.Meta.CreateDirectory("u1", "parent", "")
	if err != nil {
		t.Fatal(err)
	}
	child, err := deps.Meta.CreateDirectory("u1", "child", parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	f, err := deps.Meta.CreateFile("u1", "deep.txt", "text/plain", 5, child.ID)
	if err != nil {
		t.Fatal(err)
	}

	resp := dispatch(t, d, protocol.New(protocol.CmdDirectoryDeleteRequest, "u1").
		WithMeta(protocol.MetaDirectoryID, parent.ID).
		WithMeta(protocol.MetaRecursive, "true"))
	if !resp.Success() {
		t.Fatalf("recursive delete failed: %s", resp.Message())
	}

	if _, err := deps.Meta.GetDirectory(parent.ID); err == nil {
		t.Fatalf("parent must be gone")
	}
	if _, err := deps.Meta.GetDirectory(child.ID); err == nil {
		t.Fatalf("child must be gone")
	}
	if _, err := deps.Meta.GetFile(f.ID); err == nil {
		t.Fatalf("nested file must be gone")
	}
}
