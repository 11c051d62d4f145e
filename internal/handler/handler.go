// Package handler implements the non-transfer command handlers. Each
// handler performs at most one backend call and returns a response packet;
// session state is never touched here.
package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/cloudvault/cloudvault/internal/logging"
	"github.com/cloudvault/cloudvault/internal/protocol"
	"github.com/cloudvault/cloudvault/internal/storage"
)

// Deps carries the collaborators the handlers call into.
type Deps struct {
	Meta    *storage.MetadataStore
	Backend storage.Backend
}

// Func handles one request packet. The session has already verified that
// req.UserID matches the authenticated user.
type Func func(ctx context.Context, d *Deps, req *protocol.Packet) *protocol.Packet

// Dispatcher routes request packets to their handler by command code.
type Dispatcher struct {
	deps     *Deps
	handlers map[protocol.Command]Func
}

// NewDispatcher builds the handler table for the non-transfer commands.
func NewDispatcher(deps *Deps) *Dispatcher {
	return &Dispatcher{
		deps: deps,
		handlers: map[protocol.Command]Func{
			protocol.CmdFileListRequest:          handleFileList,
			protocol.CmdFileDeleteRequest:        handleFileDelete,
			protocol.CmdFileMoveRequest:          handleFileMove,
			protocol.CmdDirectoryListRequest:     handleDirectoryList,
			protocol.CmdDirectoryContentsRequest: handleDirectoryContents,
			protocol.CmdDirectoryCreateRequest:   handleDirectoryCreate,
			protocol.CmdDirectoryRenameRequest:   handleDirectoryRename,
			protocol.CmdDirectoryDeleteRequest:   handleDirectoryDelete,
		},
	}
}

// Supports reports whether cmd has a registered handler.
func (d *Dispatcher) Supports(cmd protocol.Command) bool {
	_, ok := d.handlers[cmd]
	return ok
}

// Dispatch runs the handler for req. The caller guarantees Supports.
func (d *Dispatcher) Dispatch(ctx context.Context, req *protocol.Packet) *protocol.Packet {
	h, ok := d.handlers[req.Command]
	if !ok {
		return protocol.ErrorPacket(req.UserID, "unsupported command")
	}
	return h(ctx, d.deps, req)
}

// withJSON attaches v as the response payload, downgrading to an internal
// error response if encoding fails.
func withJSON(resp *protocol.Packet, req *protocol.Packet, v any) *protocol.Packet {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error("encoding response payload", zap.Error(err))
		return protocol.Fail(req, "internal server error")
	}
	return resp.WithPayload(data)
}

// resolveDirectory maps a request directory reference to a store id.
// "" and "root" mean the user's root. A concrete id must exist and belong
// to userID; otherwise the second return is a ready failure response.
func resolveDirectory(d *Deps, req *protocol.Packet, raw string) (string, *protocol.Packet) {
	if raw == "" || raw == protocol.RootDirectoryID {
		return "", nil
	}
	dir, err := d.Meta.GetDirectory(raw)
	if err != nil || dir.UserID != req.UserID {
		return "", protocol.Fail(req, "directory not found").WithMeta(protocol.MetaDirectoryID, raw)
	}
	return dir.ID, nil
}
