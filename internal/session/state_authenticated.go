package session

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/cloudvault/cloudvault/internal/faults"
	"github.com/cloudvault/cloudvault/internal/protocol"
)

// authenticatedState accepts logout, the file/directory commands, and
// transfer initiation.
type authenticatedState struct{}

func (st *authenticatedState) Name() string     { return "Authenticated" }
func (st *authenticatedState) OnEnter(*Session) {}
func (st *authenticatedState) OnExit(*Session)  {}

func (st *authenticatedState) Handle(ctx context.Context, s *Session, req *protocol.Packet) *protocol.Packet {
	if mismatch := s.checkUser(req); mismatch != nil {
		return mismatch
	}

	switch req.Command {
	case protocol.CmdLogoutRequest:
		s.requestClose(OutcomeLogout)
		return protocol.OK(req, "logged out")
	case protocol.CmdFileUploadInitRequest:
		return st.uploadInit(ctx, s, req)
	case protocol.CmdFileDownloadInitRequest:
		return st.downloadInit(ctx, s, req)
	}

	if s.env.Dispatcher.Supports(req.Command) {
		return s.env.Dispatcher.Dispatch(ctx, req)
	}
	return protocol.ErrorPacket(s.UserID(), "Command not supported in authenticated state")
}

func uploadInitResponse(req *protocol.Packet, result protocol.UploadInitResult) *protocol.Packet {
	var resp *protocol.Packet
	if result.Success {
		resp = protocol.OK(req, result.Message)
	} else {
		resp = protocol.Fail(req, result.Message)
	}
	data, _ := json.Marshal(result)
	return resp.WithPayload(data)
}

func (st *authenticatedState) uploadInit(ctx context.Context, s *Session, req *protocol.Packet) *protocol.Packet {
	var payload protocol.UploadInitPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return uploadInitResponse(req, protocol.UploadInitResult{Success: false, Message: "malformed upload request"})
	}

	directoryID := ""
	if raw := req.Meta(protocol.MetaDirectoryID); raw != "" && raw != protocol.RootDirectoryID {
		dir, err := s.env.Coordinator.Meta.GetDirectory(raw)
		if err != nil || dir.UserID != s.UserID() {
			return uploadInitResponse(req, protocol.UploadInitResult{Success: false, Message: "directory not found"})
		}
		directoryID = dir.ID
	}

	t, err := s.env.Coordinator.InitUpload(ctx, s.UserID(), &payload, directoryID)
	if err != nil {
		if faults.IsInternal(err) {
			s.log.Error("upload init failed", zap.String("file_name", payload.FileName), zap.Error(err))
		} else {
			s.log.Warn("upload init rejected", zap.String("file_name", payload.FileName), zap.Error(err))
		}
		return uploadInitResponse(req, protocol.UploadInitResult{Success: false, Message: faults.ClientMessage(err)})
	}

	s.TransitionTo(newTransferState(t))
	s.log.Info("upload started",
		zap.String("file_id", t.File.ID),
		zap.String("file_name", t.File.FileName),
		zap.Int64("file_size", t.File.FileSize),
		zap.Int("total_chunks", t.TotalChunks))

	return uploadInitResponse(req, protocol.UploadInitResult{
		Success:     true,
		FileID:      t.File.ID,
		TotalChunks: t.TotalChunks,
		Message:     "upload initialized",
	}).WithMeta(protocol.MetaFileID, t.File.ID)
}

func downloadInitResponse(req *protocol.Packet, result protocol.DownloadInitResult) *protocol.Packet {
	var resp *protocol.Packet
	if result.Success {
		resp = protocol.OK(req, result.Message)
	} else {
		resp = protocol.Fail(req, result.Message)
	}
	data, _ := json.Marshal(result)
	return resp.WithPayload(data)
}

func (st *authenticatedState) downloadInit(ctx context.Context, s *Session, req *protocol.Packet) *protocol.Packet {
	fileID := req.Meta(protocol.MetaFileID)
	if fileID == "" {
		return downloadInitResponse(req, protocol.DownloadInitResult{Success: false, Message: "FileId is required"})
	}

	t, err := s.env.Coordinator.InitDownload(ctx, s.UserID(), fileID)
	if err != nil {
		if faults.IsFileOp(err) {
			s.log.Warn("download init rejected", zap.String("file_id", fileID), zap.Error(err))
		} else {
			s.log.Error("download init failed", zap.String("file_id", fileID), zap.Error(err))
		}
		return downloadInitResponse(req, protocol.DownloadInitResult{Success: false, Message: faults.ClientMessage(err)})
	}

	s.TransitionTo(newTransferState(t))
	s.log.Info("download started",
		zap.String("file_id", t.File.ID),
		zap.String("file_name", t.File.FileName),
		zap.Int("total_chunks", t.TotalChunks))

	return downloadInitResponse(req, protocol.DownloadInitResult{
		Success:     true,
		FileID:      t.File.ID,
		FileName:    t.File.FileName,
		FileSize:    t.File.FileSize,
		ContentType: t.File.ContentType,
		TotalChunks: t.TotalChunks,
		Message:     "download initialized",
	}).WithMeta(protocol.MetaFileID, t.File.ID).
		WithMeta(protocol.MetaTotalChunks, itoa(t.TotalChunks))
}
