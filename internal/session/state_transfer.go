package session

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/cloudvault/cloudvault/internal/faults"
	"github.com/cloudvault/cloudvault/internal/protocol"
	"github.com/cloudvault/cloudvault/internal/transfer"
)

func itoa(n int) string { return strconv.Itoa(n) }

// transferState owns the single in-flight transfer. Any command that is
// not a continuation of that transfer is rejected; in particular a second
// upload-init or download-init.
type transferState struct {
	t        *transfer.Transfer
	finished bool
}

func newTransferState(t *transfer.Transfer) *transferState {
	return &transferState{t: t}
}

func (st *transferState) Name() string {
	if st.t.Uploading {
		return "Transfer(upload)"
	}
	return "Transfer(download)"
}

func (st *transferState) OnEnter(*Session) {}

// OnExit cancels the transfer when the state ends for any reason other
// than normal completion (disconnect, timeout, protocol error).
func (st *transferState) OnExit(s *Session) {
	if !st.finished {
		s.env.Coordinator.Cancel(st.t, "session left transfer state")
	}
}

func (st *transferState) Handle(ctx context.Context, s *Session, req *protocol.Packet) *protocol.Packet {
	if mismatch := s.checkUser(req); mismatch != nil {
		return mismatch
	}

	if st.t.Uploading {
		switch req.Command {
		case protocol.CmdFileUploadChunkRequest:
			return s.env.Coordinator.WriteChunk(ctx, st.t, req)
		case protocol.CmdFileUploadCompleteRequest:
			return st.uploadComplete(ctx, s, req)
		default:
			return protocol.ErrorPacket(s.UserID(), "Command not supported during upload")
		}
	}

	switch req.Command {
	case protocol.CmdFileDownloadChunkRequest:
		return s.env.Coordinator.ReadChunk(ctx, st.t, req)
	case protocol.CmdFileDownloadCompleteRequest:
		return st.downloadComplete(s, req)
	default:
		return protocol.ErrorPacket(s.UserID(), "Command not supported during download")
	}
}

func (st *transferState) uploadComplete(ctx context.Context, s *Session, req *protocol.Packet) *protocol.Packet {
	if id := req.Meta(protocol.MetaFileID); id != "" && id != st.t.File.ID {
		return protocol.Fail(req, "FileId does not match the transfer in progress").
			WithMeta(protocol.MetaFileID, st.t.File.ID)
	}

	err := s.env.Coordinator.FinishUpload(ctx, st.t)

	// The transfer window closes either way. A failed finalize leaves the
	// file incomplete and the transfer is cancelled on exit.
	st.finished = err == nil
	s.TransitionTo(&authenticatedState{})

	if err != nil {
		s.log.Error("upload finalize failed", zap.String("file_id", st.t.File.ID), zap.Error(err))
		return protocol.Fail(req, faults.ClientMessage(err)).
			WithMeta(protocol.MetaFileID, st.t.File.ID)
	}
	return protocol.OK(req, "upload complete").
		WithMeta(protocol.MetaFileID, st.t.File.ID).
		WithMeta(protocol.MetaChunkIndex, itoa(st.t.NextChunk))
}

func (st *transferState) downloadComplete(s *Session, req *protocol.Packet) *protocol.Packet {
	// The server does not verify every chunk was pulled; completion is a
	// client-driven close of the transfer window.
	s.env.Coordinator.FinishDownload(st.t)
	st.finished = true
	s.TransitionTo(&authenticatedState{})
	return protocol.OK(req, "download complete").
		WithMeta(protocol.MetaFileID, st.t.File.ID)
}
