package session

import (
	"context"

	"github.com/cloudvault/cloudvault/internal/protocol"
)

// disconnectingState rejects everything; the connection is about to close.
type disconnectingState struct{}

func (st *disconnectingState) Name() string     { return "Disconnecting" }
func (st *disconnectingState) OnEnter(*Session) {}
func (st *disconnectingState) OnExit(*Session)  {}

func (st *disconnectingState) Handle(ctx context.Context, s *Session, req *protocol.Packet) *protocol.Packet {
	return protocol.ErrorPacket(s.UserID(), "Session is disconnecting")
}
