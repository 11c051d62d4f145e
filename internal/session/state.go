// Package session implements the per-connection state machine. A session
// owns its connection and transfer context exclusively; the current state
// is the only place that decides whether a command is legal right now.
package session

import (
	"context"

	"github.com/cloudvault/cloudvault/internal/protocol"
)

// State governs which commands a session accepts. Handle returns the
// response packet (nil only when the session is already unable to reply)
// and performs transitions through Session.TransitionTo.
//
// States hold no back-reference to the session; it is passed in.
type State interface {
	Name() string
	OnEnter(s *Session)
	OnExit(s *Session)
	Handle(ctx context.Context, s *Session, req *protocol.Packet) *protocol.Packet
}

// Session termination outcomes, used for logging and metrics.
const (
	OutcomeLogout         = "logout"
	OutcomeTimeout        = "timeout"
	OutcomeLockout        = "lockout"
	OutcomeProtocolError  = "protocol_error"
	OutcomeConnectionLost = "connection_lost"
	OutcomeShutdown       = "shutdown"
)
