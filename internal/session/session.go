package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloudvault/cloudvault/internal/faults"
	"github.com/cloudvault/cloudvault/internal/handler"
	"github.com/cloudvault/cloudvault/internal/logging"
	"github.com/cloudvault/cloudvault/internal/metrics"
	"github.com/cloudvault/cloudvault/internal/protocol"
	"github.com/cloudvault/cloudvault/internal/storage"
	"github.com/cloudvault/cloudvault/internal/transfer"
	"github.com/cloudvault/cloudvault/internal/transport"
	"github.com/cloudvault/cloudvault/internal/user"
)

// MaxFailedLogins closes the connection after this many failed attempts.
const MaxFailedLogins = 5

// Env bundles the collaborators shared by every session.
type Env struct {
	Users       user.Repository
	Backend     storage.Backend
	Coordinator *transfer.Coordinator
	Dispatcher  *handler.Dispatcher
}

// Session is the server-side per-connection context. All packet handling
// runs on the session's own goroutine; Expire and Shutdown may be called
// from the manager's goroutine.
type Session struct {
	ID   string
	conn *transport.Conn
	env  *Env
	log  *zap.Logger

	mu           sync.Mutex
	state        State
	userID       string
	lastActivity time.Time
	failedLogins int
	closing      bool
	outcome      string
}

// New creates a session in the AuthRequired state.
func New(conn *transport.Conn, env *Env) *Session {
	s := &Session{
		ID:           uuid.NewString(),
		conn:         conn,
		env:          env,
		lastActivity: time.Now(),
		outcome:      OutcomeConnectionLost,
	}
	s.log = logging.GetLogger().With(
		zap.String("session_id", s.ID),
		zap.String("remote", conn.RemoteAddr().String()),
	)
	s.state = &authRequiredState{}
	s.state.OnEnter(s)
	return s
}

// UserID returns the authenticated user id ("" before login).
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// StateName returns the current state's name.
func (s *Session) StateName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Name()
}

// IdleFor returns how long the session has been without an accepted packet.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TransitionTo swaps the current state, running OnExit and OnEnter.
func (s *Session) TransitionTo(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	prev.OnExit(s)
	next.OnEnter(s)
	s.log.Debug("state transition",
		zap.String("from", prev.Name()),
		zap.String("to", next.Name()))
}

// requestClose marks the session for closure after the pending response is
// sent.
func (s *Session) requestClose(outcome string) {
	s.mu.Lock()
	s.closing = true
	s.outcome = outcome
	s.mu.Unlock()
}

func (s *Session) shouldClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Session) setUser(id string) {
	s.mu.Lock()
	s.userID = id
	s.mu.Unlock()
}

// checkUser verifies invariant 3: every packet in Authenticated or
// Transfer state must echo the session's user id.
func (s *Session) checkUser(req *protocol.Packet) *protocol.Packet {
	if req.UserID != s.UserID() {
		return protocol.ErrorPacket(s.UserID(), "packet user id does not match session user")
	}
	return nil
}

// Run processes packets until the session terminates. It blocks until the
// connection is closed and always leaves the session in Disconnecting.
func (s *Session) Run(ctx context.Context) {
	defer s.finish()
	s.log.Info("session started")

	for {
		body, err := s.conn.ReceiveFrame()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			if !closing {
				if faults.IsProtocol(err) {
					// Bad length prefix: the stream cannot resync.
					s.outcome = OutcomeProtocolError
				} else {
					s.outcome = OutcomeConnectionLost
				}
				s.closing = true
			}
			s.mu.Unlock()
			if !closing && faults.IsProtocol(err) {
				s.log.Warn("unrecoverable framing error", zap.Error(err))
			}
			return
		}

		req, err := protocol.Deserialize(body)
		if err != nil {
			// The frame boundary held, so the stream is still in sync;
			// report and keep the session alive.
			s.log.Warn("malformed packet", zap.Error(err))
			if sendErr := s.conn.Send(protocol.ErrorPacket(s.UserID(), faults.ClientMessage(err))); sendErr != nil {
				s.requestClose(OutcomeConnectionLost)
				return
			}
			continue
		}

		s.touch()
		metrics.RecordPacket(req.Command.String(), "in")

		resp := s.currentState().Handle(ctx, s, req)
		if resp != nil {
			metrics.RecordPacket(resp.Command.String(), "out")
			if err := s.conn.Send(resp); err != nil {
				s.log.Warn("send failed", zap.Error(err))
				s.requestClose(OutcomeConnectionLost)
				return
			}
		}
		if s.shouldClose() {
			return
		}
	}
}

// finish runs the terminal transition and closes the connection.
func (s *Session) finish() {
	s.mu.Lock()
	outcome := s.outcome
	_, alreadyDisconnecting := s.state.(*disconnectingState)
	s.mu.Unlock()
	if !alreadyDisconnecting {
		s.TransitionTo(&disconnectingState{})
	}
	_ = s.conn.Close()
	metrics.RecordSessionEnd(outcome)
	s.log.Info("session closed", zap.String("outcome", outcome))
}

// Expire forcibly disconnects the session if it has been idle longer than
// timeout. Called from the manager's sweep goroutine.
func (s *Session) Expire(timeout time.Duration) bool {
	if s.IdleFor() < timeout {
		return false
	}
	s.log.Info("session idle timeout", zap.Duration("idle", s.IdleFor()))
	s.terminate(OutcomeTimeout)
	return true
}

// Shutdown disconnects the session as part of server shutdown.
func (s *Session) Shutdown() {
	s.terminate(OutcomeShutdown)
}

func (s *Session) terminate(outcome string) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.outcome = outcome
	s.mu.Unlock()
	// Closing the connection unblocks the Run loop; finish() then performs
	// the Disconnecting transition, cancelling any in-flight transfer.
	_ = s.conn.Close()
}
