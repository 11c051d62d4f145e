package session

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/cloudvault/cloudvault/internal/faults"
	"github.com/cloudvault/cloudvault/internal/metrics"
	"github.com/cloudvault/cloudvault/internal/protocol"
	"github.com/cloudvault/cloudvault/internal/user"
)

// authRequiredState accepts only LOGIN_REQUEST and CREATE_ACCOUNT_REQUEST.
type authRequiredState struct{}

func (st *authRequiredState) Name() string     { return "AuthRequired" }
func (st *authRequiredState) OnEnter(*Session) {}
func (st *authRequiredState) OnExit(*Session)  {}

func (st *authRequiredState) Handle(ctx context.Context, s *Session, req *protocol.Packet) *protocol.Packet {
	switch req.Command {
	case protocol.CmdLoginRequest:
		return st.login(s, req)
	case protocol.CmdCreateAccountRequest:
		return st.createAccount(s, req)
	default:
		return protocol.ErrorPacket("", "Authentication required")
	}
}

func accountResponse(req *protocol.Packet, result protocol.AccountResult) *protocol.Packet {
	var resp *protocol.Packet
	if result.Success {
		resp = protocol.OK(req, result.Message)
	} else {
		resp = protocol.Fail(req, result.Message)
	}
	data, _ := json.Marshal(result)
	return resp.WithPayload(data)
}

func (st *authRequiredState) login(s *Session, req *protocol.Packet) *protocol.Packet {
	var payload protocol.LoginPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return accountResponse(req, protocol.AccountResult{Success: false, Message: "malformed login request"})
	}
	// Empty credentials fail immediately without reaching the credential
	// check, so they do not count toward the lockout limit.
	if payload.Username == "" || payload.Password == "" {
		return accountResponse(req, protocol.AccountResult{Success: false, Message: "username and password are required"})
	}

	u, err := st.verifyCredentials(s, payload)
	if err != nil {
		metrics.AuthFailuresTotal.Inc()
		if !faults.IsAuth(err) {
			s.log.Error("credential check error", zap.Error(err))
		}
		s.mu.Lock()
		s.failedLogins++
		attempts := s.failedLogins
		s.mu.Unlock()
		s.log.Warn("login failed",
			zap.String("username", payload.Username),
			zap.Int("attempts", attempts))
		if attempts >= MaxFailedLogins {
			err = faults.AuthLockout("too many failed login attempts")
		}
		var ae *faults.AuthenticationError
		if errors.As(err, &ae) && ae.Lockout {
			s.requestClose(OutcomeLockout)
		}
		return accountResponse(req, protocol.AccountResult{Success: false, Message: faults.ClientMessage(err)})
	}

	s.setUser(u.ID)
	s.TransitionTo(&authenticatedState{})
	s.log.Info("login", zap.String("username", u.Username), zap.String("user_id", u.ID))

	resp := accountResponse(req, protocol.AccountResult{Success: true, UserID: u.ID, Message: "login successful"})
	resp.UserID = u.ID
	return resp
}

// verifyCredentials checks the login against the repository and maps the
// failure onto the error taxonomy: a bad username or password becomes an
// AuthenticationError, anything else is internal.
func (st *authRequiredState) verifyCredentials(s *Session, payload protocol.LoginPayload) (*user.User, error) {
	u, err := s.env.Users.ValidateCredentials(payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			return nil, faults.Auth("invalid username or password")
		}
		return nil, faults.Internal(err)
	}
	return u, nil
}

func (st *authRequiredState) createAccount(s *Session, req *protocol.Packet) *protocol.Packet {
	var payload protocol.CreateAccountPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return accountResponse(req, protocol.AccountResult{Success: false, Message: "malformed create-account request"})
	}
	if payload.Username == "" || payload.Password == "" {
		return accountResponse(req, protocol.AccountResult{Success: false, Message: "username and password are required"})
	}

	u, err := s.env.Users.CreateUser(payload.Username, payload.Password, payload.Email, user.RoleUser)
	if err != nil {
		if errors.Is(err, user.ErrDuplicateUser) {
			err = faults.Auth("username already exists")
		} else {
			s.log.Error("creating account", zap.Error(err))
			err = faults.Internal(err)
		}
		return accountResponse(req, protocol.AccountResult{Success: false, Message: faults.ClientMessage(err)})
	}
	if err := s.env.Backend.EnsureUserDir(u.ID); err != nil {
		s.log.Error("creating user storage directory", zap.String("user_id", u.ID), zap.Error(err))
	}
	s.log.Info("account created", zap.String("username", u.Username), zap.String("user_id", u.ID))

	// No auto-login: the session stays in AuthRequired.
	return accountResponse(req, protocol.AccountResult{Success: true, UserID: u.ID, Message: "account created"})
}
