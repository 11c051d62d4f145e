// Package client is the Go client for the cloudvault packet protocol. A
// Client owns one TCP connection and is safe for sequential use only; the
// protocol is strict request/response, so concurrent calls must be
// serialized by the caller or use separate clients.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cloudvault/cloudvault/internal/protocol"
	"github.com/cloudvault/cloudvault/internal/transport"
)

// ErrNotAuthenticated is returned by operations that require a prior Login.
var ErrNotAuthenticated = errors.New("client: not authenticated")

// ServerError is a failure reported by the server, either an explicit
// ERROR packet or a response with Success=false.
type ServerError struct {
	Command protocol.Command
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%s): %s", e.Command, e.Message)
}

// Options tunes a Client. The zero value uses the protocol defaults.
type Options struct {
	// ChunkSize is the upload chunk size. Defaults to protocol.ChunkSize.
	ChunkSize int
	// BufferSize is the connection buffer size. Defaults to 8 KiB.
	BufferSize int
	// DialTimeout bounds the TCP connect. Defaults to 10s.
	DialTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = protocol.ChunkSize
	}
	if o.BufferSize <= 0 {
		o.BufferSize = transport.DefaultBufferSize
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	return o
}

// Client talks to one cloudvault server.
type Client struct {
	conn   *transport.Conn
	opts   Options
	userID string
}

// Dial connects to addr (host:port) and returns an unauthenticated client.
func Dial(addr string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	raw, err := net.DialTimeout("tcp", addr, opts.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	transport.Tune(raw, opts.BufferSize)
	return &Client{
		conn: transport.New(raw, opts.BufferSize),
		opts: opts,
	}, nil
}

// UserID returns the authenticated user id, or "" before Login.
func (c *Client) UserID() string { return c.userID }

// Close drops the connection without a logout handshake.
func (c *Client) Close() error { return c.conn.Close() }

// roundTrip sends req and waits for the single response the server owes.
// ERROR packets and Success=false responses both surface as *ServerError.
func (c *Client) roundTrip(ctx context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
		defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	}
	if err := c.conn.Send(req); err != nil {
		return nil, fmt.Errorf("sending %s: %w", req.Command, err)
	}
	resp, err := c.conn.Receive()
	if err != nil {
		return nil, fmt.Errorf("awaiting %s: %w", req.Command.Response(), err)
	}
	if resp.Command == protocol.CmdError || !resp.Success() {
		return resp, &ServerError{Command: resp.Command, Message: resp.Message()}
	}
	if resp.Command != req.Command.Response() {
		return resp, fmt.Errorf("unexpected response %s to %s", resp.Command, req.Command)
	}
	return resp, nil
}

func (c *Client) request(cmd protocol.Command) *protocol.Packet {
	return protocol.New(cmd, c.userID)
}

func (c *Client) requireAuth() error {
	if c.userID == "" {
		return ErrNotAuthenticated
	}
	return nil
}

// CreateAccount registers a new user. The session stays unauthenticated;
// call Login afterwards.
func (c *Client) CreateAccount(ctx context.Context, username, password, email string) (string, error) {
	if username == "" || password == "" {
		return "", errors.New("client: username and password are required")
	}
	payload, err := json.Marshal(protocol.CreateAccountPayload{
		Username: username,
		Password: password,
		Email:    email,
	})
	if err != nil {
		return "", err
	}
	resp, err := c.roundTrip(ctx, c.request(protocol.CmdCreateAccountRequest).WithPayload(payload))
	if err != nil {
		return "", err
	}
	var result protocol.AccountResult
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		return "", fmt.Errorf("decoding account response: %w", err)
	}
	return result.UserID, nil
}

// Login authenticates the session. Empty credentials are rejected locally
// and never reach the server's failed-attempt counter.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return errors.New("client: username and password are required")
	}
	payload, err := json.Marshal(protocol.LoginPayload{Username: username, Password: password})
	if err != nil {
		return err
	}
	resp, err := c.roundTrip(ctx, c.request(protocol.CmdLoginRequest).WithPayload(payload))
	if err != nil {
		return err
	}
	var result protocol.AccountResult
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}
	if result.UserID == "" {
		return errors.New("client: login response missing user id")
	}
	c.userID = result.UserID
	return nil
}

// Logout ends the session; the server closes the connection afterwards.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	if _, err := c.roundTrip(ctx, c.request(protocol.CmdLogoutRequest)); err != nil {
		return err
	}
	c.userID = ""
	return c.conn.Close()
}
