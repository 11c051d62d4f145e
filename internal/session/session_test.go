package session

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/cloudvault/cloudvault/internal/handler"
	"github.com/cloudvault/cloudvault/internal/protocol"
	"github.com/cloudvault/cloudvault/internal/storage"
	"github.com/cloudvault/cloudvault/internal/transfer"
	"github.com/cloudvault/cloudvault/internal/transport"
	"github.com/cloudvault/cloudvault/internal/user"
)

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	users, err := user.OpenFileRepository(t.TempDir())
	if err != nil {
		t.Fatalf("opening user repository: %v", err)
	}
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
	deps := &handler.Deps{Meta: meta, Backend: backend}
	return &Env{
		Users:       users,
		Backend:     backend,
		Coordinator: &transfer.Coordinator{Meta: meta, Backend: backend, ChunkSize: 1024},
		Dispatcher:  handler.NewDispatcher(deps),
	}
}

// startSession wires a session to an in-memory pipe and returns the
// client-side connection.
func startSession(t *testing.T, env *Env) *transport.Conn {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	sess := New(transport.New(serverSide, 0), env)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(context.Background())
	}()
	t.Cleanup(func() {
		_ = clientSide.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("session goroutine did not exit")
		}
	})
	return transport.New(clientSide, 0)
}

func mustCreateUser(t *testing.T, env *Env, username, password string) *user.User {
	t.Helper()
	u, err := env.Users.CreateUser(username, password, "", user.RoleUser)
	if err != nil {
		t.Fatalf("creating user: %v", err)
	}
	return u
}

func sendRecv(t *testing.T, conn *transport.Conn, req *protocol.Packet) *protocol.Packet {
	t.Helper()
	if err := conn.Send(req); err != nil {
		t.Fatalf("sending %v: %v", req.Command, err)
	}
	resp, err := conn.Receive()
	if err != nil {
		t.Fatalf("receiving response to %v: %v", req.Command, err)
	}
	return resp
}

func loginPacket(username, password string) *protocol.Packet {
	payload, _ := json.Marshal(protocol.LoginPayload{Username: username, Password: password})
	return protocol.New(protocol.CmdLoginRequest, "").WithPayload(payload)
}

func login(t *testing.T, conn *transport.Conn, username, password string) string {
	t.Helper()
	resp := sendRecv(t, conn, loginPacket(username, password))
	if !resp.Success() {
		t.Fatalf("login failed: %s", resp.Message())
	}
	var result protocol.AccountResult
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	return result.UserID
}

func TestUnauthenticatedCommandsRejected(t *testing.T) {
	env := newTestEnv(t)
	conn := startSession(t, env)

	for _, cmd := range []protocol.Command{
		protocol.CmdFileListRequest,
		protocol.CmdFileUploadInitRequest,
		protocol.CmdDirectoryCreateRequest,
		protocol.CmdLogoutRequest,
	} {
		resp := sendRecv(t, conn, protocol.New(cmd, ""))
		if resp.Command != protocol.CmdError {
			t.Fatalf("%v before login: expected ERROR, got %v", cmd, resp.Command)
		}
		if resp.Message() != "Authentication required" {
			t.Fatalf("unexpected message: %q", resp.Message())
		}
	}
}

func TestLoginAndLogout(t *testing.T) {
	env := newTestEnv(t)
	u := mustCreateUser(t, env, "alice", "password123")
	conn := startSession(t, env)

	userID := login(t, conn, "alice", "password123")
	if userID != u.ID {
		t.Fatalf("login returned %q, want %q", userID, u.ID)
	}

	resp := sendRecv(t, conn, protocol.New(protocol.CmdLogoutRequest, userID))
	if resp.Command != protocol.CmdLogoutResponse || !resp.Success() {
		t.Fatalf("unexpected logout response: %+v", resp)
	}

	// The server closes the connection after the logout response.
	if _, err := conn.Receive(); err == nil {
		t.Fatalf("connection must be closed after logout")
	}
}

func TestLockoutAfterFiveFailedLogins(t *testing.T) {
	env := newTestEnv(t)
	mustCreateUser(t, env, "alice", "password123")
	conn := startSession(t, env)

	for i := 1; i <= MaxFailedLogins; i++ {
		resp := sendRecv(t, conn, loginPacket("alice", "wrong-"+strconv.Itoa(i)))
		if resp.Success() {
			t.Fatalf("attempt %d: wrong password must fail", i)
		}
		if i < MaxFailedLogins && resp.Message() != "invalid username or password" {
			t.Fatalf("attempt %d: unexpected message %q", i, resp.Message())
		}
		if i == MaxFailedLogins && resp.Message() != "too many failed login attempts" {
			t.Fatalf("final attempt must announce the lockout, got %q", resp.Message())
		}
	}

	if _, err := conn.Receive(); err == nil {
		t.Fatalf("connection must be closed after the lockout")
	}
}

func TestEmptyCredentialsDoNotCountTowardLockout(t *testing.T) {
	env := newTestEnv(t)
	mustCreateUser(t, env, "alice", "password123")
	conn := startSession(t, env)

	// Far more empty attempts than the limit; none reach the counter.
	for i := 0; i < MaxFailedLogins*2; i++ {
		resp := sendRecv(t, conn, loginPacket("alice", ""))
		if resp.Success() {
			t.Fatalf("empty password must fail")
		}
	}

	// A real login still works.
	login(t, conn, "alice", "password123")
}

func TestCreateAccountThenLogin(t *testing.T) {
	env := newTestEnv(t)
	conn := startSession(t, env)

	payload, _ := json.Marshal(protocol.CreateAccountPayload{Username: "bob", Password: "hunter22", Email: "bob@example.com"})
	resp := sendRecv(t, conn, protocol.New(protocol.CmdCreateAccountRequest, "").WithPayload(payload))
	if !resp.Success() {
		t.Fatalf("create account failed: %s", resp.Message())
	}

	// No auto-login: a file list is still rejected.
	errResp := sendRecv(t, conn, protocol.New(protocol.CmdFileListRequest, ""))
	if errResp.Command != protocol.CmdError {
		t.Fatalf("expected ERROR before login, got %v", errResp.Command)
	}

	login(t, conn, "bob", "hunter22")

	// Duplicate registration on a fresh session fails.
	conn2 := startSession(t, env)
	resp = sendRecv(t, conn2, protocol.New(protocol.CmdCreateAccountRequest, "").WithPayload(payload))
	if resp.Success() {
		t.Fatalf("duplicate account must be rejected")
	}
	if resp.Message() != "username already exists" {
		t.Fatalf("unexpected message: %q", resp.Message())
	}
}

func TestUserIDMismatchRejected(t *testing.T) {
	env := newTestEnv(t)
	mustCreateUser(t, env, "alice", "password123")
	conn := startSession(t, env)
	login(t, conn, "alice", "password123")

	resp := sendRecv(t, conn, protocol.New(protocol.CmdFileListRequest, "someone-else"))
	if resp.Command != protocol.CmdError {
		t.Fatalf("expected ERROR for mismatched user id, got %v", resp.Command)
	}
}

func TestTransferStateRejectsOtherCommands(t *testing.T) {
	env := newTestEnv(t)
	mustCreateUser(t, env, "alice", "password123")
	conn := startSession(t, env)
	userID := login(t, conn, "alice", "password123")

	initPayload, _ := json.Marshal(protocol.UploadInitPayload{FileName: "a.bin", FileSize: 2048, ContentType: "application/octet-stream"})
	resp := sendRecv(t, conn, protocol.New(protocol.CmdFileUploadInitRequest, userID).WithPayload(initPayload))
	if !resp.Success() {
		t.Fatalf("upload init failed: %s", resp.Message())
	}
	fileID := resp.Meta(protocol.MetaFileID)

	// Mid-upload, a file list is illegal.
	errResp := sendRecv(t, conn, protocol.New(protocol.CmdFileListRequest, userID))
	if errResp.Command != protocol.CmdError {
		t.Fatalf("expected ERROR during upload, got %v", errResp.Command)
	}
	if errResp.Message() != "Command not supported during upload" {
		t.Fatalf("unexpected message: %q", errResp.Message())
	}

	// A second upload init is illegal too.
	errResp = sendRecv(t, conn, protocol.New(protocol.CmdFileUploadInitRequest, userID).WithPayload(initPayload))
	if errResp.Command != protocol.CmdError {
		t.Fatalf("expected ERROR for nested upload init, got %v", errResp.Command)
	}

	// The transfer itself still proceeds.
	chunk := protocol.New(protocol.CmdFileUploadChunkRequest, userID).
		WithMeta(protocol.MetaFileID, fileID).
		WithMeta(protocol.MetaChunkIndex, "0").
		WithPayload(make([]byte, 1024))
	if resp := sendRecv(t, conn, chunk); !resp.Success() {
		t.Fatalf("chunk rejected: %s", resp.Message())
	}
}

func TestUploadCompleteReturnsToAuthenticated(t *testing.T) {
	env := newTestEnv(t)
	mustCreateUser(t, env, "alice", "password123")
	conn := startSession(t, env)
	userID := login(t, conn, "alice", "password123")

	initPayload, _ := json.Marshal(protocol.UploadInitPayload{FileName: "b.bin", FileSize: 512})
	resp := sendRecv(t, conn, protocol.New(protocol.CmdFileUploadInitRequest, userID).WithPayload(initPayload))
	if !resp.Success() {
		t.Fatalf("upload init failed: %s", resp.Message())
	}
	fileID := resp.Meta(protocol.MetaFileID)

	chunk := protocol.New(protocol.CmdFileUploadChunkRequest, userID).
		WithMeta(protocol.MetaFileID, fileID).
		WithMeta(protocol.MetaChunkIndex, "0").
		WithMeta(protocol.MetaIsLastChunk, "true").
		WithPayload(make([]byte, 512))
	if resp := sendRecv(t, conn, chunk); !resp.Success() {
		t.Fatalf("chunk rejected: %s", resp.Message())
	}

	resp = sendRecv(t, conn, protocol.New(protocol.CmdFileUploadCompleteRequest, userID).
		WithMeta(protocol.MetaFileID, fileID))
	if !resp.Success() {
		t.Fatalf("upload complete failed: %s", resp.Message())
	}

	// Back in the authenticated state, a file list succeeds again.
	listResp := sendRecv(t, conn, protocol.New(protocol.CmdFileListRequest, userID))
	if listResp.Command != protocol.CmdFileListResponse || !listResp.Success() {
		t.Fatalf("file list after upload failed: %+v", listResp)
	}
}

func TestUploadCompleteWithMissingChunksFails(t *testing.T) {
	env := newTestEnv(t)
	mustCreateUser(t, env, "alice", "password123")
	conn := startSession(t, env)
	userID := login(t, conn, "alice", "password123")

	// 2048 bytes at the 1024-byte test chunk size means two chunks.
	initPayload, _ := json.Marshal(protocol.UploadInitPayload{FileName: "half.bin", FileSize: 2048})
	resp := sendRecv(t, conn, protocol.New(protocol.CmdFileUploadInitRequest, userID).WithPayload(initPayload))
	if !resp.Success() {
		t.Fatalf("upload init failed: %s", resp.Message())
	}
	fileID := resp.Meta(protocol.MetaFileID)

	chunk := protocol.New(protocol.CmdFileUploadChunkRequest, userID).
		WithMeta(protocol.MetaFileID, fileID).
		WithMeta(protocol.MetaChunkIndex, "0").
		WithPayload(make([]byte, 1024))
	if resp := sendRecv(t, conn, chunk); !resp.Success() {
		t.Fatalf("chunk rejected: %s", resp.Message())
	}

	// Completing with a chunk still outstanding must fail.
	resp = sendRecv(t, conn, protocol.New(protocol.CmdFileUploadCompleteRequest, userID).
		WithMeta(protocol.MetaFileID, fileID))
	if resp.Success() {
		t.Fatalf("completion with missing chunks must fail")
	}

	stored, err := env.Coordinator.Meta.GetFile(fileID)
	if err != nil {
		t.Fatalf("file metadata missing: %v", err)
	}
	if stored.IsComplete {
		t.Fatalf("partial upload must not be marked complete")
	}

	// The session is back in the authenticated state.
	listResp := sendRecv(t, conn, protocol.New(protocol.CmdFileListRequest, userID))
	if listResp.Command != protocol.CmdFileListResponse || !listResp.Success() {
		t.Fatalf("file list after failed completion: %+v", listResp)
	}
}

func TestMalformedPacketKeepsSessionAlive(t *testing.T) {
	env := newTestEnv(t)
	mustCreateUser(t, env, "alice", "password123")
	conn := startSession(t, env)

	// A well-framed but undecodable body gets an ERROR, not a disconnect.
	if err := conn.SendRaw([]byte("{broken json")); err != nil {
		t.Fatalf("sending raw frame: %v", err)
	}
	resp, err := conn.Receive()
	if err != nil {
		t.Fatalf("receiving error response: %v", err)
	}
	if resp.Command != protocol.CmdError {
		t.Fatalf("expected ERROR, got %v", resp.Command)
	}

	// The session is still usable.
	login(t, conn, "alice", "password123")
}

func TestIdleSessionExpires(t *testing.T) {
	env := newTestEnv(t)
	serverSide, clientSide := net.Pipe()
	sess := New(transport.New(serverSide, 0), env)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(context.Background())
	}()
	defer clientSide.Close()

	if sess.Expire(time.Hour) {
		t.Fatalf("fresh session must not expire")
	}
	time.Sleep(20 * time.Millisecond)
	if !sess.Expire(10 * time.Millisecond) {
		t.Fatalf("idle session must expire")
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("expired session did not terminate")
	}
}
