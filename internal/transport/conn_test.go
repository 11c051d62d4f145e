package transport

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/cloudvault/cloudvault/internal/faults"
	"github.com/cloudvault/cloudvault/internal/protocol"
)

func pipePair() (*Conn, *Conn) {
	a, b := net.Pipe()
	return New(a, 0), New(b, 0)
}

func TestSendReceiveRoundTrip(t *testing.T) {
	left, right := pipePair()
	defer left.Close()
	defer right.Close()

	sent := protocol.New(protocol.CmdFileListRequest, "u1").
		WithPayload([]byte("payload"))

	errc := make(chan error, 1)
	go func() { errc <- left.Send(sent) }()

	got, err := right.Receive()
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got.Command != sent.Command || got.UserID != sent.UserID || !bytes.Equal(got.Payload, sent.Payload) {
		t.Fatalf("packet mismatch: %+v", got)
	}
}

func TestReceiveAfterPeerClose(t *testing.T) {
	left, right := pipePair()
	defer right.Close()

	_ = left.Close()
	if _, err := right.Receive(); !errors.Is(err, faults.ErrConnectionClosed) {
		t.Fatalf("expected connection-closed, got %v", err)
	}
}

func TestSendAfterPeerClose(t *testing.T) {
	left, right := pipePair()
	defer left.Close()

	_ = right.Close()
	err := left.Send(protocol.New(protocol.CmdFileListRequest, "u1"))
	if err == nil {
		t.Fatalf("send to a closed peer must fail")
	}
}
