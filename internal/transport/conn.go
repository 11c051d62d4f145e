// Package transport wraps a duplex byte stream with packet framing and
// per-direction serialization.
package transport

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/cloudvault/cloudvault/internal/protocol"
)

// DefaultBufferSize is the socket and framing buffer size.
const DefaultBufferSize = 8 << 10 // 8 KiB

// Conn is a packet-oriented connection. Send and Receive are each guarded
// by their own mutex, so one goroutine may send while another receives,
// but two concurrent sends (or receives) serialize.
type Conn struct {
	raw net.Conn

	sendMu sync.Mutex
	recvMu sync.Mutex
	reader *bufio.Reader
	writer *bufio.Writer
}

// New wraps raw with framing buffers of the given size (0 means
// DefaultBufferSize).
func New(raw net.Conn, bufferSize int) *Conn {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Conn{
		raw:    raw,
		reader: bufio.NewReaderSize(raw, bufferSize),
		writer: bufio.NewWriterSize(raw, bufferSize),
	}
}

// Tune applies the server-side TCP options: keepalive, Nagle disabled,
// and fixed socket buffers.
func Tune(raw net.Conn, bufferSize int) {
	tc, ok := raw.(*net.TCPConn)
	if !ok {
		return
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	_ = tc.SetKeepAlive(true)
	_ = tc.SetKeepAlivePeriod(3 * time.Minute)
	// Disable Nagle's algorithm: responses are small and latency-bound.
	_ = tc.SetNoDelay(true)
	_ = tc.SetReadBuffer(bufferSize)
	_ = tc.SetWriteBuffer(bufferSize)
}

// Send serializes p, writes the length-prefixed frame and flushes.
func (c *Conn) Send(p *protocol.Packet) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := protocol.WritePacket(c.writer, p); err != nil {
		return err
	}
	return c.writer.Flush()
}

// SendRaw writes body as one frame without packet serialization.
func (c *Conn) SendRaw(body []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := protocol.WriteFrame(c.writer, body); err != nil {
		return err
	}
	return c.writer.Flush()
}

// Receive reads exactly one packet.
func (c *Conn) Receive() (*protocol.Packet, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	return protocol.ReadPacket(c.reader)
}

// ReceiveFrame reads one raw frame body without decoding it. A framing
// failure is unrecoverable (the stream cannot resync); a decode failure of
// the returned body is not.
func (c *Conn) ReceiveFrame() ([]byte, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	return protocol.ReadFrame(c.reader)
}

// SetReadDeadline bounds the next Receive.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.raw.SetReadDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Close closes the underlying stream. Safe to call more than once.
func (c *Conn) Close() error {
	return c.raw.Close()
}
