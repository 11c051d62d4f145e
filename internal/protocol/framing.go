package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cloudvault/cloudvault/internal/faults"
)

// WriteFrame writes a 4-byte little-endian length prefix followed by body.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) == 0 {
		return faults.Protocol("refusing to write empty frame", nil)
	}
	if len(body)+frameHeader > MaxPacketSize {
		return faults.Protocolf("frame of %d bytes exceeds the %d byte limit", len(body), MaxPacketSize)
	}
	var prefix [frameHeader]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return wrapWriteErr(err)
	}
	if _, err := w.Write(body); err != nil {
		return wrapWriteErr(err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame body. A short read on the
// prefix means the peer closed the connection.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [frameHeader]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, faults.ErrConnectionClosed
	}
	length := binary.LittleEndian.Uint32(prefix[:])
	if length == 0 {
		return nil, faults.Protocol("zero-length frame", nil)
	}
	if int(length)+frameHeader > MaxPacketSize {
		return nil, faults.Protocolf("declared frame length %d exceeds the %d byte limit", length, MaxPacketSize)
	}
	// io.ReadFull loops over the underlying buffered reads until the body
	// is complete.
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, faults.ErrConnectionClosed
		}
		return nil, faults.Protocol("reading frame body", err)
	}
	return body, nil
}

// WritePacket serializes p and writes it as one frame.
func WritePacket(w io.Writer, p *Packet) error {
	body, err := Serialize(p)
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}

// ReadPacket reads one frame and deserializes it.
func ReadPacket(r io.Reader) (*Packet, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Deserialize(body)
}

// Any write failure is terminal for the session, so the exact cause only
// matters for logging.
func wrapWriteErr(err error) error {
	if errors.Is(err, io.ErrClosedPipe) {
		return faults.ErrConnectionClosed
	}
	return fmt.Errorf("writing frame: %w", err)
}
