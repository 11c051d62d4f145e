package protocol

import (
	"encoding/json"

	"github.com/cloudvault/cloudvault/internal/faults"
)

// Serialize encodes a packet as a single JSON object. The payload is
// base64-encoded by encoding/json. Fails only when the encoded form would
// exceed MaxPacketSize.
func Serialize(p *Packet) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, faults.Protocol("serializing packet", err)
	}
	if len(body)+frameHeader > MaxPacketSize {
		return nil, faults.Protocolf("packet of %d bytes exceeds the %d byte limit", len(body), MaxPacketSize)
	}
	return body, nil
}

// Deserialize decodes a packet body produced by Serialize.
func Deserialize(body []byte) (*Packet, error) {
	if len(body) == 0 {
		return nil, faults.Protocol("empty packet body", nil)
	}
	if len(body)+frameHeader > MaxPacketSize {
		return nil, faults.Protocolf("packet of %d bytes exceeds the %d byte limit", len(body), MaxPacketSize)
	}
	var p Packet
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, faults.Protocol("malformed packet body", err)
	}
	if !p.Command.Valid() {
		return nil, faults.Protocolf("unknown command code %d", p.Command)
	}
	return &p, nil
}
