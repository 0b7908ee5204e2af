// ABOUTME: Gateway frame envelope and opcode definitions
// ABOUTME: Encodes and decodes the {op, d, s, t} wire envelope
package protocol

import (
	"encoding/json"
	"fmt"
)

// Opcode is the integer tag identifying the semantic type of a frame.
type Opcode int

const (
	// OpDispatch carries a named application-level event with a sequence number.
	OpDispatch Opcode = 0
	// OpHeartbeat is the periodic liveness frame sent by the client.
	OpHeartbeat Opcode = 1
	// OpIdentify authenticates a fresh connection after HELLO.
	OpIdentify Opcode = 2
	// OpResume would replay a dropped session; the client never sends it.
	OpResume Opcode = 6
	// OpReconnect is a server request to reconnect; currently unhandled.
	OpReconnect Opcode = 7
	// OpInvalidSession tells the client its session is unusable.
	OpInvalidSession Opcode = 9
	// OpHello is the server's first frame, carrying the heartbeat interval.
	OpHello Opcode = 10
	// OpHeartbeatACK acknowledges a client heartbeat.
	OpHeartbeatACK Opcode = 11
)

// String returns the opcode's protocol name.
func (op Opcode) String() string {
	switch op {
	case OpDispatch:
		return "DISPATCH"
	case OpHeartbeat:
		return "HEARTBEAT"
	case OpIdentify:
		return "IDENTIFY"
	case OpResume:
		return "RESUME"
	case OpReconnect:
		return "RECONNECT"
	case OpInvalidSession:
		return "INVALID_SESSION"
	case OpHello:
		return "HELLO"
	case OpHeartbeatACK:
		return "HEARTBEAT_ACK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(op))
	}
}

// Payload is the top-level envelope for every gateway frame.
//
// D is kept raw so the session can defer opcode-specific decoding until it
// knows what the frame is. S and T are only present on dispatch frames.
type Payload struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  *string         `json:"t,omitempty"`
}

// Decode parses a raw inbound frame into an envelope.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// Encode builds an outbound frame for the given opcode and data.
//
// A nil pointer in d serializes as an explicit JSON null, which the
// protocol requires for the first heartbeat before any sequence is known.
func Encode(op Opcode, d any) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode payload data: %w", err)
	}
	data, err := json.Marshal(Payload{Op: op, D: raw})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodeData parses the opcode-specific data of an envelope into v.
func (p Payload) DecodeData(v any) error {
	if err := json.Unmarshal(p.D, v); err != nil {
		return fmt.Errorf("decode %s data: %w", p.Op, err)
	}
	return nil
}
