// ABOUTME: Gateway wire protocol package
// ABOUTME: Defines the frame envelope, opcodes, and payload types
// Package protocol implements the gateway wire protocol.
//
// Every frame on the wire, inbound and outbound, is a JSON text envelope
// with four fields: op (opcode), d (opcode-specific data), s (sequence
// number, dispatch frames only), and t (event name, dispatch frames only).
//
// Example:
//
//	p, err := protocol.Decode(raw)
//	if p.Op == protocol.OpHello { ... }
//
//	frame, err := protocol.Encode(protocol.OpHeartbeat, seq)
package protocol
