// ABOUTME: Gateway payload type definitions
// ABOUTME: Defines structs for the HELLO, IDENTIFY, and READY payloads
package protocol

// EventReady is the dispatch event completing the handshake.
const EventReady = "READY"

// DefaultIntents is the fixed capability bitmask sent in IDENTIFY.
const DefaultIntents = 513

// ClientName identifies this library in the IDENTIFY properties.
const ClientName = "discord_gateway"

// Hello is the opcode-10 payload sent by the server on connect.
type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

// IdentifyProperties carries static client and platform identification.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Identify is the opcode-2 payload authenticating a fresh connection.
type Identify struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties IdentifyProperties `json:"properties"`
}

// Ready is the READY dispatch payload issued on handshake completion.
//
// SessionID is captured for a future resumption feature; the client does
// not currently send RESUME frames.
type Ready struct {
	Version   int    `json:"v"`
	SessionID string `json:"session_id"`
}
