// ABOUTME: Gateway session package
// ABOUTME: Connection lifecycle, handshake, heartbeat, and reconnect policy
// Package gateway maintains a persistent gateway connection.
//
// A Session owns one transport connection at a time and drives the
// HELLO -> IDENTIFY -> READY handshake, the periodic heartbeat, dispatch
// event routing, and reconnection with exponential backoff.
//
// Example:
//
//	session := gateway.New(gateway.Config{
//	    Token: token,
//	    OnEvent: func(event string, data json.RawMessage) { ... },
//	})
//	err := session.Connect()
//	defer session.Disconnect()
//
// All session state is mutated on a single internal goroutine; inbound
// frames, heartbeat ticks, and reconnect timers are processed one at a
// time in arrival order.
package gateway
