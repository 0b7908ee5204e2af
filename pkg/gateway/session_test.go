// ABOUTME: Tests for the gateway session state machine
// ABOUTME: Covers handshake, heartbeat, sequence tracking, and reconnect policy
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/discordgw/discordgw-go/pkg/protocol"
	"github.com/gorilla/websocket"
)

type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	frames chan []byte
	errs   chan error
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		errs:   make(chan error, 1),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.frames:
		return data, nil
	case err := <-c.errs:
		return nil, err
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		select {
		case c.errs <- net.ErrClosed:
		default:
		}
	}
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// writtenOps decodes every frame written so far into its opcode.
func (c *fakeConn) writtenOps(t *testing.T) []protocol.Opcode {
	t.Helper()
	var ops []protocol.Opcode
	for _, raw := range c.Writes() {
		p, err := protocol.Decode(raw)
		if err != nil {
			t.Fatalf("failed to decode written frame: %v", err)
		}
		ops = append(ops, p.Op)
	}
	return ops
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) waitConn(t *testing.T, n int) *fakeConn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		if len(d.conns) >= n {
			c := d.conns[n-1]
			d.mu.Unlock()
			return c
		}
		d.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for connection %d", n)
	return nil
}

// newTestSession builds an unstarted session with a fake connection
// attached, for driving handlers directly.
func newTestSession(cfg Config) (*Session, *fakeConn) {
	if cfg.Token == "" {
		cfg.Token = "test-token"
	}
	s := New(cfg)
	fc := newFakeConn()
	s.conn = fc
	return s, fc
}

func waitState(t *testing.T, states <-chan State, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-states:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected:  "disconnected",
		StateConnecting:    "connecting",
		StateAwaitingHello: "awaiting_hello",
		StateIdentifying:   "identifying",
		StateReady:         "ready",
		StateReconnecting:  "reconnecting",
		State(99):          "unknown(99)",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("state %d: expected %s, got %s", int32(state), want, got)
		}
	}
}

func TestSequenceCapturedOnEveryFrame(t *testing.T) {
	s, _ := newTestSession(Config{})

	if _, ok := s.Sequence(); ok {
		t.Fatal("expected no sequence before any frame")
	}

	s.handleFrame([]byte(`{"op":11,"s":5}`))
	if seq, ok := s.Sequence(); !ok || seq != 5 {
		t.Errorf("expected sequence 5, got %d (ok=%v)", seq, ok)
	}

	s.handleFrame([]byte(`{"op":0,"s":7,"t":"MESSAGE_CREATE","d":{}}`))
	if seq, ok := s.Sequence(); !ok || seq != 7 {
		t.Errorf("expected sequence 7, got %d (ok=%v)", seq, ok)
	}

	// Frames without a sequence leave the stored value alone.
	s.handleFrame([]byte(`{"op":11}`))
	if seq, ok := s.Sequence(); !ok || seq != 7 {
		t.Errorf("expected sequence to stay 7, got %d (ok=%v)", seq, ok)
	}
}

func TestHelloStartsHeartbeatAndIdentifies(t *testing.T) {
	s, fc := newTestSession(Config{Token: "test-token"})
	defer s.stopHeartbeat()

	s.handleFrame([]byte(`{"op":10,"d":{"heartbeat_interval":41250}}`))

	if s.heartbeat == nil {
		t.Fatal("expected heartbeat ticker to be running")
	}
	if s.interval != 41250*time.Millisecond {
		t.Errorf("expected interval 41.25s, got %v", s.interval)
	}
	if s.State() != StateIdentifying {
		t.Errorf("expected state identifying, got %v", s.State())
	}

	writes := fc.Writes()
	if len(writes) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(writes))
	}
	p, err := protocol.Decode(writes[0])
	if err != nil {
		t.Fatalf("failed to decode identify frame: %v", err)
	}
	if p.Op != protocol.OpIdentify {
		t.Fatalf("expected op %d, got %d", protocol.OpIdentify, p.Op)
	}
	var identify protocol.Identify
	if err := p.DecodeData(&identify); err != nil {
		t.Fatalf("failed to decode identify payload: %v", err)
	}
	if identify.Token != "test-token" {
		t.Errorf("expected token test-token, got %s", identify.Token)
	}
	if identify.Intents != 513 {
		t.Errorf("expected intents 513, got %d", identify.Intents)
	}
	if identify.Properties.Browser != "discord_gateway" {
		t.Errorf("expected browser discord_gateway, got %s", identify.Properties.Browser)
	}
}

func TestSecondHelloReplacesHeartbeat(t *testing.T) {
	s, fc := newTestSession(Config{})
	defer s.stopHeartbeat()

	s.handleFrame([]byte(`{"op":10,"d":{"heartbeat_interval":41250}}`))
	first := s.heartbeat

	s.handleFrame([]byte(`{"op":10,"d":{"heartbeat_interval":30000}}`))

	if s.heartbeat == nil {
		t.Fatal("expected heartbeat ticker to be running")
	}
	if s.heartbeat == first {
		t.Error("expected the second HELLO to replace the ticker")
	}
	if s.interval != 30*time.Second {
		t.Errorf("expected interval 30s, got %v", s.interval)
	}
	if got := len(fc.Writes()); got != 2 {
		t.Errorf("expected two identify writes, got %d", got)
	}
}

func TestReadyDispatch(t *testing.T) {
	var gotEvent string
	var gotData json.RawMessage
	s, _ := newTestSession(Config{
		OnEvent: func(event string, data json.RawMessage) {
			gotEvent = event
			gotData = data
		},
	})

	s.handleFrame([]byte(`{"op":0,"s":3,"t":"READY","d":{"v":10,"session_id":"abc123"}}`))

	if s.State() != StateReady {
		t.Errorf("expected state ready, got %v", s.State())
	}
	if s.SessionID() != "abc123" {
		t.Errorf("expected session id abc123, got %s", s.SessionID())
	}
	if seq, ok := s.Sequence(); !ok || seq != 3 {
		t.Errorf("expected sequence 3, got %d (ok=%v)", seq, ok)
	}
	if gotEvent != "READY" {
		t.Errorf("expected READY event callback, got %q", gotEvent)
	}
	if len(gotData) == 0 {
		t.Error("expected event callback to receive the payload data")
	}
}

func TestUnknownOpcodeIsIgnored(t *testing.T) {
	s, fc := newTestSession(Config{})
	s.state.Store(int32(StateAwaitingHello))

	s.handleFrame([]byte(`{"op":4,"d":{}}`))

	if s.State() != StateAwaitingHello {
		t.Errorf("expected state unchanged, got %v", s.State())
	}
	if len(fc.Writes()) != 0 {
		t.Errorf("expected no writes, got %d", len(fc.Writes()))
	}
}

func TestMalformedFrameIsDropped(t *testing.T) {
	s, fc := newTestSession(Config{})
	s.state.Store(int32(StateReady))

	s.handleFrame([]byte(`{"op":`))
	s.handleFrame([]byte(`not json`))

	if s.State() != StateReady {
		t.Errorf("expected state unchanged, got %v", s.State())
	}
	if len(fc.Writes()) != 0 {
		t.Errorf("expected no writes, got %d", len(fc.Writes()))
	}
}

func TestHeartbeatCarriesSequence(t *testing.T) {
	s, fc := newTestSession(Config{})

	s.sendHeartbeat()
	s.setSeq(12)
	s.sendHeartbeat()

	writes := fc.Writes()
	if len(writes) != 2 {
		t.Fatalf("expected two heartbeats, got %d", len(writes))
	}

	var first map[string]json.RawMessage
	if err := json.Unmarshal(writes[0], &first); err != nil {
		t.Fatalf("failed to unmarshal first heartbeat: %v", err)
	}
	if string(first["d"]) != "null" {
		t.Errorf("expected first heartbeat d=null, got %s", first["d"])
	}

	p, err := protocol.Decode(writes[1])
	if err != nil {
		t.Fatalf("failed to decode second heartbeat: %v", err)
	}
	var seq *int64
	if err := p.DecodeData(&seq); err != nil {
		t.Fatalf("failed to decode heartbeat data: %v", err)
	}
	if seq == nil || *seq != 12 {
		t.Errorf("expected heartbeat sequence 12, got %v", seq)
	}
}

func TestHeartbeatNoopWithoutConnection(t *testing.T) {
	s := New(Config{Token: "test-token"})

	// Must not panic and must not write anywhere.
	s.sendHeartbeat()
}

func TestHeartbeatAckReportsRTT(t *testing.T) {
	var gotRTT time.Duration
	s, _ := newTestSession(Config{
		OnHeartbeatAck: func(rtt time.Duration) { gotRTT = rtt },
	})

	// Ack before any heartbeat is ignored.
	s.handleFrame([]byte(`{"op":11}`))
	if gotRTT != 0 {
		t.Fatal("expected no RTT before a heartbeat was sent")
	}

	s.sendHeartbeat()
	s.handleFrame([]byte(`{"op":11}`))
	if gotRTT <= 0 {
		t.Errorf("expected positive RTT, got %v", gotRTT)
	}
}

func TestInvalidSessionFixedDelay(t *testing.T) {
	s, fc := newTestSession(Config{})
	s.startHeartbeat(time.Minute)
	s.setAttempts(3)
	defer func() {
		if s.retry != nil {
			s.retry.Stop()
		}
	}()

	s.handleFrame([]byte(`{"op":9,"d":false}`))

	if s.heartbeat != nil {
		t.Error("expected heartbeat ticker to be stopped")
	}
	if !fc.Closed() {
		t.Error("expected connection to be closed")
	}
	if s.retry == nil {
		t.Fatal("expected re-handshake timer to be scheduled")
	}
	if s.retryDelay != 5*time.Second {
		t.Errorf("expected fixed 5s delay, got %v", s.retryDelay)
	}
	if s.ReconnectAttempts() != 3 {
		t.Errorf("expected attempt counter untouched at 3, got %d", s.ReconnectAttempts())
	}
	if s.State() != StateReconnecting {
		t.Errorf("expected state reconnecting, got %v", s.State())
	}
}

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{8, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.attempt); got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestConnectionLossSchedulesBackoff(t *testing.T) {
	s, fc := newTestSession(Config{})
	s.startHeartbeat(time.Minute)
	s.setSeq(42)
	s.setAttempts(2)
	defer s.stopHeartbeat()
	defer func() {
		if s.retry != nil {
			s.retry.Stop()
		}
	}()

	s.handleClosed(&websocket.CloseError{Code: 1006, Text: "abnormal closure"})

	if !fc.Closed() {
		t.Error("expected connection to be closed")
	}
	if s.ReconnectAttempts() != 3 {
		t.Errorf("expected attempt counter 3, got %d", s.ReconnectAttempts())
	}
	if s.retryDelay != 8*time.Second {
		t.Errorf("expected 8s backoff, got %v", s.retryDelay)
	}
	if s.retry == nil {
		t.Error("expected reconnect timer to be scheduled")
	}
	if s.State() != StateReconnecting {
		t.Errorf("expected state reconnecting, got %v", s.State())
	}

	// The heartbeat ticker survives connection loss; its ticks no-op
	// until a new connection's HELLO replaces it.
	if s.heartbeat == nil {
		t.Error("expected heartbeat ticker to keep running")
	}
	// The sequence number also survives.
	if seq, ok := s.Sequence(); !ok || seq != 42 {
		t.Errorf("expected sequence 42 to survive, got %d (ok=%v)", seq, ok)
	}
}

func TestReconnectExhaustion(t *testing.T) {
	var gotErr error
	s, _ := newTestSession(Config{
		OnError: func(err error) { gotErr = err },
	})
	s.setAttempts(5)

	s.handleClosed(io.ErrUnexpectedEOF)

	if s.retry != nil {
		t.Error("expected no reconnect timer after exhaustion")
	}
	if s.ReconnectAttempts() != 5 {
		t.Errorf("expected attempt counter to stay 5, got %d", s.ReconnectAttempts())
	}
	if s.State() != StateDisconnected {
		t.Errorf("expected state disconnected, got %v", s.State())
	}
	if !errors.Is(gotErr, ErrReconnectExhausted) {
		t.Errorf("expected ErrReconnectExhausted, got %v", gotErr)
	}
}

func TestConnectRequiresToken(t *testing.T) {
	s := New(Config{Dialer: &fakeDialer{}})
	if err := s.Connect(); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
}

func TestConnectAfterDisconnect(t *testing.T) {
	s := New(Config{Token: "test-token", Dialer: &fakeDialer{}})
	s.Disconnect()
	if err := s.Connect(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	dialer := &fakeDialer{}
	states := make(chan State, 32)
	events := make(chan string, 8)

	s := New(Config{
		Token:  "test-token",
		Dialer: dialer,
		OnStateChange: func(state State) {
			states <- state
		},
		OnEvent: func(event string, data json.RawMessage) {
			events <- event
		},
	})

	if err := s.Connect(); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	fc := dialer.waitConn(t, 1)
	waitState(t, states, StateAwaitingHello)

	// A malformed frame in the stream must not kill the connection.
	fc.frames <- []byte(`garbage`)

	fc.frames <- []byte(`{"op":10,"d":{"heartbeat_interval":30}}`)
	waitState(t, states, StateIdentifying)

	// Heartbeats begin on the HELLO cadence.
	deadline := time.Now().Add(2 * time.Second)
	for {
		ops := fc.writtenOps(t)
		var beats int
		for _, op := range ops {
			if op == protocol.OpHeartbeat {
				beats++
			}
		}
		if beats >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for heartbeats, writes: %v", ops)
		}
		time.Sleep(5 * time.Millisecond)
	}

	fc.frames <- []byte(`{"op":0,"s":3,"t":"READY","d":{"v":10,"session_id":"abc123"}}`)
	waitState(t, states, StateReady)

	select {
	case event := <-events:
		if event != "READY" {
			t.Errorf("expected READY event, got %q", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the READY event")
	}

	if s.SessionID() != "abc123" {
		t.Errorf("expected session id abc123, got %s", s.SessionID())
	}
	if seq, ok := s.Sequence(); !ok || seq != 3 {
		t.Errorf("expected sequence 3, got %d (ok=%v)", seq, ok)
	}

	s.Disconnect()

	if s.State() != StateDisconnected {
		t.Errorf("expected state disconnected, got %v", s.State())
	}
	if !fc.Closed() {
		t.Error("expected the connection to be closed")
	}
	// The run loop has exited, so its fields are safe to inspect.
	if s.heartbeat != nil {
		t.Error("expected the heartbeat ticker to be stopped")
	}
}

func TestFreshConnectResetsAttempts(t *testing.T) {
	dialer := &fakeDialer{}
	states := make(chan State, 32)

	s := New(Config{
		Token:         "test-token",
		Dialer:        dialer,
		OnStateChange: func(state State) { states <- state },
	})
	s.setAttempts(4)

	if err := s.Connect(); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	dialer.waitConn(t, 1)
	waitState(t, states, StateAwaitingHello)

	if got := s.ReconnectAttempts(); got != 0 {
		t.Errorf("expected attempt counter reset to 0, got %d", got)
	}

	s.Disconnect()
}

func TestConnectionLossReconnectsThroughLoop(t *testing.T) {
	dialer := &fakeDialer{}
	states := make(chan State, 32)

	s := New(Config{
		Token:         "test-token",
		Dialer:        dialer,
		OnStateChange: func(state State) { states <- state },
	})

	if err := s.Connect(); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	first := dialer.waitConn(t, 1)
	waitState(t, states, StateAwaitingHello)

	first.errs <- &websocket.CloseError{Code: 1001, Text: "going away"}
	waitState(t, states, StateReconnecting)

	if got := s.ReconnectAttempts(); got != 1 {
		t.Errorf("expected attempt counter 1, got %d", got)
	}
	s.mu.RLock()
	delay := s.retryDelay
	s.mu.RUnlock()
	if delay != 2*time.Second {
		t.Errorf("expected 2s backoff for the first attempt, got %v", delay)
	}

	s.Disconnect()
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	s := New(Config{Token: "test-token", Dialer: dialer})

	if err := s.Connect(); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	fc := dialer.waitConn(t, 1)

	s.Disconnect()

	if !fc.Closed() {
		t.Error("expected the connection to be closed")
	}
	if s.retry != nil {
		t.Error("expected no reconnect timer after an explicit disconnect")
	}
	if s.State() != StateDisconnected {
		t.Errorf("expected state disconnected, got %v", s.State())
	}
}
