// ABOUTME: Gateway session state machine
// ABOUTME: Drives handshake, heartbeat, dispatch routing, and reconnection
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/discordgw/discordgw-go/pkg/protocol"
)

// DefaultEndpoint is the gateway WebSocket URL used when the caller does
// not resolve one.
const DefaultEndpoint = "wss://gateway.discord.gg/?v=10&encoding=json"

var (
	// ErrNoToken is returned by Connect when no token was configured.
	ErrNoToken = errors.New("gateway: missing token")

	// ErrClosed is returned by Connect after Disconnect has been called.
	ErrClosed = errors.New("gateway: session closed")

	// ErrReconnectExhausted is reported through OnError when the session
	// gives up reconnecting after maxReconnectAttempts failures.
	ErrReconnectExhausted = errors.New("gateway: reconnect attempts exhausted")
)

// State is the connection lifecycle phase of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateReady
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateIdentifying:
		return "identifying"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Config carries session settings and callbacks. Callbacks are invoked
// from the session's internal goroutine and must not block.
type Config struct {
	// Token authenticates the IDENTIFY payload. Required.
	Token string

	// Intents to request in IDENTIFY. Zero means protocol.DefaultIntents.
	Intents int

	// Endpoint is the gateway WebSocket URL. Empty means DefaultEndpoint.
	Endpoint string

	// Dialer opens transport connections. Nil means the gorilla-backed
	// default.
	Dialer Dialer

	// OnEvent receives every dispatch event, READY included.
	OnEvent func(event string, data json.RawMessage)

	// OnStateChange fires whenever the lifecycle state changes.
	OnStateChange func(state State)

	// OnError receives terminal errors, such as reconnect exhaustion.
	OnError func(err error)

	// OnHeartbeatAck fires with the round-trip time of each acknowledged
	// heartbeat.
	OnHeartbeatAck func(rtt time.Duration)
}

// inbound is one read-pump result: a frame or a terminal read error.
type inbound struct {
	conn Conn
	data []byte
	err  error
}

// Session is a persistent gateway connection with automatic reconnection.
//
// The zero value is not usable; construct with New.
type Session struct {
	cfg      Config
	endpoint string
	intents  int
	dialer   Dialer

	ctx     context.Context
	cancel  context.CancelFunc
	runOnce sync.Once
	started atomic.Bool
	done    chan struct{}

	connects chan struct{}
	frames   chan inbound

	state atomic.Int32

	// The fields below are owned by the run loop and never touched
	// from any other goroutine.
	conn      Conn
	heartbeat *time.Ticker
	interval  time.Duration
	retry     *time.Timer
	lastBeat  time.Time
	closing   bool

	mu         sync.RWMutex
	seq        *int64
	sessionID  string
	attempts   int
	retryDelay time.Duration
}

// New builds a Session from cfg. The session does not connect until
// Connect is called.
func New(cfg Config) *Session {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	intents := cfg.Intents
	if intents == 0 {
		intents = protocol.DefaultIntents
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = NewDialer()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		endpoint: endpoint,
		intents:  intents,
		dialer:   dialer,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		connects: make(chan struct{}),
		frames:   make(chan inbound, 16),
	}
	s.state.Store(int32(StateDisconnected))
	return s
}

// Connect starts a fresh connect cycle: it opens a new transport
// connection and resets the reconnect attempt counter. It returns once
// the cycle is underway; handshake progress is reported through
// OnStateChange.
func (s *Session) Connect() error {
	if s.cfg.Token == "" {
		return ErrNoToken
	}
	if s.ctx.Err() != nil {
		return ErrClosed
	}

	s.runOnce.Do(func() {
		s.started.Store(true)
		go s.run()
	})

	select {
	case s.connects <- struct{}{}:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// Disconnect tears the session down: the connection is closed, the
// heartbeat stops, and any pending reconnect is cancelled. It blocks
// until the internal goroutine has exited. The session cannot be reused
// afterwards.
func (s *Session) Disconnect() {
	s.cancel()
	if s.started.Load() {
		<-s.done
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Sequence returns the last observed sequence number, if any frame has
// carried one yet.
func (s *Session) Sequence() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.seq == nil {
		return 0, false
	}
	return *s.seq, true
}

// SessionID returns the identifier from the last READY event, or "".
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// ReconnectAttempts returns the failure count of the current connect cycle.
func (s *Session) ReconnectAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts
}

// run is the session's single goroutine. Every state mutation happens
// here, so handlers never race each other.
func (s *Session) run() {
	defer close(s.done)

	for {
		var tick <-chan time.Time
		if s.heartbeat != nil {
			tick = s.heartbeat.C
		}
		var retry <-chan time.Time
		if s.retry != nil {
			retry = s.retry.C
		}

		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case <-s.connects:
			s.closing = false
			s.setAttempts(0)
			s.dial()
		case in := <-s.frames:
			if in.conn != s.conn {
				continue // stale, from an already-replaced connection
			}
			if in.err != nil {
				s.handleClosed(in.err)
				continue
			}
			s.handleFrame(in.data)
		case <-tick:
			s.sendHeartbeat()
		case <-retry:
			s.retry = nil
			s.dial()
		}
	}
}

func (s *Session) dial() {
	s.closeConn()
	s.setState(StateConnecting)

	conn, err := s.dialer.Dial(s.ctx, s.endpoint)
	if err != nil {
		log.Printf("Gateway connect failed: %v", err)
		s.scheduleReconnect()
		return
	}

	s.conn = conn
	s.setState(StateAwaitingHello)
	log.Printf("Gateway connection opened: %s", s.endpoint)
	go s.readPump(conn)
}

// readPump feeds frames from one connection into the run loop. It exits
// on the first read error, after reporting it.
func (s *Session) readPump(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			select {
			case s.frames <- inbound{conn: conn, err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case s.frames <- inbound{conn: conn, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) handleFrame(data []byte) {
	p, err := protocol.Decode(data)
	if err != nil {
		log.Printf("Dropping malformed frame: %v", err)
		return
	}

	// Sequence capture happens before opcode dispatch, on every frame
	// that carries one.
	if p.S != nil {
		s.setSeq(*p.S)
	}

	switch p.Op {
	case protocol.OpHello:
		s.handleHello(p)
	case protocol.OpHeartbeatACK:
		s.handleHeartbeatAck()
	case protocol.OpInvalidSession:
		s.handleInvalidSession()
	case protocol.OpDispatch:
		s.handleDispatch(p)
	default:
		log.Printf("Ignoring unhandled opcode %s", p.Op)
	}
}

func (s *Session) handleHello(p protocol.Payload) {
	var hello protocol.Hello
	if err := p.DecodeData(&hello); err != nil {
		log.Printf("Dropping malformed HELLO: %v", err)
		return
	}
	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		log.Printf("Ignoring HELLO with interval %d ms", hello.HeartbeatInterval)
		return
	}

	s.startHeartbeat(interval)
	s.sendIdentify()
	s.setState(StateIdentifying)
	log.Printf("HELLO received, heartbeating every %v", interval)
}

// startHeartbeat replaces any running heartbeat ticker, so at most one
// is ever active.
func (s *Session) startHeartbeat(interval time.Duration) {
	s.stopHeartbeat()
	s.interval = interval
	s.heartbeat = time.NewTicker(interval)
}

func (s *Session) stopHeartbeat() {
	if s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}
}

func (s *Session) sendIdentify() {
	if s.conn == nil {
		return
	}

	identify := protocol.Identify{
		Token:   s.cfg.Token,
		Intents: s.intents,
		Properties: protocol.IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: protocol.ClientName,
			Device:  protocol.ClientName,
		},
	}
	frame, err := protocol.Encode(protocol.OpIdentify, identify)
	if err != nil {
		s.reportError(fmt.Errorf("encode identify: %w", err))
		return
	}
	if err := s.conn.WriteMessage(frame); err != nil {
		log.Printf("IDENTIFY send failed: %v", err)
		return
	}
	log.Printf("IDENTIFY sent (intents=%d)", s.intents)
}

// sendHeartbeat is a no-op while the transport is down. The ticker keeps
// running across connection loss; only Disconnect, a new HELLO, or
// INVALID_SESSION stops it.
func (s *Session) sendHeartbeat() {
	if s.conn == nil {
		return
	}

	frame, err := protocol.Encode(protocol.OpHeartbeat, s.seqValue())
	if err != nil {
		s.reportError(fmt.Errorf("encode heartbeat: %w", err))
		return
	}
	if err := s.conn.WriteMessage(frame); err != nil {
		log.Printf("Heartbeat send failed: %v", err)
		return
	}
	s.lastBeat = time.Now()
	log.Printf("Heartbeat sent (seq=%s)", s.seqString())
}

// handleHeartbeatAck is observational only: a missed ack never triggers
// a reconnect.
func (s *Session) handleHeartbeatAck() {
	if s.lastBeat.IsZero() {
		return
	}
	rtt := time.Since(s.lastBeat)
	if s.cfg.OnHeartbeatAck != nil {
		s.cfg.OnHeartbeatAck(rtt)
	}
}

// handleInvalidSession discards the connection and schedules a full
// re-handshake after a fixed delay. The backoff attempt counter is left
// untouched on this path.
func (s *Session) handleInvalidSession() {
	log.Printf("Session invalidated, re-handshaking in %v", invalidSessionDelay)
	s.stopHeartbeat()
	s.closeConn()
	s.scheduleDial(invalidSessionDelay)
	s.setState(StateReconnecting)
}

func (s *Session) handleDispatch(p protocol.Payload) {
	if p.T == nil {
		log.Printf("Dropping dispatch frame without event name")
		return
	}
	event := *p.T

	switch event {
	case protocol.EventReady:
		var rdy protocol.Ready
		if err := p.DecodeData(&rdy); err != nil {
			log.Printf("Dropping malformed READY: %v", err)
			return
		}
		s.setSessionID(rdy.SessionID)
		s.setState(StateReady)
		log.Printf("READY received (session=%s)", rdy.SessionID)
	default:
		log.Printf("Event received: %s", event)
	}

	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(event, p.D)
	}
}

// handleClosed reacts to the read pump reporting a dead connection. The
// stored sequence number survives so the next session resumes counting
// from where this one stopped.
func (s *Session) handleClosed(err error) {
	code, reason := closeDetail(err)
	log.Printf("Gateway connection closed (code=%d reason=%q): %v", code, reason, err)
	s.closeConn()

	if s.closing {
		s.setState(StateDisconnected)
		return
	}
	s.scheduleReconnect()
}

func (s *Session) scheduleReconnect() {
	if s.closing {
		return
	}

	attempts := s.ReconnectAttempts()
	if attempts >= maxReconnectAttempts {
		log.Printf("Giving up after %d reconnect attempts", attempts)
		s.setState(StateDisconnected)
		s.reportError(ErrReconnectExhausted)
		return
	}

	attempts++
	s.setAttempts(attempts)
	delay := backoffDelay(attempts)
	log.Printf("Reconnect attempt %d/%d in %v", attempts, maxReconnectAttempts, delay)
	s.scheduleDial(delay)
	s.setState(StateReconnecting)
}

func (s *Session) scheduleDial(delay time.Duration) {
	if s.retry != nil {
		s.retry.Stop()
	}
	s.retry = time.NewTimer(delay)
	s.mu.Lock()
	s.retryDelay = delay
	s.mu.Unlock()
}

func (s *Session) teardown() {
	s.closing = true
	s.stopHeartbeat()
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.closeConn()
	s.setState(StateDisconnected)
	log.Printf("Gateway session closed")
}

func (s *Session) closeConn() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) setState(state State) {
	prev := State(s.state.Swap(int32(state)))
	if prev == state {
		return
	}
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(state)
	}
}

func (s *Session) setSeq(seq int64) {
	s.mu.Lock()
	s.seq = &seq
	s.mu.Unlock()
}

// seqValue returns a copy of the stored sequence pointer, so the
// heartbeat payload carries null until the first sequence arrives.
func (s *Session) seqValue() *int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.seq == nil {
		return nil
	}
	v := *s.seq
	return &v
}

func (s *Session) seqString() string {
	if v := s.seqValue(); v != nil {
		return fmt.Sprintf("%d", *v)
	}
	return "null"
}

func (s *Session) setSessionID(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

func (s *Session) setAttempts(n int) {
	s.mu.Lock()
	s.attempts = n
	s.mu.Unlock()
}

func (s *Session) reportError(err error) {
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
		return
	}
	log.Printf("Gateway error: %v", err)
}
