// ABOUTME: Application glue for the gateway client
// ABOUTME: Wires the session, latency tracker, and stats into UI updates
package app

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/discordgw/discordgw-go/internal/latency"
	"github.com/discordgw/discordgw-go/internal/stats"
	"github.com/discordgw/discordgw-go/internal/ui"
	"github.com/discordgw/discordgw-go/internal/version"
	"github.com/discordgw/discordgw-go/pkg/gateway"
	"github.com/google/uuid"
)

// Config carries everything the application needs to run one client.
type Config struct {
	Token    string
	Endpoint string
	Intents  int

	// Dialer overrides the transport, for tests.
	Dialer gateway.Dialer

	// Notify receives UI updates. Nil disables them.
	Notify func(ui.StatusMsg)
}

// App owns the session and its observability plumbing.
type App struct {
	cfg        Config
	instanceID string

	session   *gateway.Session
	tracker   *latency.Tracker
	collector *stats.Collector

	events   atomic.Int64
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// staleAckWindow is how long the client waits for a heartbeat ack before
// reporting the link as lost. Generous relative to the usual ~41s
// heartbeat interval.
const staleAckWindow = 2 * time.Minute

// New builds the application. The session does not connect yet.
func New(cfg Config) (*App, error) {
	collector, err := stats.NewCollector()
	if err != nil {
		return nil, fmt.Errorf("create stats collector: %w", err)
	}

	a := &App{
		cfg:        cfg,
		instanceID: fmt.Sprintf("%s-%s", version.Name, shortID()),
		tracker:    latency.NewTracker(staleAckWindow),
		collector:  collector,
		done:       make(chan struct{}),
	}

	a.session = gateway.New(gateway.Config{
		Token:          cfg.Token,
		Intents:        cfg.Intents,
		Endpoint:       cfg.Endpoint,
		Dialer:         cfg.Dialer,
		OnStateChange:  a.handleStateChange,
		OnEvent:        a.handleEvent,
		OnHeartbeatAck: a.handleHeartbeatAck,
		OnError: func(err error) {
			log.Printf("Session error: %v", err)
		},
	})

	return a, nil
}

// InstanceID identifies this client run in logs.
func (a *App) InstanceID() string {
	return a.instanceID
}

// Session exposes the underlying gateway session.
func (a *App) Session() *gateway.Session {
	return a.session
}

// Connect starts a fresh connect cycle.
func (a *App) Connect() error {
	log.Printf("Instance %s connecting", a.instanceID)
	return a.session.Connect()
}

// Reconnect tears nothing down; it begins a new connect cycle with a
// fresh attempt counter, replacing the current connection.
func (a *App) Reconnect() error {
	log.Printf("Manual reconnect requested")
	return a.session.Connect()
}

// Close disconnects the session and stops background loops.
func (a *App) Close() {
	a.stopOnce.Do(func() {
		close(a.done)
		a.session.Disconnect()
		a.wg.Wait()
	})
}

// StartStatsLoop pushes process statistics and link quality to the UI
// on a fixed cadence until Close.
func (a *App) StartStatsLoop(interval time.Duration) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-a.done:
				return
			case <-ticker.C:
				snap := a.collector.Collect()
				quality := a.tracker.CheckQuality()
				last, avg, _ := a.tracker.Stats()
				a.notify(ui.StatusMsg{
					Goroutines:   snap.Goroutines,
					HeapAlloc:    snap.HeapAlloc,
					HeapSys:      snap.HeapSys,
					RSS:          snap.RSS,
					CPUPercent:   snap.CPUPercent,
					HeartbeatRTT: last,
					HeartbeatAvg: avg,
					Quality:      quality,
				})
			}
		}
	}()
}

func (a *App) handleStateChange(state gateway.State) {
	attempts := a.session.ReconnectAttempts()
	msg := ui.StatusMsg{
		State:    state.String(),
		Attempts: &attempts,
	}
	if state == gateway.StateReady {
		msg.SessionID = a.session.SessionID()
	}
	a.notify(msg)
}

func (a *App) handleEvent(event string, data json.RawMessage) {
	total := a.events.Add(1)
	msg := ui.StatusMsg{
		LastEvent: event,
		Events:    &total,
	}
	if seq, ok := a.session.Sequence(); ok {
		msg.Seq = &seq
	}
	a.notify(msg)
}

func (a *App) handleHeartbeatAck(rtt time.Duration) {
	a.tracker.Observe(rtt)
	last, avg, quality := a.tracker.Stats()
	msg := ui.StatusMsg{
		HeartbeatRTT: last,
		HeartbeatAvg: avg,
		Quality:      quality,
	}
	if seq, ok := a.session.Sequence(); ok {
		msg.Seq = &seq
	}
	a.notify(msg)
}

func (a *App) notify(msg ui.StatusMsg) {
	if a.cfg.Notify != nil {
		a.cfg.Notify(msg)
	}
}

func shortID() string {
	id := uuid.New().String()
	return strings.SplitN(id, "-", 2)[0]
}
