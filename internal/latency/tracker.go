// ABOUTME: Heartbeat latency tracking with exponential smoothing
// ABOUTME: Classifies link quality from acknowledgement round-trip times
package latency

import (
	"sync"
	"time"
)

// Quality classifies the gateway link based on recent heartbeat acks.
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	case QualityLost:
		return "lost"
	default:
		return "unknown"
	}
}

const (
	// degradedRTT is the smoothed round-trip time above which the link
	// is considered degraded.
	degradedRTT = 500 * time.Millisecond

	defaultSmoothingRate = 0.1
)

// Tracker accumulates heartbeat round-trip samples. Safe for concurrent
// use: the session goroutine feeds samples while the UI reads stats.
type Tracker struct {
	mu            sync.RWMutex
	last          time.Duration
	smoothed      time.Duration
	quality       Quality
	lastAck       time.Time
	sampleCount   int
	smoothingRate float64
	staleAfter    time.Duration
}

// NewTracker builds a tracker that reports QualityLost when no ack has
// arrived within staleAfter. Zero means staleness is never checked.
func NewTracker(staleAfter time.Duration) *Tracker {
	return &Tracker{
		smoothingRate: defaultSmoothingRate,
		quality:       QualityLost,
		staleAfter:    staleAfter,
	}
}

// Observe records one acknowledged heartbeat round trip.
func (tr *Tracker) Observe(rtt time.Duration) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.last = rtt
	tr.lastAck = time.Now()

	if tr.sampleCount == 0 {
		tr.smoothed = rtt
	} else {
		// Exponential moving average, fixed gain.
		tr.smoothed += time.Duration(tr.smoothingRate * float64(rtt-tr.smoothed))
	}
	tr.sampleCount++

	if tr.smoothed < degradedRTT {
		tr.quality = QualityGood
	} else {
		tr.quality = QualityDegraded
	}
}

// Stats returns the latest sample, the smoothed average, and the quality.
func (tr *Tracker) Stats() (last, smoothed time.Duration, quality Quality) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.last, tr.smoothed, tr.quality
}

// CheckQuality downgrades to QualityLost when acks have gone stale.
func (tr *Tracker) CheckQuality() Quality {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.staleAfter > 0 && tr.sampleCount > 0 && time.Since(tr.lastAck) > tr.staleAfter {
		tr.quality = QualityLost
	}
	return tr.quality
}

// Reset clears accumulated samples, for a fresh connection.
func (tr *Tracker) Reset() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.last = 0
	tr.smoothed = 0
	tr.sampleCount = 0
	tr.quality = QualityLost
	tr.lastAck = time.Time{}
}
