// Package timesync estimates round-trip latency, clock offset, and
// jitter from a ping/pong exchange.
package timesync

import (
	"math"
	"sort"

	"netherlink/clock"
)

// DefaultMaxSamples bounds the RTT sample window.
const DefaultMaxSamples = 20

// DefaultSmoothingAlpha weights the previous smoothed latency against
// the current window's median in the exponential moving average.
const DefaultSmoothingAlpha = 0.8

// DefaultPendingPingExpiryMs prunes pings that never received a pong.
const DefaultPendingPingExpiryMs = 10_000.0

// Config tunes an Estimator; zero values fall back to defaults.
type Config struct {
	MaxSamples          int
	SmoothingAlpha      float64
	PendingPingExpiryMs float64
}

func (c Config) withDefaults() Config {
	if c.MaxSamples <= 0 {
		c.MaxSamples = DefaultMaxSamples
	}
	if c.SmoothingAlpha <= 0 {
		c.SmoothingAlpha = DefaultSmoothingAlpha
	}
	if c.PendingPingExpiryMs <= 0 {
		c.PendingPingExpiryMs = DefaultPendingPingExpiryMs
	}
	return c
}

// sample is one resolved ping/pong observation.
type sample struct {
	rttMs     float64
	latencyMs float64
	offsetMs  float64
}

// Estimator tracks pending pings and a rolling window of RTT/offset
// samples for one remote peer.
type Estimator struct {
	cfg   Config
	clock clock.Clock

	pending map[uint64]float64 // ping id -> client send timestamp
	samples []sample

	smoothedLatencyMs float64
	haveSmoothed      bool
}

func New(cfg Config, c clock.Clock) *Estimator {
	if c == nil {
		c = clock.System{}
	}
	return &Estimator{
		cfg:     cfg.withDefaults(),
		clock:   c,
		pending: make(map[uint64]float64),
	}
}

// RecordPing registers an outbound ping's client-send timestamp under
// pingID, to be resolved by the matching RecordPong.
func (e *Estimator) RecordPing(pingID uint64, clientSendTsMs float64) {
	e.pending[pingID] = clientSendTsMs
	e.pruneExpired()
}

// RecordPong resolves the pending pingID using the echoed client
// timestamp (sentTs below) and the server's receive timestamp; the send
// time stored by RecordPing only marks the ping as pending:
// rtt = recvTs - sentTs, latency = rtt/2,
// offset = serverTs - (sentTs + latency). Returns false if pingID is
// unknown (already resolved, expired, or never sent).
func (e *Estimator) RecordPong(pingID uint64, echoedClientTsMs, serverRecvTsMs float64) (rttMs float64, ok bool) {
	if _, found := e.pending[pingID]; !found {
		return 0, false
	}
	delete(e.pending, pingID)

	recvTs := e.clock.NowMs()
	rtt := recvTs - echoedClientTsMs
	latency := rtt / 2
	offset := serverRecvTsMs - (echoedClientTsMs + latency)

	e.samples = append(e.samples, sample{rttMs: rtt, latencyMs: latency, offsetMs: offset})
	if len(e.samples) > e.cfg.MaxSamples {
		e.samples = e.samples[len(e.samples)-e.cfg.MaxSamples:]
	}

	median := e.medianLatency()
	if e.haveSmoothed {
		e.smoothedLatencyMs = e.cfg.SmoothingAlpha*e.smoothedLatencyMs + (1-e.cfg.SmoothingAlpha)*median
	} else {
		e.smoothedLatencyMs = median
		e.haveSmoothed = true
	}

	return rtt, true
}

func (e *Estimator) pruneExpired() {
	now := e.clock.NowMs()
	for id, sentTs := range e.pending {
		if now-sentTs > e.cfg.PendingPingExpiryMs {
			delete(e.pending, id)
		}
	}
}

// Latency returns the current EMA-smoothed one-way latency estimate.
func (e *Estimator) Latency() float64 {
	return e.smoothedLatencyMs
}

// Offset returns the median clock offset over the current sample
// window (server time minus local time).
func (e *Estimator) Offset() float64 {
	if len(e.samples) == 0 {
		return 0
	}
	offsets := make([]float64, len(e.samples))
	for i, s := range e.samples {
		offsets[i] = s.offsetMs
	}
	return median(offsets)
}

// Jitter is the sample standard deviation of RTT over the current
// window.
func (e *Estimator) Jitter() float64 {
	n := len(e.samples)
	if n == 0 {
		return 0
	}
	mean := 0.0
	for _, s := range e.samples {
		mean += s.rttMs
	}
	mean /= float64(n)

	variance := 0.0
	for _, s := range e.samples {
		d := s.rttMs - mean
		variance += d * d
	}
	variance /= float64(n)

	return math.Sqrt(variance)
}

// PendingCount reports how many pings are awaiting a pong.
func (e *Estimator) PendingCount() int {
	return len(e.pending)
}

func (e *Estimator) medianLatency() float64 {
	latencies := make([]float64, len(e.samples))
	for i, s := range e.samples {
		latencies[i] = s.latencyMs
	}
	return median(latencies)
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
