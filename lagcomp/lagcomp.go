// Package lagcomp implements eased interpolation from a predicted state
// to an authoritative state, with a hard-snap safety valve for large
// errors.
package lagcomp

import (
	"math"

	"netherlink/clock"
	"netherlink/mathutil"
	"netherlink/transform"
)

const (
	DefaultSnapThreshold          = 5.0
	DefaultMinCorrectionThreshold = 1e-4
	DefaultSmoothingDurationMs    = 100.0
	errorHistoryLength            = 10
)

// correction is the per-entity in-flight smoothing record.
type correction struct {
	start     transform.Transform
	target    transform.Transform
	startTsMs float64
	endTsMs   float64
	posErr    float64
	rotErr    float64
}

// Config tunes the compensator; zero values fall back to defaults.
type Config struct {
	SnapThreshold          float64
	MinCorrectionThreshold float64
	SmoothingDurationMs    float64
}

func (c Config) withDefaults() Config {
	if c.SnapThreshold <= 0 {
		c.SnapThreshold = DefaultSnapThreshold
	}
	if c.MinCorrectionThreshold <= 0 {
		c.MinCorrectionThreshold = DefaultMinCorrectionThreshold
	}
	if c.SmoothingDurationMs <= 0 {
		c.SmoothingDurationMs = DefaultSmoothingDurationMs
	}
	return c
}

// Compensator smooths prediction corrections for a set of entities.
type Compensator struct {
	cfg   Config
	clock clock.Clock

	active  map[string]*correction
	history map[string][]float64
}

func New(cfg Config, c clock.Clock) *Compensator {
	if c == nil {
		c = clock.System{}
	}
	return &Compensator{
		cfg:     cfg.withDefaults(),
		clock:   c,
		active:  make(map[string]*correction),
		history: make(map[string][]float64),
	}
}

// Apply registers a correction from clientTransform to serverTransform
// for entityID. if both position and rotation error
// are below MinCorrectionThreshold, no correction is recorded and the
// client transform is returned unchanged. If the position error exceeds
// SnapThreshold, any pending correction is discarded and the server
// transform is returned immediately (hard snap). Otherwise a correction
// spanning SmoothingDurationMs is stored.
func (c *Compensator) Apply(entityID string, clientTransform, serverTransform transform.Transform) transform.Transform {
	posErr := clientTransform.Position.Distance(serverTransform.Position)
	rotErr := rotationAngleError(clientTransform.Rotation, serverTransform.Rotation)

	c.recordHistory(entityID, posErr)

	if posErr < c.cfg.MinCorrectionThreshold && rotErr < c.cfg.MinCorrectionThreshold {
		delete(c.active, entityID)
		return clientTransform
	}

	if posErr > c.cfg.SnapThreshold {
		delete(c.active, entityID)
		return serverTransform
	}

	now := c.clock.NowMs()
	c.active[entityID] = &correction{
		start:     clientTransform,
		target:    serverTransform,
		startTsMs: now,
		endTsMs:   now + c.cfg.SmoothingDurationMs,
		posErr:    posErr,
		rotErr:    rotErr,
	}
	return clientTransform
}

// rotationAngleError is 2*acos(|dot(a,b)|), the angular distance between
// two unit quaternions irrespective of sign ambiguity.
func rotationAngleError(a, b mathutil.Quaternion) float64 {
	dot := mathutil.Clamp(math.Abs(a.Dot(b)), -1, 1)
	return 2 * math.Acos(dot)
}

func (c *Compensator) recordHistory(entityID string, posErr float64) {
	h := c.history[entityID]
	h = append(h, posErr)
	if len(h) > errorHistoryLength {
		h = h[len(h)-errorHistoryLength:]
	}
	c.history[entityID] = h
}

// ErrorHistory returns the rolling position-error history for entityID,
// oldest first, length at most 10.
func (c *Compensator) ErrorHistory(entityID string) []float64 {
	return append([]float64(nil), c.history[entityID]...)
}

// Query applies the eased correction for entityID at the current clock
// time, clearing it once complete. If no correction is active, ok is
// false and the caller should use its own current transform.
func (c *Compensator) Query(entityID string) (transform.Transform, bool) {
	corr, ok := c.active[entityID]
	if !ok {
		return transform.Transform{}, false
	}

	now := c.clock.NowMs()
	duration := corr.endTsMs - corr.startTsMs
	t := 1.0
	if duration > 0 {
		t = (now - corr.startTsMs) / duration
	}
	t = clamp01(t)

	eased := 1 - math.Pow(1-t, 3)
	result := corr.start.Lerp(corr.target, eased)

	if t >= 1 {
		delete(c.active, entityID)
	}

	return result, true
}

func clamp01(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}
