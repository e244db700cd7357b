package snapshot

import (
	"sync"

	"netherlink/clock"
	"netherlink/mathutil"
	"netherlink/transform"
)

// Config tunes the interpolation engine; zero values fall back to the
// package defaults.
type Config struct {
	MaxSnapshots           int
	InterpolationDelayMs   float64
	MaxExtrapolationTimeMs float64
	SnapshotExpirationMs   float64
	AllowExtrapolation     bool
}

func (c Config) withDefaults() Config {
	if c.MaxSnapshots <= 0 {
		c.MaxSnapshots = DefaultMaxSnapshots
	}
	if c.InterpolationDelayMs <= 0 {
		c.InterpolationDelayMs = DefaultInterpolationDelayMs
	}
	if c.MaxExtrapolationTimeMs <= 0 {
		c.MaxExtrapolationTimeMs = DefaultMaxExtrapolationTimeMs
	}
	if c.SnapshotExpirationMs <= 0 {
		c.SnapshotExpirationMs = DefaultSnapshotExpirationMs
	}
	return c
}

// Engine owns one Series per entity and answers render-time interpolated
// transform queries.
type Engine struct {
	cfg   Config
	clock clock.Clock

	mu       sync.Mutex
	byEntity map[string]*Series
}

func NewEngine(cfg Config, c clock.Clock) *Engine {
	if c == nil {
		c = clock.System{}
	}
	return &Engine{
		cfg:      cfg.withDefaults(),
		clock:    c,
		byEntity: make(map[string]*Series),
	}
}

func (e *Engine) seriesFor(entityID string) *Series {
	s, ok := e.byEntity[entityID]
	if !ok {
		s = newSeries(e.cfg.MaxSnapshots)
		e.byEntity[entityID] = s
	}
	return s
}

// AddSnapshot inserts snap into entityID's series.
func (e *Engine) AddSnapshot(entityID string, snap transform.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seriesFor(entityID).Add(snap)
}

// Velocity returns the cached instantaneous velocity for entityID, or
// the zero vector if the entity is unknown.
func (e *Engine) Velocity(entityID string) mathutil.Vec3 {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.byEntity[entityID]
	if !ok {
		return mathutil.Vec3{}
	}
	return s.Velocity()
}

// GetInterpolatedTransform resolves entityID's transform at timeMs:
// 0 snapshots -> not found; 1 -> that snapshot; both
// before/after present -> lerp+slerp; only before present -> bounded
// extrapolation or hold, depending on AllowExtrapolation.
func (e *Engine) GetInterpolatedTransform(entityID string, timeMs float64) (transform.Transform, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.byEntity[entityID]
	if !ok || s.Len() == 0 {
		return transform.Transform{}, false
	}
	if s.Len() == 1 {
		return s.At(0).Transform, true
	}

	before, after, _, _ := s.bracket(timeMs)

	switch {
	case before != nil && after != nil:
		if before.TimestampMs == after.TimestampMs {
			return before.Transform, true
		}
		t := (timeMs - before.TimestampMs) / (after.TimestampMs - before.TimestampMs)
		t = mathutil.Clamp(t, 0, 1)
		return before.Transform.Lerp(after.Transform, t), true

	case before != nil:
		if !e.cfg.AllowExtrapolation {
			return before.Transform, true
		}
		delta := timeMs - before.TimestampMs
		if delta > e.cfg.MaxExtrapolationTimeMs {
			delta = e.cfg.MaxExtrapolationTimeMs
		}
		if delta < 0 {
			delta = 0
		}
		velocity := s.Velocity()
		extrapolated := before.Transform
		extrapolated.Position = before.Transform.Position.Add(velocity.Scale(delta / 1000.0))
		return extrapolated, true

	case after != nil:
		return after.Transform, true

	default:
		return transform.Transform{}, false
	}
}

// GetInterpolatedTransformDefault queries at now - InterpolationDelayMs.
func (e *Engine) GetInterpolatedTransformDefault(entityID string) (transform.Transform, bool) {
	now := e.clock.NowMs()
	return e.GetInterpolatedTransform(entityID, now-e.cfg.InterpolationDelayMs)
}

// Update evicts snapshots older than SnapshotExpirationMs across all
// entities, always keeping at least the most recent two per entity.
func (e *Engine) Update() {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := e.clock.NowMs() - e.cfg.SnapshotExpirationMs
	for _, s := range e.byEntity {
		s.EvictOlderThan(cutoff)
	}
}

// RemoveEntity drops an entity's entire series, e.g. on destroy.
func (e *Engine) RemoveEntity(entityID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.byEntity, entityID)
}

// Snapshots returns a defensive copy of entityID's retained snapshots,
// oldest first, for callers (e.g. the advanced spline sampler) that need
// direct access to the bracketing points.
func (e *Engine) Snapshots(entityID string) []transform.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.byEntity[entityID]
	if !ok {
		return nil
	}
	out := make([]transform.Snapshot, s.Len())
	copy(out, s.snapshots)
	return out
}
