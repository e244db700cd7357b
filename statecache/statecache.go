// Package statecache implements the per-entity keyframe/delta log over a
// ring buffer: UpdateState appends either a full keyframe or a
// threshold-gated delta against a (possibly predicted) base, and
// GetState reconstructs the transform at a given time.
package statecache

import (
	"netherlink/delta"
	"netherlink/ringbuffer"
	"netherlink/snapshot"
	"netherlink/transform"
)

// InterpolationWindowMs bounds the get_interpolated_state search window
// on either side of the query timestamp
const InterpolationWindowMs = 100.0

// DefaultKeyframeIntervalMs is the maximum time between keyframes for an
// entity before the next update_state call forces one.
const DefaultKeyframeIntervalMs = 1000.0

// DefaultHistoryLength is the number of recent resolved transforms kept
// per entity for predictive delta encoding.
const DefaultHistoryLength = 4

// KeyframeBufferCapacity is the fixed capacity of the keyframe-only ring
// buffer.
const KeyframeBufferCapacity = 32

// DefaultMainBufferCapacity sizes the mixed keyframe/delta ring buffer.
const DefaultMainBufferCapacity = 256

// CacheEntry is the tagged union stored in the mixed ring buffer: a
// Keyframe carries the full state; a Delta carries the threshold-gated
// change plus the base it was computed against (so reconstruction never
// depends on what has or hasn't been queried before it) and the
// timestamp of the keyframe it's anchored to, per the invariant that
// every Delta references a keyframe at or before its BaseTimeMs.
type CacheEntry struct {
	IsKeyframe bool
	State      transform.Transform

	Delta      delta.TransformDelta
	Base       transform.Transform
	BaseTimeMs float64
}

// Config tunes a Cache; zero values fall back to defaults.
type Config struct {
	KeyframeIntervalMs   float64
	HistoryLength        int
	MainBufferCapacity   int
	DeltaThreshold       float64
	DeltaMaxValue        float64
	DisableDeltaEncoding bool
}

func (c Config) withDefaults() Config {
	if c.KeyframeIntervalMs <= 0 {
		c.KeyframeIntervalMs = DefaultKeyframeIntervalMs
	}
	if c.HistoryLength <= 0 {
		c.HistoryLength = DefaultHistoryLength
	}
	if c.MainBufferCapacity <= 0 {
		c.MainBufferCapacity = DefaultMainBufferCapacity
	}
	if c.DeltaThreshold <= 0 {
		c.DeltaThreshold = delta.DefaultThreshold
	}
	if c.DeltaMaxValue <= 0 {
		c.DeltaMaxValue = delta.DefaultMaxValue
	}
	return c
}

// entityCache is the per-entity state: the mixed log, the keyframe-only
// log, and the short resolved-transform history predictive encoding
// reads from.
type entityCache struct {
	main      *ringbuffer.RingBuffer[CacheEntry]
	keyframes *ringbuffer.RingBuffer[transform.Transform]

	history []transform.Transform

	hasKeyframe        bool
	lastKeyframeTimeMs float64
	lastKeyframeState  transform.Transform

	hits, misses uint64
}

func newEntityCache(cfg Config) *entityCache {
	return &entityCache{
		main:      ringbuffer.New[CacheEntry](cfg.MainBufferCapacity, nil),
		keyframes: ringbuffer.New[transform.Transform](KeyframeBufferCapacity, nil),
	}
}

func (ec *entityCache) pushHistory(state transform.Transform, cap int) {
	ec.history = append(ec.history, state)
	if len(ec.history) > cap {
		ec.history = ec.history[len(ec.history)-cap:]
	}
}

// Cache holds one entityCache per entity ID.
type Cache struct {
	cfg      Config
	entities map[string]*entityCache
}

func New(cfg Config) *Cache {
	cfg = cfg.withDefaults()
	return &Cache{cfg: cfg, entities: make(map[string]*entityCache)}
}

func (c *Cache) entity(entityID string) *entityCache {
	ec, ok := c.entities[entityID]
	if !ok {
		ec = newEntityCache(c.cfg)
		c.entities[entityID] = ec
	}
	return ec
}

// UpdateState records one state observation: a keyframe is
// emitted when none exists yet or the keyframe interval has elapsed;
// otherwise, if delta encoding is enabled, a delta against the base
// (the last two history entries' linear prediction when available, the
// last keyframe otherwise) is appended — but only when it reports a
// change.
func (c *Cache) UpdateState(entityID string, state transform.Transform, tsMs float64) {
	ec := c.entity(entityID)

	if !ec.hasKeyframe || tsMs-ec.lastKeyframeTimeMs >= c.cfg.KeyframeIntervalMs {
		ec.main.Write(CacheEntry{IsKeyframe: true, State: state}, tsMs)
		ec.keyframes.Write(state, tsMs)
		ec.hasKeyframe = true
		ec.lastKeyframeTimeMs = tsMs
		ec.lastKeyframeState = state
		ec.pushHistory(state, c.cfg.HistoryLength)
		return
	}

	if c.cfg.DisableDeltaEncoding {
		return
	}

	base := ec.lastKeyframeState
	if n := len(ec.history); n >= 2 {
		base = delta.Predict(ec.history[n-2], ec.history[n-1])
	}

	d := delta.Compute(base, state, c.cfg.DeltaThreshold)
	if !d.Changed() {
		return
	}

	ec.main.Write(CacheEntry{Delta: d, Base: base, BaseTimeMs: ec.lastKeyframeTimeMs}, tsMs)
	ec.pushHistory(state, c.cfg.HistoryLength)
}

// GetState implements get_state: a bracketed/exact read on the main log,
// resolving a Delta entry by applying it to its stored base. Returns
// false when the entity is unknown or the buffer has no live entry near
// tsMs.
func (c *Cache) GetState(entityID string, tsMs float64) (transform.Transform, bool) {
	ec, ok := c.entities[entityID]
	if !ok {
		return transform.Transform{}, false
	}

	entry, found := ec.main.ReadAt(tsMs, false)
	if !found {
		ec.misses++
		return transform.Transform{}, false
	}
	ec.hits++

	return resolveEntry(entry.Data), true
}

func resolveEntry(e CacheEntry) transform.Transform {
	if e.IsKeyframe {
		return e.State
	}
	return delta.Apply(e.Base, e.Delta)
}

// GetInterpolatedState implements get_interpolated_state: entries within
// [tsMs-100, tsMs+100] are gathered and resolved; when four bracketing
// entries exist, resolution is delegated to the advanced spline
// interpolation shared with the snapshot engine, otherwise it falls back
// to the plain bracketed/exact read.
func (c *Cache) GetInterpolatedState(entityID string, tsMs float64, method snapshot.Method) (transform.Transform, bool) {
	ec, ok := c.entities[entityID]
	if !ok {
		return transform.Transform{}, false
	}

	entries := ec.main.GetRange(tsMs-InterpolationWindowMs, tsMs+InterpolationWindowMs)

	p1 := -1
	for i, e := range entries {
		if e.TimestampMs <= tsMs {
			p1 = i
		} else {
			break
		}
	}

	if p1 > 0 && p1+2 < len(entries) {
		p0, p2, p3 := entries[p1-1], entries[p1+1], entries[p1+2]
		e1 := entries[p1]

		span := p2.TimestampMs - e1.TimestampMs
		t := 0.0
		if span > 0 {
			t = (tsMs - e1.TimestampMs) / span
		}

		points := [4]transform.Transform{
			resolveEntry(p0.Data),
			resolveEntry(e1.Data),
			resolveEntry(p2.Data),
			resolveEntry(p3.Data),
		}
		return snapshot.AdvancedInterpolate(points, t, method, snapshot.DefaultTension), true
	}

	return c.GetState(entityID, tsMs)
}

// HitStats returns (hits, misses) for entityID's get_state calls.
func (c *Cache) HitStats(entityID string) (hits, misses uint64) {
	ec, ok := c.entities[entityID]
	if !ok {
		return 0, 0
	}
	return ec.hits, ec.misses
}

// MainStats returns the mixed ring buffer's running statistics for
// entityID.
func (c *Cache) MainStats(entityID string) ringbuffer.Stats {
	ec, ok := c.entities[entityID]
	if !ok {
		return ringbuffer.Stats{}
	}
	return ec.main.Stats()
}
