// Package snapshot implements the per-entity chronological snapshot store
// and render-time interpolation/extrapolation engine,
// plus the advanced Hermite/Catmull-Rom/Squad spline interpolation used
// when four bracketing snapshots are available.
package snapshot

import (
	"sort"

	"netherlink/mathutil"
	"netherlink/transform"
)

// DefaultMaxSnapshots is the default per-entity snapshot series capacity.
const DefaultMaxSnapshots = 30

// DefaultInterpolationDelayMs is the default render-time offset into the
// past used to absorb jitter.
const DefaultInterpolationDelayMs = 100.0

// DefaultMaxExtrapolationTimeMs bounds how far past the latest snapshot
// extrapolation is allowed to reach.
const DefaultMaxExtrapolationTimeMs = 500.0

// DefaultSnapshotExpirationMs is how long a snapshot is retained before
// eviction (subject to always keeping the most recent two).
const DefaultSnapshotExpirationMs = 10000.0

// Series is an ordered-by-timestamp sequence of snapshots for one entity,
// bounded to maxSnapshots, with a cached instantaneous velocity derived
// from the two most recent distinct-timestamp snapshots.
type Series struct {
	maxSnapshots int
	snapshots    []transform.Snapshot
	velocity     mathutil.Vec3
}

func newSeries(maxSnapshots int) *Series {
	if maxSnapshots <= 0 {
		maxSnapshots = DefaultMaxSnapshots
	}
	return &Series{maxSnapshots: maxSnapshots}
}

// Add inserts a snapshot in timestamp order, dropping the oldest entry
// when capacity is exceeded, then refreshes the cached velocity.
func (s *Series) Add(snap transform.Snapshot) {
	idx := sort.Search(len(s.snapshots), func(i int) bool {
		return s.snapshots[i].TimestampMs > snap.TimestampMs
	})
	s.snapshots = append(s.snapshots, transform.Snapshot{})
	copy(s.snapshots[idx+1:], s.snapshots[idx:])
	s.snapshots[idx] = snap

	if len(s.snapshots) > s.maxSnapshots {
		s.snapshots = s.snapshots[len(s.snapshots)-s.maxSnapshots:]
	}

	s.refreshVelocity()
}

func (s *Series) refreshVelocity() {
	n := len(s.snapshots)
	if n < 2 {
		return
	}
	last := s.snapshots[n-1]
	prev := s.snapshots[n-2]
	dt := last.TimestampMs - prev.TimestampMs
	if dt <= 0 {
		return
	}
	s.velocity = last.Transform.Position.Sub(prev.Transform.Position).Scale(1000.0 / dt)
}

// Velocity returns the cached instantaneous velocity (units/second).
func (s *Series) Velocity() mathutil.Vec3 {
	return s.velocity
}

// Len reports the number of retained snapshots.
func (s *Series) Len() int {
	return len(s.snapshots)
}

// At returns the snapshot at index i (0 = oldest).
func (s *Series) At(i int) transform.Snapshot {
	return s.snapshots[i]
}

// EvictOlderThan removes snapshots older than cutoffMs, always keeping
// at least the most recent two (needed as interpolation seeds).
func (s *Series) EvictOlderThan(cutoffMs float64) {
	if len(s.snapshots) <= 2 {
		return
	}
	keepFrom := 0
	for keepFrom < len(s.snapshots)-2 && s.snapshots[keepFrom].TimestampMs < cutoffMs {
		keepFrom++
	}
	s.snapshots = s.snapshots[keepFrom:]
}

// bracket finds the greatest snapshot with timestamp <= timeMs ("before")
// and the least snapshot with timestamp > timeMs ("after").
func (s *Series) bracket(timeMs float64) (before, after *transform.Snapshot, beforeIdx, afterIdx int) {
	beforeIdx, afterIdx = -1, -1
	for i := range s.snapshots {
		ts := s.snapshots[i].TimestampMs
		if ts <= timeMs {
			beforeIdx = i
		} else if afterIdx == -1 {
			afterIdx = i
		}
	}
	if beforeIdx >= 0 {
		before = &s.snapshots[beforeIdx]
	}
	if afterIdx >= 0 {
		after = &s.snapshots[afterIdx]
	}
	return
}
