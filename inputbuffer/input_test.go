package inputbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencesStrictlyIncreasing(t *testing.T) {
	b := New(10, 5000)
	r1 := b.Record(InputState{Forward: true}, 0)
	r2 := b.Record(InputState{Forward: true}, 16)
	assert.Less(t, r1.Sequence, r2.Sequence)
}

func TestRecordDeepCopiesExtensions(t *testing.T) {
	b := New(10, 5000)
	ext := map[string]interface{}{"foo": 1}
	b.Record(InputState{Extensions: ext}, 0)
	ext["foo"] = 2

	rec, ok := b.Get(1)
	require.True(t, ok)
	assert.Equal(t, 1, rec.Input.Extensions["foo"])
}

func TestTrimsToMaxSize(t *testing.T) {
	b := New(3, 1_000_000)
	for i := 0; i < 10; i++ {
		b.Record(InputState{}, float64(i))
	}
	assert.Equal(t, 3, b.Count())
}

func TestEvictsOlderThanExpiration(t *testing.T) {
	b := New(100, 100)
	b.Record(InputState{}, 0)
	b.Record(InputState{}, 500)
	assert.Equal(t, 1, b.Count())
}

func TestMarkProcessedWatermarkMonotonic(t *testing.T) {
	b := New(100, 1_000_000)
	b.Record(InputState{}, 0)
	b.Record(InputState{}, 16)
	b.Record(InputState{}, 32)

	b.MarkProcessed(2)
	assert.Equal(t, uint64(2), b.LastProcessedSequence())
	b.MarkProcessed(1)
	assert.Equal(t, uint64(2), b.LastProcessedSequence(), "watermark must not regress")
}

func TestMarkProcessedMarksEntries(t *testing.T) {
	b := New(100, 1_000_000)
	b.Record(InputState{}, 0)
	b.Record(InputState{}, 16)
	b.MarkProcessed(1)

	r1, _ := b.Get(1)
	r2, _ := b.Get(2)
	assert.True(t, r1.Processed)
	assert.False(t, r2.Processed)
}

func TestGetAfter(t *testing.T) {
	b := New(100, 1_000_000)
	b.Record(InputState{}, 0)
	b.Record(InputState{}, 16)
	b.Record(InputState{}, 32)

	after := b.GetAfter(1)
	require.Len(t, after, 2)
	assert.Equal(t, uint64(2), after[0].Sequence)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	b := New(100, 1_000_000)
	b.Record(InputState{Forward: true}, 0)
	b.MarkProcessed(1)

	state := b.Snapshot()

	b2 := New(100, 1_000_000)
	b2.Restore(state)

	assert.Equal(t, b.LastProcessedSequence(), b2.LastProcessedSequence())
	assert.Equal(t, b.Count(), b2.Count())
}
