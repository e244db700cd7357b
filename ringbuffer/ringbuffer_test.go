package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	rb := New[int](10, nil)
	assert.Equal(t, 16, rb.Capacity())
}

func TestSizeAfterOverwrite(t *testing.T) {
	rb := New[int](4, nil)
	for i := 0; i < 10; i++ {
		rb.Write(i, float64(i))
	}
	assert.Equal(t, 4, rb.Size())

	oldest, ok := rb.ReadNext()
	assert.True(t, ok)
	// After 10 writes into capacity 4, the oldest retrievable write is
	// the (10-4+1)=7th write (0-indexed value 6).
	assert.Equal(t, float64(6), oldest.TimestampMs)
}

func TestPeekDoesNotConsume(t *testing.T) {
	rb := New[int](4, nil)
	rb.Write(1, 1)
	rb.Write(2, 2)

	peeked, ok := rb.Peek(0)
	assert.True(t, ok)
	assert.Equal(t, 1, peeked.Data)

	next, ok := rb.ReadNext()
	assert.True(t, ok)
	assert.Equal(t, 1, next.Data)
}

func TestGetRange(t *testing.T) {
	rb := New[int](8, nil)
	for i := 0; i < 5; i++ {
		rb.Write(i*10, float64(i))
	}
	entries := rb.GetRange(1, 3)
	assert.Len(t, entries, 3)
}

func TestReadAtExactMatch(t *testing.T) {
	rb := New[int](8, nil)
	rb.Write(42, 100)
	e, ok := rb.ReadAt(100, false)
	assert.True(t, ok)
	assert.Equal(t, 42, e.Data)
}

func TestReadAtBlend(t *testing.T) {
	rb := New[float64](8, func(a, b float64, t float64) float64 {
		return a + (b-a)*t
	})
	rb.Write(0, 0)
	rb.Write(10, 10)
	e, ok := rb.ReadAt(5, false)
	assert.True(t, ok)
	assert.InDelta(t, 5.0, e.Data, 1e-9)
}

func TestStatsUtilization(t *testing.T) {
	rb := New[int](4, nil)
	rb.Write(1, 0)
	rb.Write(2, 10)
	assert.InDelta(t, 0.5, rb.Utilization(), 1e-9)

	stats := rb.Stats()
	assert.Equal(t, uint64(2), stats.Writes)
	assert.InDelta(t, 10.0, stats.AvgIntervalMs, 1e-9)
}
