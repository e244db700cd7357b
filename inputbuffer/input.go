// Package inputbuffer implements the monotonic sequence-stamped input ring
// with expiration and a processed-watermark.
package inputbuffer

// DefaultMaxSize is the default input buffer capacity.
const DefaultMaxSize = 100

// DefaultExpirationMs is the default retention horizon.
const DefaultExpirationMs = 5000.0

// minRetainedProcessed is the floor on how many processed entries
// cleanup keeps around.
const minRetainedProcessed = 10

// InputState is a fixed set of movement/action booleans, two look axes,
// and an open extension map for game-specific actions.
type InputState struct {
	Forward, Backward, Left, Right bool
	Jump, Sprint, Crouch           bool
	Primary, Secondary             bool
	LookX, LookY                   float64
	Extensions                     map[string]interface{}
}

// Clone deep-copies the extension map so buffered inputs are immune to
// later caller mutation.
func (s InputState) Clone() InputState {
	clone := s
	if s.Extensions != nil {
		clone.Extensions = make(map[string]interface{}, len(s.Extensions))
		for k, v := range s.Extensions {
			clone.Extensions[k] = v
		}
	}
	return clone
}

// Record is one buffered input with its assigned sequence number.
type Record struct {
	Sequence    uint64
	Input       InputState
	TimestampMs float64
	Processed   bool
}

// Buffer is the per-client input ring: sequences increase strictly
// monotonically and lastProcessedSequence is monotonically non-decreasing.
type Buffer struct {
	maxSize       int
	expirationMs  float64
	nextSequence  uint64
	lastProcessed uint64
	hasProcessed  bool
	records       []Record
}

func New(maxSize int, expirationMs float64) *Buffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if expirationMs <= 0 {
		expirationMs = DefaultExpirationMs
	}
	return &Buffer{maxSize: maxSize, expirationMs: expirationMs, nextSequence: 1}
}

// Record assigns the next sequence number to input, deep-copies it, and
// appends it, then trims to maxSize and evicts anything older than
// ts-expirationMs.
func (b *Buffer) Record(input InputState, ts float64) Record {
	rec := Record{
		Sequence:    b.nextSequence,
		Input:       input.Clone(),
		TimestampMs: ts,
	}
	b.nextSequence++
	b.records = append(b.records, rec)

	if len(b.records) > b.maxSize {
		b.records = b.records[len(b.records)-b.maxSize:]
	}

	cutoff := ts - b.expirationMs
	b.evictOlderThan(cutoff)

	return rec
}

func (b *Buffer) evictOlderThan(cutoff float64) {
	keepFrom := 0
	for keepFrom < len(b.records) && b.records[keepFrom].TimestampMs < cutoff {
		keepFrom++
	}
	if keepFrom > 0 {
		b.records = b.records[keepFrom:]
	}
}

// MarkProcessed advances lastProcessedSequence to max(current, seq),
// marks every record with Sequence<=seq as processed, then runs cleanup
// retaining at least min(10, maxSize/2) processed entries.
func (b *Buffer) MarkProcessed(seq uint64) {
	if !b.hasProcessed || seq > b.lastProcessed {
		b.lastProcessed = seq
		b.hasProcessed = true
	}
	for i := range b.records {
		if b.records[i].Sequence <= seq {
			b.records[i].Processed = true
		}
	}
	b.cleanup()
}

func (b *Buffer) cleanup() {
	retain := minRetainedProcessed
	if half := b.maxSize / 2; half < retain {
		retain = half
	}
	if retain < 0 {
		retain = 0
	}

	processedCount := 0
	for _, r := range b.records {
		if r.Processed {
			processedCount++
		}
	}
	excess := processedCount - retain
	if excess <= 0 {
		return
	}

	var kept []Record
	dropped := 0
	for _, r := range b.records {
		if r.Processed && dropped < excess {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	b.records = kept
}

// LastProcessedSequence returns the current watermark (0 if none yet).
func (b *Buffer) LastProcessedSequence() uint64 {
	return b.lastProcessed
}

// Get returns the record with the given sequence, if still buffered.
func (b *Buffer) Get(seq uint64) (Record, bool) {
	for _, r := range b.records {
		if r.Sequence == seq {
			return r, true
		}
	}
	return Record{}, false
}

// GetAfter returns all buffered records with Sequence > seq, in order.
func (b *Buffer) GetAfter(seq uint64) []Record {
	var out []Record
	for _, r := range b.records {
		if r.Sequence > seq {
			out = append(out, r)
		}
	}
	return out
}

// GetInRange returns buffered records with TimestampMs in [t0, t1].
func (b *Buffer) GetInRange(t0, t1 float64) []Record {
	var out []Record
	for _, r := range b.records {
		if r.TimestampMs >= t0 && r.TimestampMs <= t1 {
			out = append(out, r)
		}
	}
	return out
}

// Latest returns the most recently recorded input, if any.
func (b *Buffer) Latest() (Record, bool) {
	if len(b.records) == 0 {
		return Record{}, false
	}
	return b.records[len(b.records)-1], true
}

// Oldest returns the oldest buffered input, if any.
func (b *Buffer) Oldest() (Record, bool) {
	if len(b.records) == 0 {
		return Record{}, false
	}
	return b.records[0], true
}

// Count returns the number of buffered records.
func (b *Buffer) Count() int {
	return len(b.records)
}

// State is a serializable snapshot of the buffer's entire contents, used
// by Snapshot/Restore.
type State struct {
	NextSequence  uint64
	LastProcessed uint64
	HasProcessed  bool
	Records       []Record
}

// Snapshot captures the buffer's entire state for later restoration.
func (b *Buffer) Snapshot() State {
	recs := make([]Record, len(b.records))
	copy(recs, b.records)
	return State{
		NextSequence:  b.nextSequence,
		LastProcessed: b.lastProcessed,
		HasProcessed:  b.hasProcessed,
		Records:       recs,
	}
}

// Restore replaces the buffer's contents with a previously captured State.
func (b *Buffer) Restore(s State) {
	b.nextSequence = s.NextSequence
	b.lastProcessed = s.LastProcessed
	b.hasProcessed = s.HasProcessed
	b.records = make([]Record, len(s.Records))
	copy(b.records, s.Records)
}
