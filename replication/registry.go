package replication

import (
	"netherlink/delta"
	"netherlink/inputbuffer"
	"netherlink/transform"
)

// EntityState is one node of the per-entity lifecycle state machine:
// UNKNOWN -> PENDING -> ACTIVE -> STALE -> REMOVED.
type EntityState int

const (
	Unknown EntityState = iota
	Pending
	Active
	Stale
	Removed
)

func (s EntityState) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Stale:
		return "stale"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// EntityRecord is the orchestrator's owned record for one replicated
// entity, carrying the bookkeeping the orchestrator needs to drive
// interpolation, prediction, and delta encoding for it.
type EntityRecord struct {
	ID                string
	OwnerID           *string
	Latest            transform.Transform
	LatestTimestampMs float64
	IsLocalOwned      bool

	State        EntityState
	lastUpdateMs float64

	// Local-owned bookkeeping: inputs feed the predictor/reconciler;
	// lastAcked is the base the outbound delta codec diffs against.
	inputs       *inputbuffer.Buffer
	lastAcked    transform.Transform
	hasLastAcked bool
}

func newEntityRecord(id string, ownerID *string, initial transform.Transform, nowMs float64, localOwned bool, inputCfg inputBufferConfig) *EntityRecord {
	rec := &EntityRecord{
		ID:                id,
		OwnerID:           ownerID,
		Latest:            initial,
		LatestTimestampMs: nowMs,
		IsLocalOwned:      localOwned,
		State:             Active,
		lastUpdateMs:      nowMs,
	}
	if localOwned {
		rec.inputs = inputbuffer.New(inputCfg.maxSize, inputCfg.expirationMs)
	}
	return rec
}

// OutboundDelta computes this entity's delta against the last
// acknowledged state. hasBase is false
// until the first outbound send for this entity is acknowledged, in
// which case the caller should send a full transform instead. lastAcked
// only advances when the orchestrator processes a matching reliable ack
// (see Orchestrator.HandleAck), never merely on send.
func (r *EntityRecord) OutboundDelta(current transform.Transform, threshold float64) (d delta.TransformDelta, hasBase bool) {
	hasBase = r.hasLastAcked
	if hasBase {
		d = delta.Compute(r.lastAcked, current, threshold)
	}
	return d, hasBase
}

// confirmAcked advances the delta base once the reliable channel
// confirms the peer received the update that carried this state.
func (r *EntityRecord) confirmAcked(t transform.Transform) {
	r.lastAcked = t
	r.hasLastAcked = true
}

type inputBufferConfig struct {
	maxSize      int
	expirationMs float64
}
