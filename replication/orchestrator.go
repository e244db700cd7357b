// Package replication implements the replication orchestrator: it owns
// the entity registry and its lifecycle state machine, routes inbound
// packets into the snapshot engine (remote entities) or the
// reconciler/lag compensator (local entities), drives the delta codec
// for outbound updates, and ticks time sync and the reliable channel.
package replication

import (
	"errors"
	"sync"

	"netherlink/clock"
	"netherlink/delta"
	"netherlink/inputbuffer"
	"netherlink/lagcomp"
	"netherlink/logging"
	"netherlink/predict"
	"netherlink/reconcile"
	"netherlink/reliable"
	"netherlink/snapshot"
	"netherlink/statecache"
	"netherlink/timesync"
	"netherlink/transform"
	"netherlink/wire"
)

// ErrUnknownEntity is returned when an operation names an entity that is
// not registered (or has already been removed).
var ErrUnknownEntity = errors.New("replication: unknown entity")

// ErrNotLocalOwned is returned when a local-only operation (recording
// input, integrating prediction, reconciling) targets a remote entity.
var ErrNotLocalOwned = errors.New("replication: entity is not local-owned")

// Config aggregates the tunables for every component the orchestrator
// drives; it is built directly from config.ReplicationConfig by the
// process entry point.
type Config struct {
	Snapshot       snapshot.Config
	InputMaxSize   int
	InputExpireMs  float64
	Reconciliation float64
	LagComp        lagcomp.Config
	DeltaThreshold float64
	DeltaMaxValue  float64
	StateCache     statecache.Config
	TimeSync       timesync.Config
	Reliable       reliable.Config
	PredictSpeed   float64
	PredictYawRate float64
	EntityTTLMs    float64
}

// Orchestrator owns one room's entity registry and every replication
// component that acts on it. It is not safe for concurrent use from
// multiple goroutines without external synchronization beyond its own
// mutex: all mutation is expected to be serialized through a single
// event loop (the transport hub's run() goroutine); the
// mutex here guards against the transport's reader/writer goroutines
// reading registry state directly for diagnostics, not against
// concurrent mutation.
type Orchestrator struct {
	cfg   Config
	clock clock.Clock

	mu       sync.Mutex
	entities map[string]*EntityRecord

	emitter    *Emitter
	snapshots  *snapshot.Engine
	predictor  predict.Predictor
	reconciler *reconcile.Reconciler
	lagcomp    *lagcomp.Compensator
	cache      *statecache.Cache
	timesync   *timesync.Estimator
	reliable   *reliable.Channel

	pendingAcks map[uint64]pendingAck
}

type pendingAck struct {
	entityID  string
	transform transform.Transform
}

func New(cfg Config, c clock.Clock) *Orchestrator {
	if c == nil {
		c = clock.System{}
	}
	return &Orchestrator{
		cfg:         cfg,
		clock:       c,
		entities:    make(map[string]*EntityRecord),
		emitter:     NewEmitter(),
		snapshots:   snapshot.NewEngine(cfg.Snapshot, c),
		predictor:   predict.New(cfg.PredictSpeed, cfg.PredictYawRate),
		reconciler:  reconcile.New(cfg.Reconciliation),
		lagcomp:     lagcomp.New(cfg.LagComp, c),
		cache:       statecache.New(cfg.StateCache),
		timesync:    timesync.New(cfg.TimeSync, c),
		reliable:    reliable.New(cfg.Reliable, c),
		pendingAcks: make(map[uint64]pendingAck),
	}
}

// On registers an event subscriber (see Emitter).
func (o *Orchestrator) On(kind EventKind, fn Subscriber) {
	o.emitter.On(kind, fn)
}

func (o *Orchestrator) inputBufferConfig() inputBufferConfig {
	return inputBufferConfig{maxSize: o.cfg.InputMaxSize, expirationMs: o.cfg.InputExpireMs}
}

// RegisterLocalEntity creates the record for an entity this process
// owns: its Transform is advanced by local input prediction, not by
// inbound snapshots. First registration transitions it directly to
// ACTIVE; local-owned entities never become STALE.
func (o *Orchestrator) RegisterLocalEntity(id, ownerID string, initial transform.Transform) *EntityRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.NowMs()
	rec := newEntityRecord(id, &ownerID, initial, now, true, o.inputBufferConfig())
	o.entities[id] = rec
	o.cache.UpdateState(id, initial, now)
	o.emitter.Emit(Connected, id, rec)
	return rec
}

// RegisterRemoteEntity creates the record for an entity owned elsewhere;
// its Transform is driven by inbound snapshots through the
// interpolation engine.
func (o *Orchestrator) RegisterRemoteEntity(id string, ownerID *string, initial transform.Transform) *EntityRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.registerRemoteLocked(id, ownerID, initial)
}

func (o *Orchestrator) registerRemoteLocked(id string, ownerID *string, initial transform.Transform) *EntityRecord {
	now := o.clock.NowMs()
	rec := newEntityRecord(id, ownerID, initial, now, false, o.inputBufferConfig())
	o.entities[id] = rec
	o.snapshots.AddSnapshot(id, transform.Snapshot{
		Transform:   initial,
		TimestampMs: now,
		Metadata:    transform.Metadata{EntityID: id, Authoritative: true},
	})
	o.emitter.Emit(Connected, id, rec)
	return rec
}

// Entity returns a copy-safe read of entityID's record, or false if it
// is not registered.
func (o *Orchestrator) Entity(id string) (EntityRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.entities[id]
	if !ok {
		return EntityRecord{}, false
	}
	return *rec, true
}

// Entities returns a copy-safe list of every registered entity record,
// for the debug state endpoint and room-state persistence.
func (o *Orchestrator) Entities() []EntityRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]EntityRecord, 0, len(o.entities))
	for _, rec := range o.entities {
		out = append(out, *rec)
	}
	return out
}

// RemoveEntity explicitly destroys an entity: the REMOVED transition,
// regardless of prior state.
func (o *Orchestrator) RemoveEntity(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.entities[id]
	if !ok {
		return
	}
	rec.State = Removed
	delete(o.entities, id)
	o.snapshots.RemoveEntity(id)
	o.emitter.Emit(EntityRemoved, id, nil)
}

// EvictStale marks every non-local-owned ACTIVE entity whose last update
// predates entityTTL as STALE. Local-owned entities are never staled.
func (o *Orchestrator) EvictStale(nowMs float64) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	var staled []string
	for id, rec := range o.entities {
		if rec.IsLocalOwned || rec.State != Active {
			continue
		}
		if nowMs-rec.lastUpdateMs >= o.cfg.EntityTTLMs {
			rec.State = Stale
			staled = append(staled, id)
		}
	}
	for _, id := range staled {
		o.emitter.Emit(EntityUpdated, id, o.entities[id])
	}
	return staled
}

// Update runs the periodic replication-tick housekeeping: evicting
// expired snapshots and staling unresponsive remote entities.
func (o *Orchestrator) Update(nowMs float64) {
	o.snapshots.Update()
	o.EvictStale(nowMs)
}

// --- Local-owned entities: input, prediction, reconciliation ---

// RecordLocalInput buffers an input sample for a local-owned entity.
func (o *Orchestrator) RecordLocalInput(id string, input inputbuffer.InputState, nowMs float64) (inputbuffer.Record, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.entities[id]
	if !ok {
		return inputbuffer.Record{}, ErrUnknownEntity
	}
	if !rec.IsLocalOwned {
		return inputbuffer.Record{}, ErrNotLocalOwned
	}
	return rec.inputs.Record(input, nowMs), nil
}

// IntegrateLocal forward-integrates the most recently recorded input
// over the given timestep, advancing the entity's
// Latest transform and recording it in the state cache for replay.
func (o *Orchestrator) IntegrateLocal(id string, dtSeconds, nowMs float64) (transform.Transform, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.entities[id]
	if !ok {
		return transform.Transform{}, ErrUnknownEntity
	}
	if !rec.IsLocalOwned {
		return transform.Transform{}, ErrNotLocalOwned
	}

	latest, hasInput := rec.inputs.Latest()
	if hasInput {
		rec.Latest = o.predictor.Predict(latest.Input, dtSeconds, rec.Latest)
	}
	rec.LatestTimestampMs = nowMs
	rec.lastUpdateMs = nowMs
	o.cache.UpdateState(id, rec.Latest, nowMs)

	o.emitter.Emit(EntityUpdated, id, rec.Latest)
	return rec.Latest, nil
}

// ApplyAuthoritative handles an authoritative update for a local-owned
// entity: an authoritative serverTransform, tagged with the server's
// lastProcessedInputSequence, is reconciled against the entity's
// unacknowledged input tail; the jump from the previously rendered
// transform to the reconciled result is then handed to the lag
// compensator to smooth instead of snap. The reconciled transform
// becomes the entity's new prediction baseline.
func (o *Orchestrator) ApplyAuthoritative(id string, serverTransform transform.Transform, lastProcessedInputSequence uint64, nowMs float64) (transform.Transform, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.entities[id]
	if !ok {
		return transform.Transform{}, ErrUnknownEntity
	}
	if !rec.IsLocalOwned {
		return transform.Transform{}, ErrNotLocalOwned
	}

	previouslyRendered := o.renderedLocalLocked(rec)

	reconciled, err := o.reconciler.Reconcile(previouslyRendered, serverTransform, lastProcessedInputSequence, rec.inputs, &o.predictor)
	if err != nil {
		logging.Warn("reconciliation unsupported, snapping to server transform", map[string]interface{}{
			"entity_id": id,
		})
		rec.Latest = serverTransform
		rec.LatestTimestampMs = nowMs
		rec.lastUpdateMs = nowMs
		return serverTransform, err
	}

	rec.Latest = reconciled
	rec.LatestTimestampMs = nowMs
	rec.lastUpdateMs = nowMs
	o.cache.UpdateState(id, reconciled, nowMs)

	rendered := o.lagcomp.Apply(id, previouslyRendered, reconciled)
	o.emitter.Emit(EntityUpdated, id, rendered)
	return rendered, nil
}

// RenderedTransform returns the transform to draw for id this frame: for
// a local-owned entity, the in-progress lag-compensated correction (or
// its latest predicted state if none is active); for a remote entity,
// the interpolation engine's render-time lookup at now - interpolation
// delay.
func (o *Orchestrator) RenderedTransform(id string) (transform.Transform, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.entities[id]
	if !ok {
		return transform.Transform{}, ErrUnknownEntity
	}
	if rec.IsLocalOwned {
		return o.renderedLocalLocked(rec), nil
	}

	t, found := o.snapshots.GetInterpolatedTransformDefault(id)
	if !found {
		return rec.Latest, nil
	}
	return t, nil
}

func (o *Orchestrator) renderedLocalLocked(rec *EntityRecord) transform.Transform {
	if t, ok := o.lagcomp.Query(rec.ID); ok {
		return t
	}
	return rec.Latest
}

// --- Remote entities: inbound snapshots ---

// HandleRemoteSnapshot feeds an inbound authoritative transform for a
// remote entity into the interpolation engine, creating the entity
// (ACTIVE) on first sight.
func (o *Orchestrator) HandleRemoteSnapshot(id string, t transform.Transform, nowMs float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.entities[id]
	if !ok {
		rec = o.registerRemoteLocked(id, nil, t)
	}
	if rec.IsLocalOwned {
		return ErrNotLocalOwned
	}

	rec.State = Active
	rec.Latest = t
	rec.LatestTimestampMs = nowMs
	rec.lastUpdateMs = nowMs

	o.snapshots.AddSnapshot(id, transform.Snapshot{
		Transform:   t,
		TimestampMs: nowMs,
		Metadata:    transform.Metadata{EntityID: id, Authoritative: true},
	})
	o.cache.UpdateState(id, t, nowMs)

	o.emitter.Emit(EntityUpdated, id, t)
	return nil
}

// --- Outbound encoding ---

// EncodeOutboundUpdate computes and binary-encodes a delta (or, on the
// first send, a full transform) for an entity against its last
// acknowledged state, frames it as a self-describing ENTITY_UPDATE
// packet, and sequences it through the reliable channel so the caller
// can wrap the returned Message in a reliable envelope and hand it
// straight to the transport.
func (o *Orchestrator) EncodeOutboundUpdate(id string) (reliable.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.entities[id]
	if !ok {
		return reliable.Message{}, ErrUnknownEntity
	}

	threshold := o.cfg.DeltaThreshold
	d, hasBase := rec.OutboundDelta(rec.Latest, threshold)

	var payload []byte
	if hasBase {
		payload = delta.EncodeBinary(d, o.cfg.DeltaMaxValue)
	} else {
		payload = delta.EncodeFull(rec.Latest)
	}

	inner, err := wire.EncodeJSON(wire.EntityUpdate, wire.EntityUpdatePayload{
		EntityID: id,
		Full:     !hasBase,
		Payload:  payload,
	}, o.clock.NowMs())
	if err != nil {
		return reliable.Message{}, err
	}

	msg := o.reliable.Send(inner)
	o.pendingAcks[msg.Sequence] = pendingAck{entityID: id, transform: rec.Latest}

	o.emitter.Emit(NetworkUpdate, id, msg)
	return msg, nil
}

// HandleAck processes a reliable-channel ack, advancing the acked
// entity's delta base (see EntityRecord.confirmAcked) so the next
// EncodeOutboundUpdate diffs against this confirmed state instead of
// whatever was last sent but not yet confirmed.
func (o *Orchestrator) HandleAck(sequence uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.reliable.Ack(sequence)
	pending, ok := o.pendingAcks[sequence]
	if !ok {
		return
	}
	delete(o.pendingAcks, sequence)

	if rec, ok := o.entities[pending.entityID]; ok {
		rec.confirmAcked(pending.transform)
	}
}

// ReceiveReliable routes an inbound reliable message through the
// channel's ordering/dedup logic, returning every message now
// deliverable in sequence order.
func (o *Orchestrator) ReceiveReliable(msg reliable.Message) []reliable.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reliable.Receive(msg)
}

// PendingRetransmits exposes the reliable channel's due-for-retransmit
// set, for the transport binding's periodic reliability tick.
func (o *Orchestrator) PendingRetransmits() []reliable.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reliable.PendingRetransmits()
}

// TimeSync exposes the shared time-sync estimator so the
// transport binding can drive ping/pong directly.
func (o *Orchestrator) TimeSync() *timesync.Estimator {
	return o.timesync
}

// Disconnect emits the Disconnected event for ownerID. It does not
// change or remove the owner's entities (they age out through
// EvictStale like any other stale remote entity, or are removed
// explicitly by the caller).
func (o *Orchestrator) Disconnect(ownerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emitter.Emit(Disconnected, "", ownerID)
}

// ChangeOwner reassigns an entity's owner_id, emitting OwnershipChanged.
func (o *Orchestrator) ChangeOwner(id, newOwnerID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.entities[id]
	if !ok {
		return ErrUnknownEntity
	}
	rec.OwnerID = &newOwnerID
	o.emitter.Emit(OwnershipChanged, id, newOwnerID)
	return nil
}
