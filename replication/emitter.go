package replication

// EventKind identifies one of the orchestrator's observable events, a
// closed, typed set rather than a string-keyed registry.
type EventKind int

const (
	Connected EventKind = iota
	Disconnected
	EntityUpdated
	NetworkUpdate
	OwnershipChanged
	EntityRemoved
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case EntityUpdated:
		return "entity_updated"
	case NetworkUpdate:
		return "network_update"
	case OwnershipChanged:
		return "ownership_changed"
	case EntityRemoved:
		return "entity_removed"
	default:
		return "unknown"
	}
}

// Event is one observable occurrence, carrying the affected entity (when
// applicable) and a kind-specific payload.
type Event struct {
	Kind     EventKind
	EntityID string
	Data     interface{}
}

// Subscriber receives Events synchronously on the emitting goroutine —
// all emits happen on the single-threaded event loop, so there is never
// a concurrent emit and no locking is needed here.
type Subscriber func(Event)

// Emitter holds a per-kind subscriber list. Components that need to
// emit hold an *Emitter field.
type Emitter struct {
	subscribers map[EventKind][]Subscriber
}

func NewEmitter() *Emitter {
	return &Emitter{subscribers: make(map[EventKind][]Subscriber)}
}

// On registers fn to be called for every future Emit of kind.
func (e *Emitter) On(kind EventKind, fn Subscriber) {
	e.subscribers[kind] = append(e.subscribers[kind], fn)
}

// Emit runs every subscriber for kind synchronously, in registration
// order.
func (e *Emitter) Emit(kind EventKind, entityID string, data interface{}) {
	for _, fn := range e.subscribers[kind] {
		fn(Event{Kind: kind, EntityID: entityID, Data: data})
	}
}
