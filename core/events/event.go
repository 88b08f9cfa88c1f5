package events

// Event represents a structured state change emitted by the ledger engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (RPC history, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default when a component does not care about event delivery.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
