package core

// SignalEmitter abstracts the outbound half of the signaling channel.
// Owned by the adapter; the adapter must Close() it.
// Emission is fire-and-forget: no delivery guarantee exists, silent loss is
// detected by the ringing timeout, never by retrying (a duplicate offer would
// desynchronize both ends).
type SignalEmitter interface {
	Emit(ev Event) error
	Close()
}

// Dispatcher is the single registered sink for inbound signaling events.
type Dispatcher interface {
	Dispatch(ev Event)
}
