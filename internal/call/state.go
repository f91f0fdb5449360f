// Package call implements the call-signaling core: per-leg negotiation state
// machines and the coordinators that own them.
package call

// State of one call leg. Moves forward only; terminal states are sticky.
type State string

const (
	StateIdle           State = "idle"
	StateOffering       State = "offering"
	StateAwaitingAnswer State = "awaiting_answer"
	StateOffered        State = "offered"
	StateAnswering      State = "answering"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateEnded          State = "ended"
	StateFailed         State = "failed"
	StateRejected       State = "rejected"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateEnded, StateFailed, StateRejected:
		return true
	}
	return false
}

// Ringing reports whether the ringing timeout applies to this state.
func (s State) Ringing() bool {
	switch s {
	case StateOffering, StateAwaitingAnswer, StateOffered:
		return true
	}
	return false
}
