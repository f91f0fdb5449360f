package call

import (
	"github.com/rs/zerolog/log"

	"github.com/dncdante911/worldmates-calls/internal/core"
)

// Mux is the single registered dispatcher for the signal channel. It routes
// room-scoped events between the 1:1 coordinator and the group coordinator.
type Mux struct {
	Coordinator *Coordinator
	Group       *GroupCoordinator

	// OnGroupIncoming surfaces a group call invitation to presentation.
	OnGroupIncoming func(core.GroupIncomingEvent)
}

func (m *Mux) Dispatch(ev core.Event) {
	if g, ok := ev.(core.GroupIncomingEvent); ok {
		if m.OnGroupIncoming != nil {
			m.OnGroupIncoming(g)
		} else {
			log.Info().Str("module", "call.mux").Str("room", string(g.RoomName)).Msg("group invitation, no listener")
		}
		return
	}
	if m.Group != nil && m.Group.Owns(ev.Room()) {
		m.Group.Dispatch(ev)
		return
	}
	m.Coordinator.Dispatch(ev)
}
