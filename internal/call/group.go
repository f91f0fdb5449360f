package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dncdante911/worldmates-calls/internal/core"
	"github.com/dncdante911/worldmates-calls/internal/domain"
)

var ErrGroupEnded = errors.New("group call already ended")

// GroupCoordinator fans one local call intent out to N participants. Every
// participant gets its own initiator Session (own SDP, own candidates) under
// one shared room id; one failed leg never ends the call for the others.
type GroupCoordinator struct {
	mu   sync.Mutex
	opts Options

	groupID domain.UserID
	room    domain.RoomID
	kind    domain.MediaKind
	legs    map[domain.UserID]*Session
	started bool
	ended   bool
}

func NewGroupCoordinator(opts Options) *GroupCoordinator {
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = 45 * time.Second
	}
	return &GroupCoordinator{opts: opts, legs: make(map[domain.UserID]*Session)}
}

// InitiateGroup announces the group call and opens one leg per participant.
// A participant whose leg fails to open is skipped; the call proceeds with
// the rest.
func (g *GroupCoordinator) InitiateGroup(ctx context.Context, groupID domain.UserID, participants []domain.Peer, kind domain.MediaKind) (domain.RoomID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started && !g.ended {
		return "", core.ErrBusy
	}
	g.groupID = groupID
	g.room = domain.NewRoomID()
	g.kind = kind
	g.legs = make(map[domain.UserID]*Session)
	g.started = true
	g.ended = false

	_ = g.opts.Emitter.Emit(core.GroupInitiateEvent{
		RoomName:    g.room,
		GroupID:     groupID,
		InitiatedBy: g.opts.Self,
		CallType:    kind,
	})
	_ = g.opts.Emitter.Emit(core.JoinRoomEvent{RoomName: g.room, UserID: g.opts.Self})

	for _, p := range participants {
		g.openLeg(ctx, p)
	}
	if len(g.legs) == 0 {
		g.finish()
		return "", errors.New("no group leg could be opened")
	}
	return g.room, nil
}

// OnMemberJoin opens a leg for a participant who joined the running call.
func (g *GroupCoordinator) OnMemberJoin(ctx context.Context, p domain.Peer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started || g.ended {
		return ErrGroupEnded
	}
	if _, ok := g.legs[p.ID]; ok {
		return nil
	}
	g.openLeg(ctx, p)
	return nil
}

// OnMemberLeave tears down one participant's leg without touching the others.
// When the last leg goes, the group call ends.
func (g *GroupCoordinator) OnMemberLeave(id domain.UserID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	leg, ok := g.legs[id]
	if !ok {
		return
	}
	leg.endLocal(domain.ReasonRemoteEnded, false)
	delete(g.legs, id)
	g.reap()
}

// EndGroup terminates every leg and announces the end of the room once.
func (g *GroupCoordinator) EndGroup() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started || g.ended {
		return
	}
	for id, leg := range g.legs {
		leg.endLocal(domain.ReasonHangup, false)
		delete(g.legs, id)
	}
	g.finish()
}

// Owns reports whether room belongs to this group call.
func (g *GroupCoordinator) Owns(room domain.RoomID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started && !g.ended && room == g.room
}

// Active reports whether at least one leg is non-terminal.
func (g *GroupCoordinator) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started && !g.ended && len(g.legs) > 0
}

// LegStates returns a per-participant view for presentation.
func (g *GroupCoordinator) LegStates() map[domain.UserID]State {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[domain.UserID]State, len(g.legs))
	for id, leg := range g.legs {
		out[id] = leg.state
	}
	return out
}

// Dispatch routes inbound events to the matching leg by sender. Events for
// other rooms are dropped.
func (g *GroupCoordinator) Dispatch(ev core.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended || ev.Room() != g.room {
		log.Debug().Str("module", "call.group").Str("event", ev.Name()).Str("room", string(ev.Room())).Msg("dropped")
		return
	}

	switch e := ev.(type) {
	case core.AnswerEvent:
		if leg, ok := g.legs[e.FromUserID]; ok {
			leg.handleAnswer(e)
		}
	case core.CandidateEvent:
		if leg, ok := g.legs[e.FromUserID]; ok {
			leg.handleCandidate(e)
		}
	case core.RejectedEvent:
		if leg, ok := g.legs[e.RejectedBy]; ok {
			leg.handleRejected(e)
			delete(g.legs, e.RejectedBy)
		}
	case core.EndedEvent:
		// A room-level end terminates the whole call.
		for id, leg := range g.legs {
			leg.handleEnded(e)
			delete(g.legs, id)
		}
	case core.ParticipantMediaEvent:
		if g.opts.OnPeerMedia != nil {
			g.opts.OnPeerMedia(e)
		}
	default:
		log.Warn().Str("module", "call.group").Str("event", ev.Name()).Msg("unhandled signal")
	}
	g.reap()
}

func (g *GroupCoordinator) openLeg(ctx context.Context, p domain.Peer) {
	engine, err := g.opts.Engines(string(g.room)+":"+p.ID.String(), g.kind)
	if err != nil {
		log.Error().Str("module", "call.group").Err(err).Int64("peer", int64(p.ID)).Msg("engine for leg")
		return
	}
	leg := newGroupLegSession(g.opts.Self, p, g.kind, g.room, engine, g.opts.Emitter)
	g.wireLeg(leg, engine)

	if err := leg.initiate(ctx); err != nil {
		log.Error().Str("module", "call.group").Err(err).Int64("peer", int64(p.ID)).Msg("leg initiate")
		return
	}
	leg.startRingTimer(g.opts.RingTimeout, func() { g.onLegExpire(p.ID) })
	g.legs[p.ID] = leg
}

func (g *GroupCoordinator) wireLeg(leg *Session, engine core.MediaEngine) {
	engine.OnLocalCandidate(func(ci webrtc.ICECandidateInit) {
		_ = g.opts.Emitter.Emit(core.NewCandidateEvent(leg.room, g.opts.Self, leg.peer.ID, ci))
	})
	engine.OnConnectionState(func(cs core.ConnState) {
		g.onLegConnState(leg.peer.ID, cs)
	})
	engine.OnRemoteTrack(func(track *webrtc.TrackRemote) {
		if g.opts.OnRemoteTrack != nil {
			g.opts.OnRemoteTrack(track)
		}
	})
}

func (g *GroupCoordinator) onLegConnState(id domain.UserID, cs core.ConnState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	leg, ok := g.legs[id]
	if !ok {
		return
	}
	leg.handleConnState(cs)
	g.reap()
}

func (g *GroupCoordinator) onLegExpire(id domain.UserID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	leg, ok := g.legs[id]
	if !ok || !leg.state.Ringing() {
		return
	}
	leg.endLocal(domain.ReasonTimeout, false)
	g.reap()
}

// reap drops terminal legs; the group stays active while any leg survives.
func (g *GroupCoordinator) reap() {
	if g.ended {
		return
	}
	for id, leg := range g.legs {
		if leg.state.Terminal() {
			delete(g.legs, id)
		}
	}
	if g.started && len(g.legs) == 0 {
		g.finish()
	}
}

// finish announces the end of the room once and marks the call ended.
func (g *GroupCoordinator) finish() {
	if g.ended {
		return
	}
	g.ended = true
	_ = g.opts.Emitter.Emit(core.EndEvent{RoomName: g.room, UserID: g.opts.Self, Reason: domain.ReasonHangup})
	_ = g.opts.Emitter.Emit(core.LeaveRoomEvent{RoomName: g.room, UserID: g.opts.Self})
	log.Info().Str("module", "call.group").Str("room", string(g.room)).Msg("group call ended")
}
